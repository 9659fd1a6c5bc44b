package description

import (
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/navidrome/upnpcp/internal/model"
)

func resolveRef(base *url.URL, ref string) (*url.URL, error) {
	ref = strings.TrimSpace(ref)
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(u), nil
}

func buildStateVariableSpecs(table xmlServiceStateTable) []model.StateVariableSpec {
	specs := make([]model.StateVariableSpec, 0, len(table.StateVariables))
	for _, sv := range table.StateVariables {
		spec := model.StateVariableSpec{
			Name:       sv.Name,
			DataType:   sv.DataType,
			SendEvents: strings.EqualFold(sv.SendEvents, "yes"),
			Default:    sv.DefaultValue,
		}
		if sv.AllowedValueList != nil {
			spec.AllowedValues = sv.AllowedValueList.Values
		}
		if sv.AllowedValueRange != nil {
			spec.Minimum = sv.AllowedValueRange.Minimum
			spec.Maximum = sv.AllowedValueRange.Maximum
			spec.Step = sv.AllowedValueRange.Step
		}
		specs = append(specs, spec)
	}
	return specs
}

func buildActionSpecs(list xmlActionList) []model.ActionSpec {
	specs := make([]model.ActionSpec, 0, len(list.Actions))
	for _, a := range list.Actions {
		args := make([]model.ArgumentSpec, 0, len(a.ArgumentList.Arguments))
		for _, arg := range a.ArgumentList.Arguments {
			dir := model.DirIn
			if strings.EqualFold(arg.Direction, "out") {
				dir = model.DirOut
			}
			args = append(args, model.ArgumentSpec{
				Name:                 arg.Name,
				Direction:            dir,
				RelatedStateVariable: arg.RelatedStateVariable,
			})
		}
		specs = append(specs, model.ActionSpec{Name: a.Name, Arguments: args})
	}
	return specs
}

func buildDeviceSpec(d xmlDevice, urlBase *url.URL, location *url.URL, fetchSCPD func(u *url.URL) (xmlSCPD, error)) (model.DeviceSpec, error) {
	services := make([]model.ServiceSpec, 0, len(d.ServiceList.Services))
	for _, s := range d.ServiceList.Services {
		scpdURL, err := resolveRef(urlBase, s.SCPDURL)
		if err != nil {
			return model.DeviceSpec{}, err
		}
		controlURL, err := resolveRef(urlBase, s.ControlURL)
		if err != nil {
			return model.DeviceSpec{}, err
		}
		eventSubURL, err := resolveRef(urlBase, s.EventSubURL)
		if err != nil {
			return model.DeviceSpec{}, err
		}

		scpd, err := fetchSCPD(scpdURL)
		if err != nil {
			return model.DeviceSpec{}, err
		}

		services = append(services, model.ServiceSpec{
			ServiceType:    s.ServiceType,
			ServiceID:      s.ServiceID,
			SCPDURL:        scpdURL,
			ControlURL:     controlURL,
			EventSubURL:    eventSubURL,
			StateVariables: buildStateVariableSpecs(scpd.ServiceStateTable),
			Actions:        buildActionSpecs(scpd.ActionList),
		})
	}

	embedded := make([]model.DeviceSpec, 0, len(d.DeviceList.Devices))
	for _, ed := range d.DeviceList.Devices {
		spec, err := buildDeviceSpec(ed, urlBase, location, fetchSCPD)
		if err != nil {
			return model.DeviceSpec{}, err
		}
		embedded = append(embedded, spec)
	}

	// Some devices in the wild ship descriptions without a UDN; mint
	// one so the device is still addressable in the table.
	udn := strings.TrimSpace(d.UDN)
	if udn == "" {
		udn = "uuid:" + uuid.NewString()
	}

	return model.DeviceSpec{
		UDN:             udn,
		Location:        location,
		URLBase:         urlBase,
		FriendlyName:    d.FriendlyName,
		Manufacturer:    d.Manufacturer,
		ModelName:       d.ModelName,
		DeviceType:      d.DeviceType,
		Services:        services,
		EmbeddedDevices: embedded,
	}, nil
}
