package description

import "encoding/xml"

// xmlRoot mirrors the device description document, in the struct-tag
// style used by navidrome's DeviceDescription type (server/dlna/
// device.go) — but for parsing rather than emitting.
type xmlRoot struct {
	XMLName xml.Name  `xml:"root"`
	URLBase string    `xml:"URLBase"`
	Device  xmlDevice `xml:"device"`
}

type xmlDevice struct {
	DeviceType   string         `xml:"deviceType"`
	FriendlyName string         `xml:"friendlyName"`
	Manufacturer string         `xml:"manufacturer"`
	ModelName    string         `xml:"modelName"`
	UDN          string         `xml:"UDN"`
	ServiceList  xmlServiceList `xml:"serviceList"`
	DeviceList   xmlDeviceList  `xml:"deviceList"`
}

type xmlServiceList struct {
	Services []xmlService `xml:"service"`
}

type xmlDeviceList struct {
	Devices []xmlDevice `xml:"device"`
}

type xmlService struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	SCPDURL     string `xml:"SCPDURL"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

// xmlSCPD mirrors a service control protocol description document.
type xmlSCPD struct {
	XMLName           xml.Name             `xml:"scpd"`
	ActionList        xmlActionList        `xml:"actionList"`
	ServiceStateTable xmlServiceStateTable `xml:"serviceStateTable"`
}

type xmlActionList struct {
	Actions []xmlAction `xml:"action"`
}

type xmlAction struct {
	Name         string          `xml:"name"`
	ArgumentList xmlArgumentList `xml:"argumentList"`
}

type xmlArgumentList struct {
	Arguments []xmlArgument `xml:"argument"`
}

type xmlArgument struct {
	Name                 string `xml:"name"`
	Direction            string `xml:"direction"`
	RelatedStateVariable string `xml:"relatedStateVariable"`
}

type xmlServiceStateTable struct {
	StateVariables []xmlStateVariable `xml:"stateVariable"`
}

type xmlStateVariable struct {
	SendEvents        string            `xml:"sendEvents,attr"`
	Name              string            `xml:"name"`
	DataType          string            `xml:"dataType"`
	DefaultValue      *string           `xml:"defaultValue"`
	AllowedValueList  *xmlAllowedValues `xml:"allowedValueList"`
	AllowedValueRange *xmlAllowedRange  `xml:"allowedValueRange"`
}

type xmlAllowedValues struct {
	Values []string `xml:"allowedValue"`
}

type xmlAllowedRange struct {
	Minimum *string `xml:"minimum"`
	Maximum *string `xml:"maximum"`
	Step    *string `xml:"step"`
}
