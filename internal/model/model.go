// Package model defines the immutable entity graph: Device, Service,
// Action, Argument, StateVariable. Each entity is assembled through a
// builder-style Spec struct, matching navidrome's Builder pattern for
// its description-document types (see server/dlna/device.go) —
// construction-time validation, immutable result.
package model

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/navidrome/upnpcp/internal/upnperrors"
)

// Direction is an Argument's declared direction.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// StateVariable is owned by a Service; immutable after parse.
type StateVariable struct {
	Name          string
	DataType      string
	SendEvents    bool
	Default       *string
	AllowedValues []string
	Minimum       *string
	Maximum       *string
	Step          *string
}

// StateVariableSpec is the construction-time config for a StateVariable.
type StateVariableSpec struct {
	Name          string
	DataType      string
	SendEvents    bool
	Default       *string
	AllowedValues []string
	Minimum       *string
	Maximum       *string
	Step          *string
}

// Build validates and returns the immutable StateVariable.
func (s StateVariableSpec) Build() (*StateVariable, error) {
	if s.Name == "" {
		return nil, &upnperrors.BuildError{Entity: "StateVariable", Reason: "missing name"}
	}
	return &StateVariable{
		Name:          s.Name,
		DataType:      s.DataType,
		SendEvents:    s.SendEvents,
		Default:       s.Default,
		AllowedValues: s.AllowedValues,
		Minimum:       s.Minimum,
		Maximum:       s.Maximum,
		Step:          s.Step,
	}, nil
}

// Argument is owned by an Action; holds a non-owning reference to a
// sibling StateVariable.
type Argument struct {
	Name                 string
	Direction            Direction
	RelatedStateVariable *StateVariable
}

// ArgumentSpec is the construction-time config for an Argument. The
// RelatedStateVariable name is resolved against the owning Service's
// state variables at build time.
type ArgumentSpec struct {
	Name                 string
	Direction            Direction
	RelatedStateVariable string
}

// Action is owned by a Service; immutable after parse.
type Action struct {
	Name      string
	Arguments []*Argument
}

// ActionSpec is the construction-time config for an Action.
type ActionSpec struct {
	Name      string
	Arguments []ArgumentSpec
}

func (a ActionSpec) build(stateVars map[string]*StateVariable) (*Action, error) {
	if a.Name == "" {
		return nil, &upnperrors.BuildError{Entity: "Action", Reason: "missing name"}
	}
	args := make([]*Argument, 0, len(a.Arguments))
	for _, as := range a.Arguments {
		if as.Name == "" {
			return nil, &upnperrors.BuildError{Entity: fmt.Sprintf("Action %s", a.Name), Reason: "argument missing name"}
		}
		sv, ok := stateVars[as.RelatedStateVariable]
		if !ok {
			return nil, &upnperrors.BuildError{
				Entity: fmt.Sprintf("Action %s, Argument %s", a.Name, as.Name),
				Reason: fmt.Sprintf("relatedStateVariable %q not found in service", as.RelatedStateVariable),
			}
		}
		args = append(args, &Argument{Name: as.Name, Direction: as.Direction, RelatedStateVariable: sv})
	}
	return &Action{Name: a.Name, Arguments: args}, nil
}

// InArguments returns this Action's IN-direction arguments, in
// declared order.
func (a *Action) InArguments() []*Argument {
	out := make([]*Argument, 0, len(a.Arguments))
	for _, arg := range a.Arguments {
		if arg.Direction == DirIn {
			out = append(out, arg)
		}
	}
	return out
}

// Subscription is a Service's current GENA subscription state, or the
// zero value when unsubscribed.
type Subscription struct {
	SID               string
	SubscriptionStart time.Time
	TimeoutMs         int64 // -1 means "infinite"
}

// Subscribed reports whether a non-empty subscription is active.
func (s Subscription) Subscribed() bool { return s.SID != "" }

// Service is owned by a Device.
type Service struct {
	ServiceType string
	ServiceID   string
	SCPDURL     *url.URL
	ControlURL  *url.URL
	EventSubURL *url.URL

	actions        map[string]*Action
	actionOrder    []string
	stateVariables map[string]*StateVariable

	mu  sync.Mutex
	sub Subscription
}

// ServiceSpec is the construction-time config for a Service.
type ServiceSpec struct {
	ServiceType string
	ServiceID   string
	SCPDURL     *url.URL
	ControlURL  *url.URL
	EventSubURL *url.URL

	StateVariables []StateVariableSpec
	Actions        []ActionSpec
}

// Build validates required fields (serviceType, serviceId, SCPDURL,
// controlURL, eventSubURL are all required) and resolves every
// Argument's relatedStateVariable.
func (s ServiceSpec) Build() (*Service, error) {
	switch {
	case s.ServiceType == "":
		return nil, &upnperrors.BuildError{Entity: "Service", Reason: "missing serviceType"}
	case s.ServiceID == "":
		return nil, &upnperrors.BuildError{Entity: "Service", Reason: "missing serviceId"}
	case s.SCPDURL == nil:
		return nil, &upnperrors.BuildError{Entity: "Service", Reason: "missing SCPDURL"}
	case s.ControlURL == nil:
		return nil, &upnperrors.BuildError{Entity: "Service", Reason: "missing controlURL"}
	case s.EventSubURL == nil:
		return nil, &upnperrors.BuildError{Entity: "Service", Reason: "missing eventSubURL"}
	}

	stateVars := make(map[string]*StateVariable, len(s.StateVariables))
	for _, svs := range s.StateVariables {
		sv, err := svs.Build()
		if err != nil {
			return nil, err
		}
		stateVars[sv.Name] = sv
	}

	actions := make(map[string]*Action, len(s.Actions))
	order := make([]string, 0, len(s.Actions))
	for _, as := range s.Actions {
		act, err := as.build(stateVars)
		if err != nil {
			return nil, err
		}
		actions[act.Name] = act
		order = append(order, act.Name)
	}

	return &Service{
		ServiceType:    s.ServiceType,
		ServiceID:      s.ServiceID,
		SCPDURL:        s.SCPDURL,
		ControlURL:     s.ControlURL,
		EventSubURL:    s.EventSubURL,
		actions:        actions,
		actionOrder:    order,
		stateVariables: stateVars,
	}, nil
}

// FindAction looks up an Action by name.
func (s *Service) FindAction(name string) (*Action, bool) {
	a, ok := s.actions[name]
	return a, ok
}

// Actions returns the Service's actions in declaration order.
func (s *Service) Actions() []*Action {
	out := make([]*Action, 0, len(s.actionOrder))
	for _, name := range s.actionOrder {
		out = append(out, s.actions[name])
	}
	return out
}

// StateVariables returns the Service's state variable map; callers
// must not mutate it.
func (s *Service) StateVariables() map[string]*StateVariable { return s.stateVariables }

// Subscription returns a snapshot of the current subscription state.
func (s *Service) Subscription() Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

// SetSubscription installs a new subscription state (called by the
// subscribe manager under its own lock).
func (s *Service) SetSubscription(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub = sub
}

// ClearSubscription unconditionally clears any subscription state.
func (s *Service) ClearSubscription() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub = Subscription{}
}

// Device is identified by UDN; owns its Services and any embedded
// Devices. Its graph is immutable after Build; only the expiry
// timestamp changes afterwards, through Refresh, guarded by the
// Device's own mutex. The SSDP message that last refreshed it is not
// retained.
type Device struct {
	UDN          string
	Location     *url.URL
	URLBase      *url.URL
	FriendlyName string
	Manufacturer string
	ModelName    string
	DeviceType   string

	Services        []*Service
	EmbeddedDevices []*Device

	mu        sync.Mutex
	expiresAt time.Time
}

// DeviceSpec is the construction-time config for a Device.
type DeviceSpec struct {
	UDN          string
	Location     *url.URL
	URLBase      *url.URL
	FriendlyName string
	Manufacturer string
	ModelName    string
	DeviceType   string

	Services        []ServiceSpec
	EmbeddedDevices []DeviceSpec
}

// Build validates required fields and recursively builds embedded
// devices.
func (d DeviceSpec) Build() (*Device, error) {
	if d.UDN == "" {
		return nil, &upnperrors.BuildError{Entity: "Device", Reason: "missing UDN"}
	}
	services := make([]*Service, 0, len(d.Services))
	for _, ss := range d.Services {
		svc, err := ss.Build()
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	embedded := make([]*Device, 0, len(d.EmbeddedDevices))
	for _, es := range d.EmbeddedDevices {
		dev, err := es.Build()
		if err != nil {
			return nil, err
		}
		embedded = append(embedded, dev)
	}
	return &Device{
		UDN:             d.UDN,
		Location:        d.Location,
		URLBase:         d.URLBase,
		FriendlyName:    d.FriendlyName,
		Manufacturer:    d.Manufacturer,
		ModelName:       d.ModelName,
		DeviceType:      d.DeviceType,
		Services:        services,
		EmbeddedDevices: embedded,
	}, nil
}

// Refresh records a new receipt time and max-age, advancing ExpiresAt.
// The expiry is monotonically non-decreasing per refresh.
func (d *Device) Refresh(receivedAt time.Time, maxAgeSeconds int) {
	next := receivedAt.Add(time.Duration(maxAgeSeconds) * time.Second)
	d.mu.Lock()
	defer d.mu.Unlock()
	if next.After(d.expiresAt) {
		d.expiresAt = next
	}
}

// ExpiresAt returns the device's current expiry timestamp.
func (d *Device) ExpiresAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expiresAt
}

// Expired reports whether now is at or past ExpiresAt.
func (d *Device) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt())
}

// FindService looks up a Service by serviceId.
func (d *Device) FindService(id string) (*Service, bool) {
	for _, s := range d.Services {
		if s.ServiceID == id {
			return s, true
		}
	}
	return nil, false
}

// FindServiceByType looks up the first Service with the given
// serviceType.
func (d *Device) FindServiceByType(serviceType string) (*Service, bool) {
	for _, s := range d.Services {
		if s.ServiceType == serviceType {
			return s, true
		}
	}
	return nil, false
}
