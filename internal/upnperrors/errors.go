// Package upnperrors defines the error kinds surfaced by the control
// point: TransportError, MalformedMessage, ProtocolError, SoapFault,
// and BuildError. Callers switch on kind via errors.As.
// TransportError and MalformedMessage also wrap an underlying cause,
// reachable via errors.Unwrap; ProtocolError, SoapFault and BuildError
// carry no wrapped cause.
package upnperrors

import "fmt"

// TransportError wraps a socket or HTTP-layer failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// MalformedMessage signals bad HTTP or XML framing.
type MalformedMessage struct {
	Reason string
	Err    error
}

func (e *MalformedMessage) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed message: %s", e.Reason)
}
func (e *MalformedMessage) Unwrap() error { return e.Err }

// ProtocolError signals a missing required UPnP header/tag, or a
// mismatched SID on renewal.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error: %s", e.Reason) }

// UPnPError is the typed <detail>/<UPnPError> payload of a SOAP fault.
type UPnPError struct {
	Code        int
	Description string
}

// SoapFault represents a SOAP <Fault> response. FaultCode and
// FaultString come from the envelope; Detail holds every
// "UPnPError/<childLocalName>" pair collected from <detail>/<UPnPError>,
// and UPnPError carries the parsed errorCode/errorDescription pair when
// the code is a well-formed integer.
type SoapFault struct {
	FaultCode   string
	FaultString string
	UPnPError   *UPnPError
	Detail      map[string]string
}

func (e *SoapFault) Error() string {
	return fmt.Sprintf("soap fault: %s: %s", e.FaultCode, e.FaultString)
}

// BuildError signals a description that is missing a required field or
// an Argument referencing an unresolved StateVariable.
type BuildError struct {
	Entity string
	Reason string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build error: %s: %s", e.Entity, e.Reason)
}
