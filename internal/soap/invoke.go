// Package soap invokes UPnP actions over HTTP, grounded on navidrome's
// AVTransport controller (server/sonos_cast/avtransport.go),
// generalized from a fixed set of typed actions to any action declared
// in a fetched service description.
package soap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/navidrome/upnpcp/internal/model"
	"github.com/navidrome/upnpcp/internal/upnperrors"
)

// Invoker sends SOAP action requests to a service's control URL.
type Invoker struct {
	Client    *http.Client
	UserAgent string
}

// NewInvoker builds an Invoker using client for every action POST.
func NewInvoker(client *http.Client, userAgent string) *Invoker {
	return &Invoker{Client: client, UserAgent: userAgent}
}

// Invoke calls action on svc with the given IN-argument values.
// Missing arguments fall back to their related state variable's
// default, then to the empty string. When returnErrorResponse is
// true, a SOAP fault is returned as a result map (under
// "faultcode"/"faultstring"/"UPnPError/...") instead of an error; when
// false (the default control-point behavior) a fault surfaces as a
// *upnperrors.SoapFault.
func (inv *Invoker) Invoke(ctx context.Context, svc *model.Service, action *model.Action, args map[string]string, returnErrorResponse bool) (map[string]string, error) {
	inArgs := action.InArguments()
	values := make([]namedValue, 0, len(inArgs))
	for _, arg := range inArgs {
		v, ok := args[arg.Name]
		if !ok {
			if arg.RelatedStateVariable != nil && arg.RelatedStateVariable.Default != nil {
				v = *arg.RelatedStateVariable.Default
			}
		}
		values = append(values, namedValue{Name: arg.Name, Value: v})
	}

	body := buildEnvelope(svc.ServiceType, action.Name, values)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.ControlURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf("%q", svc.ServiceType+"#"+action.Name))
	req.Header.Set("Connection", "close")
	if inv.UserAgent != "" {
		req.Header.Set("USER-AGENT", inv.UserAgent)
	}

	resp, err := inv.Client.Do(req)
	if err != nil {
		return nil, &upnperrors.TransportError{Op: "POST " + svc.ControlURL.String(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &upnperrors.TransportError{Op: "read SOAP response", Err: err}
	}

	parsed, err := parseSOAPResponse(respBody)
	if err != nil {
		return nil, &upnperrors.MalformedMessage{Reason: "SOAP response", Err: err}
	}

	if parsed.Fault != nil {
		detail := parsed.Fault.Detail
		fault := &upnperrors.SoapFault{
			FaultCode:   parsed.Fault.FaultCode,
			FaultString: parsed.Fault.FaultString,
			Detail:      detail,
		}
		if code, convErr := strconv.Atoi(parsed.Fault.ErrorCode); convErr == nil {
			fault.UPnPError = &upnperrors.UPnPError{Code: code, Description: parsed.Fault.ErrorDesc}
		}
		if returnErrorResponse {
			out := map[string]string{"faultcode": fault.FaultCode, "faultstring": fault.FaultString}
			for k, v := range detail {
				out[k] = v
			}
			return out, nil
		}
		if resp.StatusCode != http.StatusInternalServerError {
			return nil, &upnperrors.ProtocolError{Reason: fmt.Sprintf("SOAP fault on non-500 status %d", resp.StatusCode)}
		}
		return nil, fault
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &upnperrors.ProtocolError{Reason: fmt.Sprintf("unexpected SOAP status %d", resp.StatusCode)}
	}

	return parsed.Values, nil
}
