package soap

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

const (
	envelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	encodingNS = "http://schemas.xmlsoap.org/soap/encoding/"
)

// buildEnvelope assembles the SOAP request body for one action
// invocation: no XML declaration, UTF-8, argument order matching the
// action's declared IN arguments.
func buildEnvelope(serviceType, actionName string, args []namedValue) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<s:Envelope xmlns:s=%q s:encodingStyle=%q><s:Body><u:%s xmlns:u=%q>`,
		envelopeNS, encodingNS, actionName, serviceType)
	for _, a := range args {
		buf.WriteByte('<')
		buf.WriteString(a.Name)
		buf.WriteByte('>')
		xml.EscapeText(&buf, []byte(a.Value))
		buf.WriteString("</")
		buf.WriteString(a.Name)
		buf.WriteByte('>')
	}
	fmt.Fprintf(&buf, `</u:%s></s:Body></s:Envelope>`, actionName)
	return buf.Bytes()
}

type namedValue struct {
	Name  string
	Value string
}

// parsedResponse is the outcome of decoding a SOAP response body: on
// success Values/Order hold every child of the action response
// element (including fields the service description doesn't declare);
// on a SOAP fault Fault is set instead.
type parsedResponse struct {
	Values map[string]string
	Order  []string
	Fault  *faultDetail
}

type faultDetail struct {
	FaultCode   string
	FaultString string
	ErrorCode   string
	ErrorDesc   string
	Detail      map[string]string
}

// parseSOAPResponse walks the generic SOAP envelope structure without
// assuming any particular response schema, since action outputs vary
// per service and per action.
func parseSOAPResponse(body []byte) (*parsedResponse, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	// Find <Body>, regardless of namespace prefix used on the wire.
	if err := seekElement(dec, "Body"); err != nil {
		return nil, err
	}
	// The single child of Body is either the action response or Fault.
	tok, err := nextStartElement(dec)
	if err != nil {
		return nil, err
	}

	if tok.Name.Local == "Fault" {
		return parseFault(dec)
	}
	return parseActionResponse(dec)
}

func parseActionResponse(dec *xml.Decoder) (*parsedResponse, error) {
	out := &parsedResponse{Values: map[string]string{}}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			var text string
			if err := dec.DecodeElement(&text, &t); err != nil {
				return nil, err
			}
			out.Values[name] = text
			out.Order = append(out.Order, name)
		case xml.EndElement:
			return out, nil
		}
	}
}

// parseFault walks <s:Fault>'s children. faultcode/faultstring are
// read directly; detail/UPnPError's children are emitted as
// "UPnPError/<childLocalName>". A fault whose detail carries no
// UPnPError/errorCode is malformed and fails.
func parseFault(dec *xml.Decoder) (*parsedResponse, error) {
	fault := &faultDetail{Detail: map[string]string{}}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "faultcode":
				dec.DecodeElement(&fault.FaultCode, &t)
			case "faultstring":
				dec.DecodeElement(&fault.FaultString, &t)
			case "detail":
				if err := parseFaultDetail(dec, fault); err != nil {
					return nil, err
				}
			default:
				depth++
			}
		case xml.EndElement:
			depth--
		}
	}
	if fault.ErrorCode == "" {
		return nil, fmt.Errorf("soap fault missing UPnPError/errorCode")
	}
	fault.Detail["UPnPError/errorCode"] = fault.ErrorCode
	if fault.ErrorDesc != "" {
		fault.Detail["UPnPError/errorDescription"] = fault.ErrorDesc
	}
	return &parsedResponse{Fault: fault}, nil
}

// parseFaultDetail consumes a <detail> element, descending into its
// <UPnPError> child (any namespace, matched by local name) and
// recording each of ITS children as "UPnPError/<name>" -> text.
func parseFaultDetail(dec *xml.Decoder, fault *faultDetail) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "UPnPError" {
				if err := parseUPnPError(dec, fault); err != nil {
					return err
				}
			} else {
				depth++
			}
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

func parseUPnPError(dec *xml.Decoder, fault *faultDetail) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var text string
			if err := dec.DecodeElement(&text, &t); err != nil {
				return err
			}
			fault.Detail["UPnPError/"+t.Name.Local] = text
			switch t.Name.Local {
			case "errorCode":
				fault.ErrorCode = text
			case "errorDescription":
				fault.ErrorDesc = text
			}
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

func seekElement(dec *xml.Decoder, localName string) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == localName {
			return nil
		}
	}
}

func nextStartElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}
