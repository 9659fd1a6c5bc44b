package soap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navidrome/upnpcp/internal/model"
	"github.com/navidrome/upnpcp/internal/upnperrors"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func browseService(t *testing.T, controlURL string) *model.Service {
	svc, err := model.ServiceSpec{
		ServiceType: "urn:schemas-upnp-org:service:ContentDirectory:1",
		ServiceID:   "urn:upnp-org:serviceId:ContentDirectory",
		SCPDURL:     mustURL(t, "http://h/cd.xml"),
		ControlURL:  mustURL(t, controlURL),
		EventSubURL: mustURL(t, "http://h/cd/event"),
		StateVariables: []model.StateVariableSpec{
			{Name: "A_ARG_TYPE_ObjectID", DataType: "string"},
			{Name: "A_ARG_TYPE_BrowseFlag", DataType: "string", Default: strPtr("BrowseDirectChildren")},
			{Name: "A_ARG_TYPE_Result", DataType: "string"},
		},
		Actions: []model.ActionSpec{
			{Name: "Browse", Arguments: []model.ArgumentSpec{
				{Name: "ObjectID", Direction: model.DirIn, RelatedStateVariable: "A_ARG_TYPE_ObjectID"},
				{Name: "BrowseFlag", Direction: model.DirIn, RelatedStateVariable: "A_ARG_TYPE_BrowseFlag"},
				{Name: "Result", Direction: model.DirOut, RelatedStateVariable: "A_ARG_TYPE_Result"},
			}},
		},
	}.Build()
	require.NoError(t, err)
	return svc
}

func strPtr(s string) *string { return &s }

// A Browse invocation round-trips and missing IN arguments fall back
// to their state variable's default.
func TestInvoke_SuccessRoundTrip(t *testing.T) {
	var gotBody string
	var gotSoapAction string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotSoapAction = r.Header.Get("SOAPACTION")
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
 <s:Body>
 <u:BrowseResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">
 <Result>&lt;DIDL-Lite/&gt;</Result>
 <NumberReturned>0</NumberReturned>
 </u:BrowseResponse>
 </s:Body>
</s:Envelope>`))
	}))
	defer srv.Close()

	svc := browseService(t, srv.URL+"/control")
	action, ok := svc.FindAction("Browse")
	require.True(t, ok)

	inv := NewInvoker(srv.Client(), "test-agent/1.0")
	result, err := inv.Invoke(context.Background(), svc, action, map[string]string{"ObjectID": "0"}, false)
	require.NoError(t, err)

	assert.Equal(t, "<DIDL-Lite/>", result["Result"])
	assert.Equal(t, "0", result["NumberReturned"])
	assert.Equal(t, `"urn:schemas-upnp-org:service:ContentDirectory:1#Browse"`, gotSoapAction)
	assert.Contains(t, gotBody, "<ObjectID>0</ObjectID>")
	assert.Contains(t, gotBody, "<BrowseFlag>BrowseDirectChildren</BrowseFlag>")
}

func TestInvoke_SoapFault_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
 <s:Body>
 <s:Fault>
 <faultcode>s:Client</faultcode>
 <faultstring>UPnPError</faultstring>
 <detail>
 <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
 <errorCode>402</errorCode>
 <errorDescription>Invalid Args</errorDescription>
 </UPnPError>
 </detail>
 </s:Fault>
 </s:Body>
</s:Envelope>`))
	}))
	defer srv.Close()

	svc := browseService(t, srv.URL+"/control")
	action, _ := svc.FindAction("Browse")
	inv := NewInvoker(srv.Client(), "test-agent/1.0")

	_, err := inv.Invoke(context.Background(), svc, action, map[string]string{"ObjectID": "0"}, false)
	require.Error(t, err)
	var fault *upnperrors.SoapFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "402", fault.Detail["UPnPError/errorCode"])
	require.NotNil(t, fault.UPnPError)
	assert.Equal(t, 402, fault.UPnPError.Code)
	assert.Equal(t, "Invalid Args", fault.UPnPError.Description)
}

func TestInvoke_SoapFault_ReturnErrorResponseMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
 <s:Body>
 <s:Fault>
 <faultcode>s:Client</faultcode>
 <faultstring>UPnPError</faultstring>
 <detail>
 <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
 <errorCode>720</errorCode>
 <errorDescription>Unknown</errorDescription>
 </UPnPError>
 </detail>
 </s:Fault>
 </s:Body>
</s:Envelope>`))
	}))
	defer srv.Close()

	svc := browseService(t, srv.URL+"/control")
	action, _ := svc.FindAction("Browse")
	inv := NewInvoker(srv.Client(), "test-agent/1.0")

	result, err := inv.Invoke(context.Background(), svc, action, map[string]string{"ObjectID": "0"}, true)
	require.NoError(t, err)
	assert.Equal(t, "720", result["UPnPError/errorCode"])
}
