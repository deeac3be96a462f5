package rca

import (
	"errors"
	"testing"

	"github.com/topasig/PolicyBroker/internal/provider"
)

const envelopeOpen = `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>`
const envelopeClose = `</s:Body></s:Envelope>`

func TestNormalizeStructuredSuccess(t *testing.T) {
	body := envelopeOpen + `<SaveRcaDocumentResponse xmlns="http://tempuri.org/"><SaveRcaDocumentResult>` +
		`<IsSuccess>true</IsSuccess><ErrorMessage/><Response><Id>DOC-1</Id></Response>` +
		`</SaveRcaDocumentResult></SaveRcaDocumentResponse>` + envelopeClose

	out := NormalizeSaveResponse(200, []byte(body), nil)
	if out.Kind != provider.Success || out.DocumentID != "DOC-1" {
		t.Fatalf("expected success DOC-1, got %+v", out)
	}
}

func TestNormalizeStructuredRejectionKeepsItemizedErrors(t *testing.T) {
	body := envelopeOpen + `<SaveGreenCardDocumentResponse xmlns="http://tempuri.org/"><SaveGreenCardDocumentResult>` +
		`<IsSuccess>false</IsSuccess><ErrorMessage>Validation failed</ErrorMessage>` +
		`<Errors><string>StartDate is invalid</string><string>Vehicle not found</string></Errors>` +
		`</SaveGreenCardDocumentResult></SaveGreenCardDocumentResponse>` + envelopeClose

	out := NormalizeSaveResponse(200, []byte(body), nil)
	if out.Kind != provider.BusinessRejected {
		t.Fatalf("expected rejection, got %s", out.Kind)
	}
	if out.Message != "Validation failed" {
		t.Fatalf("unexpected message %q", out.Message)
	}
	if len(out.Errors) != 2 || out.Errors[1] != "Vehicle not found" {
		t.Fatalf("unexpected errors %v", out.Errors)
	}
}

func TestNormalizeRawBodyWithIDTag(t *testing.T) {
	out := NormalizeSaveResponse(200, []byte(`<a:Result xmlns:a="urn:x"><a:Id> DOC-9 </a:Id></a:Result>`), nil)
	if out.Kind != provider.Success || out.DocumentID != "DOC-9" {
		t.Fatalf("expected scanned success DOC-9, got %+v", out)
	}
}

func TestNormalizeClientFaultIsBusinessRejection(t *testing.T) {
	body := envelopeOpen + `<s:Fault><faultcode>s:Client</faultcode><faultstring>Invalid IDNX</faultstring></s:Fault>` + envelopeClose
	out := NormalizeSaveResponse(500, []byte(body), nil)
	if out.Kind != provider.BusinessRejected || out.Message != "Invalid IDNX" {
		t.Fatalf("expected client fault rejection, got %+v", out)
	}
}

func TestNormalizeServerFaultIsTransportFailure(t *testing.T) {
	body := envelopeOpen + `<s:Fault><faultcode>s:Server</faultcode><faultstring>Object reference not set</faultstring></s:Fault>` + envelopeClose
	out := NormalizeSaveResponse(500, []byte(body), nil)
	if out.Kind != provider.TransportFailed {
		t.Fatalf("expected transport failure, got %+v", out)
	}
	var te *provider.TransportError
	if !errors.As(out.Err(ProviderName, "save"), &te) || te.StatusCode != 500 {
		t.Fatalf("expected transport error with status 500, got %v", out.Err(ProviderName, "save"))
	}
}

func TestNormalizeNon2xxWithoutFault(t *testing.T) {
	out := NormalizeSaveResponse(502, []byte(`<html>Bad Gateway</html>`), nil)
	if out.Kind != provider.TransportFailed {
		t.Fatalf("expected transport failure, got %s", out.Kind)
	}
}

func TestNormalizeMalformedBody(t *testing.T) {
	out := NormalizeSaveResponse(200, []byte(`OK`), nil)
	if out.Kind != provider.TransportFailed {
		t.Fatalf("expected transport failure, got %s", out.Kind)
	}
	if !errors.Is(out.Err(ProviderName, "save"), provider.ErrMalformedResponse) {
		t.Fatalf("expected malformed response error, got %v", out.Err(ProviderName, "save"))
	}
}

func TestNormalizeTransportError(t *testing.T) {
	out := NormalizeSaveResponse(0, nil, errors.New("connection refused"))
	if out.Kind != provider.TransportFailed {
		t.Fatalf("expected transport failure, got %s", out.Kind)
	}
}
