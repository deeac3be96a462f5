package rca

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/topasig/PolicyBroker/internal/provider"
)

var idTagPattern = regexp.MustCompile(`<(?:[A-Za-z_][\w.-]*:)?Id>\s*([^<\s]+)\s*</(?:[A-Za-z_][\w.-]*:)?Id>`)

// NormalizeSaveResponse turns the raw result of a Save* call into an Outcome.
//
// Precedence: transport error, SOAP fault, non-2xx status, structured result,
// then a scan of the body for an <Id> element. A 2xx body with none of these
// is a malformed response.
func NormalizeSaveResponse(status int, body []byte, errPost error) provider.Outcome {
	if errPost != nil {
		return provider.Failed(provider.NewTransportError(ProviderName, "save", status, errPost), body)
	}

	env, errDecode := decodeEnvelope(body)
	if errDecode == nil && env.Body.Fault != nil {
		fault := env.Body.Fault
		if fault.clientFault() {
			return provider.Rejected(strings.TrimSpace(fault.String), nil, body)
		}
		return provider.Failed(provider.NewTransportError(ProviderName, "save", status, fmt.Errorf("soap fault %s: %s", fault.Code, fault.String)), body)
	}
	if status < 200 || status >= 300 {
		return provider.Failed(provider.NewTransportError(ProviderName, "save", status, fmt.Errorf("unexpected status %d", status)), body)
	}

	if errDecode == nil {
		var resp saveResponse
		if errResult := xml.Unmarshal(env.Body.Inner, &resp); errResult == nil && resp.Result != nil && resp.Result.IsSuccess != nil {
			result := resp.Result
			if !*result.IsSuccess {
				return provider.Rejected(strings.TrimSpace(result.ErrorMessage), result.Errors.strings(), body)
			}
			if result.Response != nil {
				if id := strings.TrimSpace(result.Response.ID); id != "" {
					return provider.Succeeded(id, body)
				}
			}
		}
	}

	if match := idTagPattern.FindSubmatch(body); match != nil {
		return provider.Succeeded(string(match[1]), body)
	}
	return provider.Failed(provider.NewTransportError(ProviderName, "save", status, provider.ErrMalformedResponse), body)
}
