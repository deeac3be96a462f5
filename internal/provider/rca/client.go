// Package rca is a client for the national RCA and Green Card export SOAP service.
package rca

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/topasig/PolicyBroker/internal/config"
	"github.com/topasig/PolicyBroker/internal/provider"
	log "github.com/sirupsen/logrus"
)

// ProviderName tags errors produced by this client.
const ProviderName = "rca"

const dateLayout = "2006-01-02"

// Client calls the export service. Every operation authenticates first; session
// tokens are short-lived and are not reused between calls.
type Client struct {
	url        string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient builds a client from cfg. No retries are performed.
func NewClient(cfg config.RCAConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultProviderTimeout
	}
	return &Client{
		url:        strings.TrimSpace(cfg.URL),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Authenticate obtains a fresh security token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	req := authenticateRequest{Author: authorizationInfo{UserName: c.username, UserPassword: c.password}}
	var resp authenticateResponse
	if errCall := c.call(ctx, "Authenticate", req, &resp); errCall != nil {
		return "", errCall
	}
	token := strings.TrimSpace(resp.Result)
	if token == "" {
		return "", provider.NewTransportError(ProviderName, "Authenticate", 0, errors.New("empty security token"))
	}
	return token, nil
}

// CheckAccess is a lightweight reachability check.
func (c *Client) CheckAccess(ctx context.Context) error {
	req := checkAccessRequest{Login: c.username, Password: c.password}
	var resp checkAccessResponse
	if errCall := c.call(ctx, "CheckAccess", req, &resp); errCall != nil {
		return errCall
	}
	if !resp.Result {
		return &provider.BusinessError{Provider: ProviderName, Op: "CheckAccess", Message: "access denied"}
	}
	return nil
}

// CalculateRCAI quotes a domestic RCA policy. A provider rejection is returned as
// a quote with IsSuccess=false, not as an error.
func (c *Client) CalculateRCAI(ctx context.Context, in RCAIInput) (*RCAIQuote, error) {
	token, errAuth := c.Authenticate(ctx)
	if errAuth != nil {
		return nil, errAuth
	}
	req := calculateRCAIRequest{SecurityToken: token}
	if in.EmployeeIDNP != "" {
		req.Request.Employee = &employeeInput{IDNP: in.EmployeeIDNP}
	}
	req.Request.OperatingModes = in.OperatingModes
	req.Request.PersonIsJuridical = in.PersonIsJuridical
	req.Request.IDNX = in.IDNX
	req.Request.VehicleRegistrationCertificateNumber = in.VehicleRegistrationCertificateNumber
	req.Request.Territory = in.Territory

	var resp calculateRCAIResponse
	if errCall := c.call(ctx, "CalculateRCAIPremium", req, &resp); errCall != nil {
		return nil, errCall
	}
	normalizeLines(resp.Result.InsurersPrime.Lines, true)
	return &resp.Result, nil
}

// CalculateRCAE quotes a Green Card policy.
func (c *Client) CalculateRCAE(ctx context.Context, in RCAEInput) (*RCAEQuote, error) {
	token, errAuth := c.Authenticate(ctx)
	if errAuth != nil {
		return nil, errAuth
	}
	req := calculateRCAERequest{SecurityToken: token}
	if in.EmployeeIDNP != "" {
		req.Request.Employee = &employeeInput{IDNP: in.EmployeeIDNP}
	}
	req.Request.GreenCardZone = in.GreenCardZone
	req.Request.IDNX = in.IDNX
	req.Request.VehicleRegistrationCertificateNumber = in.VehicleRegistrationCertificateNumber
	req.Request.TermInsurance = in.TermInsurance

	var resp calculateRCAEResponse
	if errCall := c.call(ctx, "CalculateRCAEPremium", req, &resp); errCall != nil {
		return nil, errCall
	}
	normalizeLines(resp.Result.InsurersPrime.Lines, false)
	return &resp.Result, nil
}

// SaveRCADocument submits a domestic RCA contract.
func (c *Client) SaveRCADocument(ctx context.Context, doc RCADocument) provider.Outcome {
	token, errAuth := c.Authenticate(ctx)
	if errAuth != nil {
		return provider.Failed(errAuth, nil)
	}
	status, body, errPost := c.post(ctx, "SaveRcaDocument", saveRCARequest{SecurityToken: token, Request: doc})
	return NormalizeSaveResponse(status, body, errPost)
}

// SaveGreenCardDocument submits a Green Card contract.
func (c *Client) SaveGreenCardDocument(ctx context.Context, doc GreenCardDocument) provider.Outcome {
	token, errAuth := c.Authenticate(ctx)
	if errAuth != nil {
		return provider.Failed(errAuth, nil)
	}
	status, body, errPost := c.post(ctx, "SaveGreenCardDocument", saveGreenCardRequest{SecurityToken: token, Request: doc})
	return NormalizeSaveResponse(status, body, errPost)
}

// GetFile downloads one document part. contractType is RCAI or CV.
func (c *Client) GetFile(ctx context.Context, documentID string, part DocumentPart, contractType string) ([]byte, error) {
	token, errAuth := c.Authenticate(ctx)
	if errAuth != nil {
		return nil, errAuth
	}
	req := getFileRequest{SecurityToken: token}
	req.FileRequest.DocumentID = documentID
	req.FileRequest.DocumentType = part
	req.FileRequest.ContractType = contractType

	var resp getFileResponse
	if errCall := c.call(ctx, "GetFile", req, &resp); errCall != nil {
		return nil, errCall
	}
	if resp.Result.IsSuccess != nil && !*resp.Result.IsSuccess {
		return nil, &provider.BusinessError{Provider: ProviderName, Op: "GetFile", Message: strings.TrimSpace(resp.Result.ErrorMessage)}
	}
	content := strings.Join(strings.Fields(resp.Result.FileContent), "")
	if content == "" {
		return nil, provider.NewTransportError(ProviderName, "GetFile", 0, fmt.Errorf("%s %s: %w", documentID, part, provider.ErrMalformedResponse))
	}
	data, errDecode := base64.StdEncoding.DecodeString(content)
	if errDecode != nil {
		return nil, provider.NewTransportError(ProviderName, "GetFile", 0, fmt.Errorf("decode file content: %w", errDecode))
	}
	return data, nil
}

// GetRCADocumentsList lists RCA document keys issued between start and end.
func (c *Client) GetRCADocumentsList(ctx context.Context, start, end time.Time) ([]string, error) {
	return c.documentKeys(ctx, "GetRcaDocumentKeysList", start, end)
}

// GetGreenCardDocumentsList lists Green Card document keys issued between start and end.
func (c *Client) GetGreenCardDocumentsList(ctx context.Context, start, end time.Time) ([]string, error) {
	return c.documentKeys(ctx, "GetGreenCardDocumentKeysList", start, end)
}

func (c *Client) documentKeys(ctx context.Context, op string, start, end time.Time) ([]string, error) {
	token, errAuth := c.Authenticate(ctx)
	if errAuth != nil {
		return nil, errAuth
	}
	req := documentKeysRequest{
		XMLName:       xml.Name{Space: serviceNS, Local: op},
		SecurityToken: token,
		StartDate:     start.Format(dateLayout),
		EndDate:       end.Format(dateLayout),
	}
	var resp documentKeysResponse
	if errCall := c.call(ctx, op, req, &resp); errCall != nil {
		return nil, errCall
	}
	keys := make([]string, 0, len(resp.Result.Keys))
	for _, key := range resp.Result.Keys {
		if trimmed := strings.TrimSpace(key.Value); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys, nil
}

// call posts a request and decodes the operation response into out.
func (c *Client) call(ctx context.Context, op string, req any, out any) error {
	status, body, errPost := c.post(ctx, op, req)
	if errPost != nil {
		return provider.NewTransportError(ProviderName, op, status, errPost)
	}
	env, errDecode := decodeEnvelope(body)
	if errDecode != nil {
		return provider.NewTransportError(ProviderName, op, status, fmt.Errorf("decode envelope: %w", errDecode))
	}
	if fault := env.Body.Fault; fault != nil {
		if fault.clientFault() {
			return &provider.BusinessError{Provider: ProviderName, Op: op, Message: strings.TrimSpace(fault.String)}
		}
		return provider.NewTransportError(ProviderName, op, status, fmt.Errorf("soap fault %s: %s", fault.Code, fault.String))
	}
	if status < 200 || status >= 300 {
		return provider.NewTransportError(ProviderName, op, status, fmt.Errorf("unexpected status %d", status))
	}
	if errResult := xml.Unmarshal(env.Body.Inner, out); errResult != nil {
		return provider.NewTransportError(ProviderName, op, status, fmt.Errorf("decode %s response: %w", op, errResult))
	}
	return nil
}

// post sends the SOAP envelope and returns the raw response. A non-nil error
// means no usable response arrived.
func (c *Client) post(ctx context.Context, op string, req any) (int, []byte, error) {
	if c.url == "" {
		return 0, nil, errors.New("rca: service url is not configured")
	}
	payload, errEncode := encodeEnvelope(req)
	if errEncode != nil {
		return 0, nil, fmt.Errorf("encode %s: %w", op, errEncode)
	}
	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if errReq != nil {
		return 0, nil, errReq
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", `"`+soapActionBase+op+`"`)

	started := time.Now()
	resp, errDo := c.httpClient.Do(httpReq)
	if errDo != nil {
		log.WithError(errDo).Warnf("rca: %s failed after %s", op, time.Since(started))
		return 0, nil, errDo
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Debug("rca: close response body")
		}
	}()
	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", op, errRead)
	}
	log.Debugf("rca: %s status=%d duration=%s", op, resp.StatusCode, time.Since(started))
	return resp.StatusCode, body, nil
}
