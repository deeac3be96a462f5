// Package medical is a client for the travel medical insurance gateway.
package medical

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/topasig/PolicyBroker/internal/config"
	"github.com/topasig/PolicyBroker/internal/provider"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ProviderName tags errors produced by this client.
const ProviderName = "medical"

const apiPath = "/hs/medicina_peste_hotare/v1/"

// Client talks to the gateway with basic auth. No retries are performed.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient builds a client from cfg.
func NewClient(cfg config.MedicalConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultProviderTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Directory fetches one reference directory as raw JSON.
func (c *Client) Directory(ctx context.Context, name string) (json.RawMessage, error) {
	status, body, errDo := c.do(ctx, http.MethodGet, name, nil, nil)
	if errDo != nil {
		return nil, errDo
	}
	if errStatus := c.checkStatus(name, status, body); errStatus != nil {
		return nil, errStatus
	}
	if !json.Valid(body) {
		return nil, provider.NewTransportError(ProviderName, name, status, provider.ErrMalformedResponse)
	}
	return json.RawMessage(body), nil
}

// AllDirectories fetches every directory concurrently. A directory that fails is
// logged and reported as null; the others are still returned.
func (c *Client) AllDirectories(ctx context.Context) map[string]json.RawMessage {
	results := make(map[string]json.RawMessage, len(Directories))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(len(Directories))
	for _, name := range Directories {
		g.Go(func() error {
			data, errDir := c.Directory(ctx, name)
			if errDir != nil {
				log.WithError(errDir).Warnf("medical: directory %s unavailable", name)
				data = nil
			}
			mu.Lock()
			results[name] = data
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// CalculateTariff prices the contracts in req. Gateway rejections come back as *provider.BusinessError.
func (c *Client) CalculateTariff(ctx context.Context, req Envelope) (*Envelope, error) {
	var out Envelope
	if errPost := c.postJSON(ctx, "medicina_calcul_tarif", req, &out); errPost != nil {
		return nil, errPost
	}
	if len(out.DogMEDPH) == 0 {
		return nil, provider.NewTransportError(ProviderName, "medicina_calcul_tarif", http.StatusOK, provider.ErrMalformedResponse)
	}
	return &out, nil
}

// CreateContract issues the policy and normalizes the acknowledgment.
func (c *Client) CreateContract(ctx context.Context, req Envelope) provider.Outcome {
	status, body, errDo := c.do(ctx, http.MethodPost, "medicina_sozdati_polis", nil, req)
	return NormalizeCreateResponse(status, body, errDo)
}

// NormalizeCreateResponse maps the raw contract creation result to an Outcome.
func NormalizeCreateResponse(status int, body []byte, errDo error) provider.Outcome {
	if errDo != nil {
		return provider.Failed(errDo, body)
	}
	if status >= 500 || status == 0 {
		return provider.Failed(provider.NewTransportError(ProviderName, "medicina_sozdati_polis", status, fmt.Errorf("unexpected status %d", status)), body)
	}
	if status >= 400 {
		var gwErr gatewayError
		_ = json.Unmarshal(body, &gwErr)
		msg := gwErr.text()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return provider.Rejected(msg, gwErr.Errors, body)
	}

	var env Envelope
	if errDecode := json.Unmarshal(body, &env); errDecode == nil && len(env.DogMEDPH) > 0 {
		if uin := strings.TrimSpace(env.DogMEDPH[0].UINDokumenta); uin != "" {
			return provider.Succeeded(uin, body)
		}
	}
	var gwErr gatewayError
	if errDecode := json.Unmarshal(body, &gwErr); errDecode == nil && gwErr.text() != "" {
		return provider.Rejected(gwErr.text(), gwErr.Errors, body)
	}
	return provider.Failed(provider.NewTransportError(ProviderName, "medicina_sozdati_polis", status, provider.ErrMalformedResponse), body)
}

// ContractInfo returns the full contract record as raw JSON.
func (c *Client) ContractInfo(ctx context.Context, uin string) (json.RawMessage, error) {
	op := "medicina_vsia_informatia_o_dogovore"
	status, body, errDo := c.do(ctx, http.MethodGet, op, url.Values{"UIN_Dokumenta": {uin}}, nil)
	if errDo != nil {
		return nil, errDo
	}
	if errStatus := c.checkStatus(op, status, body); errStatus != nil {
		return nil, errStatus
	}
	return json.RawMessage(body), nil
}

// PrintForms returns the decoded printed forms of a contract in gateway order.
// An empty list is an error.
func (c *Client) PrintForms(ctx context.Context, uin string) ([][]byte, error) {
	op := "medicina_forme_printate"
	var resp printFormsResponse
	if errPost := c.postJSON(ctx, op, Envelope{DogMEDPH: []Contract{{UINDokumenta: uin}}}, &resp); errPost != nil {
		return nil, errPost
	}
	if len(resp.Forms) == 0 {
		return nil, provider.NewTransportError(ProviderName, op, http.StatusOK, fmt.Errorf("no printed forms for %s: %w", uin, provider.ErrMalformedResponse))
	}
	parts := make([][]byte, 0, len(resp.Forms))
	for i, form := range resp.Forms {
		data, errDecode := base64.StdEncoding.DecodeString(strings.TrimSpace(form.Content))
		if errDecode != nil {
			return nil, provider.NewTransportError(ProviderName, op, http.StatusOK, fmt.Errorf("decode form %d: %w", i, errDecode))
		}
		parts = append(parts, data)
	}
	return parts, nil
}

func (c *Client) postJSON(ctx context.Context, op string, in any, out any) error {
	status, body, errDo := c.do(ctx, http.MethodPost, op, nil, in)
	if errDo != nil {
		return errDo
	}
	if errStatus := c.checkStatus(op, status, body); errStatus != nil {
		return errStatus
	}
	if errDecode := json.Unmarshal(body, out); errDecode != nil {
		return provider.NewTransportError(ProviderName, op, status, fmt.Errorf("decode response: %w", errDecode))
	}
	return nil
}

// checkStatus maps 4xx to a business rejection and anything else outside 2xx to a transport failure.
func (c *Client) checkStatus(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		var gwErr gatewayError
		_ = json.Unmarshal(body, &gwErr)
		msg := gwErr.text()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return &provider.BusinessError{Provider: ProviderName, Op: op, Message: msg, Errors: gwErr.Errors}
	default:
		return provider.NewTransportError(ProviderName, op, status, fmt.Errorf("unexpected status %d", status))
	}
}

// do performs one request. The returned error is always a *provider.TransportError.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload any) (int, []byte, error) {
	if c.baseURL == "" {
		return 0, nil, provider.NewTransportError(ProviderName, endpoint, 0, errors.New("base url is not configured"))
	}
	target := c.baseURL + apiPath + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if payload != nil {
		encoded, errMarshal := json.Marshal(payload)
		if errMarshal != nil {
			return 0, nil, provider.NewTransportError(ProviderName, endpoint, 0, fmt.Errorf("encode request: %w", errMarshal))
		}
		reader = bytes.NewReader(encoded)
	}
	req, errReq := http.NewRequestWithContext(ctx, method, target, reader)
	if errReq != nil {
		return 0, nil, provider.NewTransportError(ProviderName, endpoint, 0, errReq)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, errDo := c.httpClient.Do(req)
	if errDo != nil {
		return 0, nil, provider.NewTransportError(ProviderName, endpoint, 0, errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Debug("medical: close response body")
		}
	}()
	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return resp.StatusCode, nil, provider.NewTransportError(ProviderName, endpoint, resp.StatusCode, errRead)
	}
	log.Debugf("medical: %s %s status=%d duration=%s", method, endpoint, resp.StatusCode, time.Since(started))
	return resp.StatusCode, body, nil
}
