package qrpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/topasig/PolicyBroker/internal/config"
	"github.com/topasig/PolicyBroker/internal/models"
	"github.com/topasig/PolicyBroker/internal/provider"
)

const victoriaName = "victoria"

// Victoria is the Victoriabank payee-presented QR gateway.
type Victoria struct {
	baseURL  string
	username string
	password string
	http     gatewayHTTP
	token    bearerToken
	now      func() time.Time
}

// NewVictoria builds the gateway client from cfg.
func NewVictoria(cfg config.QRConfig) *Victoria {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultProviderTimeout
	}
	return &Victoria{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     gatewayHTTP{name: victoriaName, client: &http.Client{Timeout: timeout}},
		now:      time.Now,
	}
}

// Name implements Gateway.
func (v *Victoria) Name() string { return victoriaName }

func (v *Victoria) authenticate(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{"grant_type": {"password"}, "username": {v.username}, "password": {v.password}}
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/identity/token", strings.NewReader(form.Encode()))
	if errReq != nil {
		return "", 0, errReq
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	body, errSend := v.http.send(req, "authenticate")
	if errSend != nil {
		return "", 0, errSend
	}
	var resp struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int    `json:"expiresIn"`
	}
	if errDecode := json.Unmarshal(body, &resp); errDecode != nil || resp.AccessToken == "" {
		return "", 0, provider.NewTransportError(victoriaName, "authenticate", http.StatusOK, provider.ErrMalformedResponse)
	}
	if resp.ExpiresIn <= 0 {
		resp.ExpiresIn = 3600
	}
	return resp.AccessToken, time.Duration(resp.ExpiresIn) * time.Second, nil
}

func (v *Victoria) bearer(ctx context.Context) (string, error) {
	return v.token.get(ctx, v.now, v.authenticate)
}

// CreateQR implements Gateway.
func (v *Victoria) CreateQR(ctx context.Context, in CreateRequest) (*CreateResponse, error) {
	token, errToken := v.bearer(ctx)
	if errToken != nil {
		return nil, errToken
	}
	query := url.Values{"width": {strconv.Itoa(in.Width)}, "height": {strconv.Itoa(in.Height)}}
	req, errReq := v.http.newJSONRequest(ctx, http.MethodPost, v.baseURL+"/api/v1/qr?"+query.Encode(), token, in)
	if errReq != nil {
		return nil, errReq
	}
	body, errSend := v.http.send(req, "create")
	if errSend != nil {
		v.resetOnUnauthorized(errSend)
		return nil, errSend
	}
	var out CreateResponse
	if errDecode := json.Unmarshal(body, &out); errDecode != nil || out.QRHeaderUUID == "" {
		return nil, provider.NewTransportError(victoriaName, "create", http.StatusOK, provider.ErrMalformedResponse)
	}
	if out.Status == "" {
		out.Status = string(models.PaymentTokenActive)
	}
	out.Raw = body
	return &out, nil
}

// Status implements Gateway.
func (v *Victoria) Status(ctx context.Context, qrUUID string) (*StatusResponse, error) {
	token, errToken := v.bearer(ctx)
	if errToken != nil {
		return nil, errToken
	}
	query := url.Values{"nbOfExt": {"5"}, "nbOfTxs": {"10"}}
	target := fmt.Sprintf("%s/api/v1/qr/%s/status?%s", v.baseURL, url.PathEscape(qrUUID), query.Encode())
	req, errReq := v.http.newJSONRequest(ctx, http.MethodGet, target, token, nil)
	if errReq != nil {
		return nil, errReq
	}
	body, errSend := v.http.send(req, "status")
	if errSend != nil {
		v.resetOnUnauthorized(errSend)
		return nil, errSend
	}
	var out StatusResponse
	if errDecode := json.Unmarshal(body, &out); errDecode != nil || out.Status == "" {
		return nil, provider.NewTransportError(victoriaName, "status", http.StatusOK, provider.ErrMalformedResponse)
	}
	if out.UUID == "" {
		out.UUID = qrUUID
	}
	out.Raw = body
	return &out, nil
}

// Cancel implements Gateway.
func (v *Victoria) Cancel(ctx context.Context, qrUUID string) error {
	token, errToken := v.bearer(ctx)
	if errToken != nil {
		return errToken
	}
	req, errReq := v.http.newJSONRequest(ctx, http.MethodDelete, v.baseURL+"/api/v1/qr/"+url.PathEscape(qrUUID), token, nil)
	if errReq != nil {
		return errReq
	}
	_, errSend := v.http.send(req, "cancel")
	v.resetOnUnauthorized(errSend)
	return errSend
}

func (v *Victoria) resetOnUnauthorized(err error) {
	var te *provider.TransportError
	if errors.As(err, &te) && te.StatusCode == http.StatusUnauthorized {
		v.token.reset()
	}
}
