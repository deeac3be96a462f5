package qrpay

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/topasig/PolicyBroker/internal/config"
	"github.com/topasig/PolicyBroker/internal/models"
	"github.com/topasig/PolicyBroker/internal/provider"
)

const maibName = "maib"

// maibTokenMargin refreshes the token this long before the gateway expires it.
const maibTokenMargin = 60 * time.Second

// MAIB is the maib MIA instant payments QR gateway.
type MAIB struct {
	baseURL      string
	clientID     string
	clientSecret string
	signatureKey string
	publicURL    string
	http         gatewayHTTP
	token        bearerToken
	now          func() time.Time
}

// NewMAIB builds the gateway client. publicURL is used for callback and redirect links.
func NewMAIB(cfg config.QRConfig, publicURL string) *MAIB {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultProviderTimeout
	}
	return &MAIB{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		signatureKey: cfg.SignatureKey,
		publicURL:    strings.TrimRight(publicURL, "/"),
		http:         gatewayHTTP{name: maibName, client: &http.Client{Timeout: timeout}},
		now:          time.Now,
	}
}

// Name implements Gateway.
func (m *MAIB) Name() string { return maibName }

type maibEnvelope struct {
	OK     *bool           `json:"ok"`
	Result json.RawMessage `json:"result"`
	Errors []struct {
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"errors"`
}

func (m *MAIB) decode(op string, body []byte, out any) error {
	var env maibEnvelope
	if errDecode := json.Unmarshal(body, &env); errDecode != nil {
		return provider.NewTransportError(maibName, op, http.StatusOK, provider.ErrMalformedResponse)
	}
	if env.OK != nil && !*env.OK {
		be := &provider.BusinessError{Provider: maibName, Op: op}
		for _, item := range env.Errors {
			be.Errors = append(be.Errors, item.ErrorMessage)
		}
		if len(be.Errors) > 0 {
			be.Message = be.Errors[0]
		}
		return be
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return provider.NewTransportError(maibName, op, http.StatusOK, provider.ErrMalformedResponse)
	}
	if errResult := json.Unmarshal(env.Result, out); errResult != nil {
		return provider.NewTransportError(maibName, op, http.StatusOK, fmt.Errorf("decode result: %w", errResult))
	}
	return nil
}

func (m *MAIB) authenticate(ctx context.Context) (string, time.Duration, error) {
	payload := map[string]string{"clientId": m.clientID, "clientSecret": m.clientSecret}
	req, errReq := m.http.newJSONRequest(ctx, http.MethodPost, m.baseURL+"/auth/token", "", payload)
	if errReq != nil {
		return "", 0, errReq
	}
	body, errSend := m.http.send(req, "authenticate")
	if errSend != nil {
		return "", 0, errSend
	}
	var result struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int    `json:"expiresIn"`
	}
	if errDecode := m.decode("authenticate", body, &result); errDecode != nil {
		return "", 0, errDecode
	}
	if result.AccessToken == "" {
		return "", 0, provider.NewTransportError(maibName, "authenticate", http.StatusOK, provider.ErrMalformedResponse)
	}
	if result.ExpiresIn <= 0 {
		result.ExpiresIn = 3600
	}
	ttl := time.Duration(result.ExpiresIn)*time.Second - maibTokenMargin
	if ttl < 0 {
		ttl = 0
	}
	return result.AccessToken, ttl, nil
}

func (m *MAIB) bearer(ctx context.Context) (string, error) {
	return m.token.get(ctx, m.now, m.authenticate)
}

// CreateQR implements Gateway. The MIA API only issues dynamic fixed-amount codes.
func (m *MAIB) CreateQR(ctx context.Context, in CreateRequest) (*CreateResponse, error) {
	token, errToken := m.bearer(ctx)
	if errToken != nil {
		return nil, errToken
	}
	description := in.Extension.RemittanceInfo4Payer
	if description == "" {
		description = "Insurance policy payment"
	}
	payload := map[string]any{
		"type":        models.QRKindDynamic,
		"amountType":  models.AmountTypeFixed,
		"amount":      json.Number(in.Extension.Amount.Sum.String()),
		"currency":    in.Extension.Amount.Currency,
		"expiresAt":   m.now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
		"orderId":     in.OrderID,
		"description": description,
		"redirectUrl": m.publicURL + "/payment/success",
		"callbackUrl": m.publicURL + "/api/payment/callback",
	}
	req, errReq := m.http.newJSONRequest(ctx, http.MethodPost, m.baseURL+"/mia/qr", token, payload)
	if errReq != nil {
		return nil, errReq
	}
	body, errSend := m.http.send(req, "create")
	if errSend != nil {
		m.resetOnUnauthorized(errSend)
		return nil, errSend
	}
	var result struct {
		QRID        string `json:"qrId"`
		ExtensionID string `json:"extensionId"`
		URL         string `json:"url"`
	}
	if errDecode := m.decode("create", body, &result); errDecode != nil {
		return nil, errDecode
	}
	if result.QRID == "" {
		return nil, provider.NewTransportError(maibName, "create", http.StatusOK, provider.ErrMalformedResponse)
	}
	return &CreateResponse{
		QRHeaderUUID:    result.QRID,
		QRExtensionUUID: result.ExtensionID,
		QRAsText:        result.URL,
		Status:          string(models.PaymentTokenActive),
		Raw:             body,
	}, nil
}

// Status implements Gateway.
func (m *MAIB) Status(ctx context.Context, qrUUID string) (*StatusResponse, error) {
	token, errToken := m.bearer(ctx)
	if errToken != nil {
		return nil, errToken
	}
	req, errReq := m.http.newJSONRequest(ctx, http.MethodGet, m.baseURL+"/mia/qr/"+url.PathEscape(qrUUID), token, nil)
	if errReq != nil {
		return nil, errReq
	}
	body, errSend := m.http.send(req, "status")
	if errSend != nil {
		m.resetOnUnauthorized(errSend)
		return nil, errSend
	}
	var result struct {
		QRID   string `json:"qrId"`
		Status string `json:"status"`
	}
	if errDecode := m.decode("status", body, &result); errDecode != nil {
		return nil, errDecode
	}
	if result.Status == "" {
		return nil, provider.NewTransportError(maibName, "status", http.StatusOK, provider.ErrMalformedResponse)
	}
	if result.QRID == "" {
		result.QRID = qrUUID
	}
	return &StatusResponse{UUID: result.QRID, Status: result.Status, Raw: body}, nil
}

// Cancel implements Gateway.
func (m *MAIB) Cancel(ctx context.Context, qrUUID string) error {
	token, errToken := m.bearer(ctx)
	if errToken != nil {
		return errToken
	}
	payload := map[string]string{"reason": "cancelled by merchant"}
	req, errReq := m.http.newJSONRequest(ctx, http.MethodPost, m.baseURL+"/mia/qr/"+url.PathEscape(qrUUID)+"/cancel", token, payload)
	if errReq != nil {
		return errReq
	}
	_, errSend := m.http.send(req, "cancel")
	m.resetOnUnauthorized(errSend)
	return errSend
}

// VerifyCallback checks the notification signature and extracts the payment event.
//
// The signature is base64(sha256(v1:v2:...:vn:key)) where v are the result
// values ordered by key name.
func (m *MAIB) VerifyCallback(body []byte) (*CallbackEvent, error) {
	if m.signatureKey == "" {
		return nil, errors.New("qrpay: callback signature key is not configured")
	}
	var notification struct {
		Result    map[string]json.RawMessage `json:"result"`
		Signature string                     `json:"signature"`
	}
	if errDecode := json.Unmarshal(body, &notification); errDecode != nil {
		return nil, fmt.Errorf("qrpay: decode callback: %w", errDecode)
	}
	if len(notification.Result) == 0 || notification.Signature == "" {
		return nil, ErrInvalidSignature
	}
	expected := SignCallback(notification.Result, m.signatureKey)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(notification.Signature)) != 1 {
		return nil, ErrInvalidSignature
	}

	event := &CallbackEvent{Raw: body}
	event.QRID = rawString(notification.Result["qrId"])
	event.OrderID = rawString(notification.Result["orderId"])
	status, errStatus := ParseStatus(rawString(notification.Result["qrStatus"]))
	if errStatus != nil {
		status, errStatus = ParseStatus(rawString(notification.Result["status"]))
	}
	if errStatus != nil {
		return nil, errStatus
	}
	event.Status = status
	return event, nil
}

// SignCallback computes the callback signature for result with key.
func SignCallback(result map[string]json.RawMessage, key string) string {
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return strings.ToLower(keys[i]) < strings.ToLower(keys[j]) })

	values := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		values = append(values, callbackValue(result[k]))
	}
	values = append(values, key)
	sum := sha256.Sum256([]byte(strings.Join(values, ":")))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// callbackValue renders a JSON scalar the way the gateway signs it: strings
// unquoted and amounts with two decimals.
func callbackValue(raw json.RawMessage) string {
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, `"`) {
		return rawString(raw)
	}
	if d, errParse := decimal.NewFromString(text); errParse == nil && strings.ContainsAny(text, ".eE") {
		return d.StringFixed(2)
	}
	if text == "null" {
		return ""
	}
	return text
}

func rawString(raw json.RawMessage) string {
	var s string
	if errDecode := json.Unmarshal(raw, &s); errDecode == nil {
		return s
	}
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}

func (m *MAIB) resetOnUnauthorized(err error) {
	var te *provider.TransportError
	if errors.As(err, &te) && te.StatusCode == http.StatusUnauthorized {
		m.token.reset()
	}
}
