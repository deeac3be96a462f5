package qrpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/topasig/PolicyBroker/internal/provider"
	log "github.com/sirupsen/logrus"
)

// bearerToken caches an access token until shortly before it expires.
type bearerToken struct {
	mu        sync.Mutex
	value     string
	expiresAt time.Time
}

func (b *bearerToken) get(ctx context.Context, now func() time.Time, fetch func(context.Context) (string, time.Duration, error)) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.value != "" && now().Before(b.expiresAt) {
		return b.value, nil
	}
	value, ttl, errFetch := fetch(ctx)
	if errFetch != nil {
		return "", errFetch
	}
	b.value = value
	b.expiresAt = now().Add(ttl)
	return b.value, nil
}

func (b *bearerToken) reset() {
	b.mu.Lock()
	b.value = ""
	b.mu.Unlock()
}

type gatewayHTTP struct {
	name   string
	client *http.Client
}

// send performs one request. Any non-2xx response is mapped to a typed provider error.
func (g gatewayHTTP) send(req *http.Request, op string) ([]byte, error) {
	started := time.Now()
	resp, errDo := g.client.Do(req)
	if errDo != nil {
		return nil, provider.NewTransportError(g.name, op, 0, errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Debugf("%s: close response body", g.name)
		}
	}()
	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return nil, provider.NewTransportError(g.name, op, resp.StatusCode, errRead)
	}
	log.Debugf("%s: %s status=%d duration=%s", g.name, op, resp.StatusCode, time.Since(started))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusTooManyRequests:
		return nil, &provider.BusinessError{Provider: g.name, Op: op, Message: errorText(body, resp.StatusCode)}
	default:
		return nil, provider.NewTransportError(g.name, op, resp.StatusCode, fmt.Errorf("%s", errorText(body, resp.StatusCode)))
	}
}

func (g gatewayHTTP) newJSONRequest(ctx context.Context, method, target, token string, payload any) (*http.Request, error) {
	var reader io.Reader
	if payload != nil {
		encoded, errMarshal := json.Marshal(payload)
		if errMarshal != nil {
			return nil, fmt.Errorf("%s: encode request: %w", g.name, errMarshal)
		}
		reader = bytes.NewReader(encoded)
	}
	req, errReq := http.NewRequestWithContext(ctx, method, target, reader)
	if errReq != nil {
		return nil, errReq
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func errorText(body []byte, status int) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Errors  []struct {
			ErrorMessage string `json:"errorMessage"`
		} `json:"errors"`
	}
	if errDecode := json.Unmarshal(body, &parsed); errDecode == nil {
		switch {
		case parsed.Message != "":
			return parsed.Message
		case parsed.Error != "":
			return parsed.Error
		case len(parsed.Errors) > 0 && parsed.Errors[0].ErrorMessage != "":
			return parsed.Errors[0].ErrorMessage
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		return text
	}
	return fmt.Sprintf("unexpected status %d", status)
}
