// Package submit sends a finished interview to the remote intake service.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hpungsan/intake/internal/errors"
)

// ContentType is sent with every submission. The body is JSON text; the
// plain-text type keeps the request simple for the receiving script host.
const ContentType = "text/plain;charset=utf-8"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 64 << 10

// Result is the interpreted answer of the intake service.
type Result struct {
	OK      bool
	Message string
	Status  int
}

// Transport delivers one encoded payload.
type Transport interface {
	Send(ctx context.Context, body []byte, requestID string) (*Result, error)
}

// HTTPTransport posts payloads to an HTTP endpoint.
type HTTPTransport struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPTransport creates a transport for endpoint. The request deadline
// comes from the caller's context, so client may be nil.
func NewHTTPTransport(endpoint string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{Endpoint: endpoint, Client: client}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, body []byte, requestID string) (*Result, error) {
	if strings.TrimSpace(t.Endpoint) == "" {
		return nil, errors.NewUnexpected(fmt.Errorf("no intake endpoint configured"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewUnexpected(err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	return Interpret(resp.StatusCode, data), nil
}

// Interpret reads a response that may be JSON or plain text. A JSON body
// decides on its own "ok" field, whatever the status; any other body
// succeeds exactly when the status is 2xx.
func Interpret(status int, body []byte) *Result {
	res := &Result{Status: status}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		res.OK = status >= 200 && status < 300
		return res
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return res
	}
	res.OK = truthy(obj["ok"])
	if msg, present := obj["message"]; present && truthy(msg) {
		res.Message = strings.TrimSpace(fmt.Sprint(msg))
	}
	return res
}

// truthy follows the loose truthiness scripting hosts use for flags.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}
