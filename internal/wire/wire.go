// Package wire defines the protocol-neutral provider call and the helpers
// shared by the resource-HTTP and legacy-RPC clients.
package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
)

// MaxMessageBytes is the default response size cap for both protocol families.
const MaxMessageBytes int64 = 10 * 1024 * 1024

// Request is one provider call. Path is the descriptor's endpoint path (a
// REST path or a SOAP action). ID addresses an existing resource.
type Request struct {
	Op     domain.Operation
	Path   string
	ID     string
	Params map[string]any
}

// Response carries a JSON document, whichever family produced it.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client executes a Request against one descriptor.
type Client interface {
	Family() domain.ProtocolFamily
	Call(ctx context.Context, d domain.ProtocolDescriptor, req Request) (Response, error)
}

// MethodFor maps an operation onto its resource-HTTP verb.
func MethodFor(op domain.Operation) string {
	switch op {
	case domain.OpSearch, domain.OpCheckAvailability, domain.OpFetchReservation:
		return http.MethodGet
	case domain.OpCancelReservation, domain.OpReleaseHold:
		return http.MethodDelete
	}
	return http.MethodPost
}

// ReadLimited reads at most max bytes. Larger bodies are a schema mismatch.
func ReadLimited(r io.Reader, max int64, op domain.Operation) ([]byte, error) {
	if max <= 0 {
		max = MaxMessageBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, &failure.Error{Class: failure.ClassNetwork, Op: string(op), Delivered: true, Err: err}
	}
	if int64(len(data)) > max {
		return nil, &failure.Error{
			Class:     failure.ClassSchemaMismatch,
			Op:        string(op),
			Message:   fmt.Sprintf("response exceeds %d bytes", max),
			Delivered: true,
		}
	}
	return data, nil
}

// TransportError classifies an error returned by http.Client.Do. Dial
// failures never reached the provider and are marked undelivered.
func TransportError(op domain.Operation, err error) error {
	delivered := true
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		delivered = false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		delivered = false
	}
	return &failure.Error{Class: failure.ClassNetwork, Op: string(op), Delivered: delivered, Err: err}
}

// StatusError classifies a non-2xx status. 501 means the family is not
// implemented for this call; other 4xx are business rejections and 5xx are
// treated as transient.
func StatusError(op domain.Operation, status int, body []byte) error {
	fe := &failure.Error{Op: string(op), StatusCode: status, Raw: body, Delivered: true}
	switch {
	case status == http.StatusNotImplemented:
		fe.Class = failure.ClassProtocolUnavailable
	case status >= 500:
		fe.Class = failure.ClassNetwork
	case status >= 400:
		fe.Class = failure.ClassProviderRejection
	default:
		fe.Class = failure.ClassSchemaMismatch
	}
	fe.Code, fe.Message = businessCode(body)
	if fe.Message == "" {
		fe.Message = fmt.Sprintf("HTTP %d", status)
	}
	return fe
}

// businessCode pulls a code and message out of a JSON error body, accepting
// both English and Spanish field names.
func businessCode(body []byte) (code, message string) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", strings.TrimSpace(string(truncate(trimmed, 200)))
	}
	var doc map[string]any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return "", ""
	}
	code = firstString(doc, "code", "codigo", "error_code")
	message = firstString(doc, "message", "mensaje", "error", "detail")
	return code, message
}

func firstString(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			switch s := v.(type) {
			case string:
				return s
			case float64:
				return fmt.Sprintf("%v", s)
			}
		}
	}
	return ""
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
