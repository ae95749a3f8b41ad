// Package rest implements the resource-HTTP (JSON) provider protocol.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/wire"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	httpClient *http.Client
	maxBytes   int64
}

// New returns a client. A nil httpClient gets a default with a 15s timeout.
func New(httpClient *http.Client, maxBytes int64) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if maxBytes <= 0 {
		maxBytes = wire.MaxMessageBytes
	}
	return &Client{httpClient: httpClient, maxBytes: maxBytes}
}

func (c *Client) Family() domain.ProtocolFamily { return domain.FamilyResourceHTTP }

func (c *Client) Call(ctx context.Context, d domain.ProtocolDescriptor, req wire.Request) (wire.Response, error) {
	method := wire.MethodFor(req.Op)

	var query url.Values
	var body []byte
	if method == http.MethodGet {
		query = Query(req.Params)
	} else if method == http.MethodPost {
		var err error
		body, err = json.Marshal(jsonParams(req.Params))
		if err != nil {
			return wire.Response{}, fmt.Errorf("rest: encode %s body: %w", req.Op, err)
		}
	}

	endpoint, err := BuildURL(d.BaseURL, req.Path, req.ID, query)
	if err != nil {
		return wire.Response{}, &failure.Error{Class: failure.ClassProtocolUnavailable, Op: string(req.Op), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return wire.Response{}, fmt.Errorf("rest: build %s request: %w", req.Op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if d.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.Credential)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return wire.Response{}, wire.TransportError(req.Op, err)
	}
	defer resp.Body.Close()

	data, err := wire.ReadLimited(resp.Body, c.maxBytes, req.Op)
	if err != nil {
		return wire.Response{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return wire.Response{StatusCode: resp.StatusCode, Body: data}, wire.StatusError(req.Op, resp.StatusCode, data)
	}
	return wire.Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// BuildURL joins base and path. A non-empty id either replaces an {id}
// placeholder in path or is appended as the last segment.
func BuildURL(base, path, id string, query url.Values) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("empty base URL")
	}
	u := strings.TrimRight(base, "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if id != "" {
		escaped := url.PathEscape(id)
		if strings.Contains(path, "{id}") {
			path = strings.ReplaceAll(path, "{id}", escaped)
		} else {
			path = strings.TrimRight(path, "/") + "/" + escaped
		}
	}
	u += path
	if _, err := url.Parse(u); err != nil {
		return "", err
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + query.Encode()
	}
	return u, nil
}

// Query renders parameters as a query string.
func Query(params map[string]any) url.Values {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	q := url.Values{}
	for _, k := range keys {
		q.Set(k, Scalar(params[k]))
	}
	return q
}

// Scalar formats a parameter value the way providers expect it on the wire.
func Scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case decimal.Decimal:
		return x.StringFixed(2)
	case time.Time:
		return x.Format("2006-01-02")
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}

func jsonParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		switch x := v.(type) {
		case time.Time:
			out[k] = x.Format("2006-01-02")
		default:
			out[k] = v
		}
	}
	return out
}
