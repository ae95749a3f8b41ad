// Package soap implements the legacy-RPC provider protocol: SOAP 1.1
// envelopes posted to a single endpoint, one action per operation.
package soap

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/wire"
	"github.com/yourorg/travel-orchestrator/internal/wire/rest"
)

const (
	EnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	// ActionNS is the namespace of the provider actions and the SOAPAction prefix.
	ActionNS = "http://tempuri.org/"

	defaultTimeout = 30 * time.Second
)

type Client struct {
	httpClient *http.Client
	maxBytes   int64
}

func New(httpClient *http.Client, maxBytes int64) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if maxBytes <= 0 {
		maxBytes = wire.MaxMessageBytes
	}
	return &Client{httpClient: httpClient, maxBytes: maxBytes}
}

func (c *Client) Family() domain.ProtocolFamily { return domain.FamilyLegacyRPC }

// Call posts the envelope for req.Path (the action name) and returns the
// action result normalised to JSON.
func (c *Client) Call(ctx context.Context, d domain.ProtocolDescriptor, req wire.Request) (wire.Response, error) {
	action := strings.TrimSpace(req.Path)
	if action == "" {
		return wire.Response{}, failure.New(failure.ClassProtocolUnavailable, string(req.Op), "no SOAP action configured")
	}
	if strings.TrimSpace(d.BaseURL) == "" {
		return wire.Response{}, failure.New(failure.ClassProtocolUnavailable, string(req.Op), "empty endpoint")
	}

	params := req.Params
	if req.ID != "" {
		params = make(map[string]any, len(req.Params)+1)
		for k, v := range req.Params {
			params[k] = v
		}
		if _, ok := params["id"]; !ok {
			params["id"] = req.ID
		}
	}
	envelope, err := Envelope(action, d.Credential, params)
	if err != nil {
		return wire.Response{}, fmt.Errorf("soap: encode %s: %w", action, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL, bytes.NewReader(envelope))
	if err != nil {
		return wire.Response{}, fmt.Errorf("soap: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", `"`+ActionNS+action+`"`)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return wire.Response{}, wire.TransportError(req.Op, err)
	}
	defer resp.Body.Close()

	data, err := wire.ReadLimited(resp.Body, c.maxBytes, req.Op)
	if err != nil {
		return wire.Response{}, err
	}
	if resp.StatusCode == http.StatusNotImplemented {
		return wire.Response{StatusCode: resp.StatusCode}, wire.StatusError(req.Op, resp.StatusCode, nil)
	}

	body, fault, perr := parseEnvelope(data)
	if perr != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return wire.Response{StatusCode: resp.StatusCode}, wire.StatusError(req.Op, resp.StatusCode, data)
		}
		return wire.Response{}, &failure.Error{
			Class: failure.ClassSchemaMismatch, Op: string(req.Op), Raw: data, Delivered: true,
			Message: "malformed SOAP envelope", Err: perr,
		}
	}
	if fault != nil {
		return wire.Response{StatusCode: resp.StatusCode}, fault.classify(req.Op, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return wire.Response{StatusCode: resp.StatusCode}, wire.StatusError(req.Op, resp.StatusCode, data)
	}

	result, err := actionResult(body, action)
	if err != nil {
		return wire.Response{}, &failure.Error{
			Class: failure.ClassSchemaMismatch, Op: string(req.Op), Raw: data, Delivered: true, Err: err,
		}
	}
	return wire.Response{StatusCode: resp.StatusCode, Body: result}, nil
}

// Envelope renders a SOAP 1.1 request with params as child elements of the
// action element, in key order.
func Envelope(action, credential string, params map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)

	env := xml.StartElement{Name: xml.Name{Local: "soap:Envelope"}, Attr: []xml.Attr{
		{Name: xml.Name{Local: "xmlns:soap"}, Value: EnvelopeNS},
	}}
	if err := enc.EncodeToken(env); err != nil {
		return nil, err
	}
	if credential != "" {
		hdr := xml.StartElement{Name: xml.Name{Local: "soap:Header"}}
		auth := xml.StartElement{Name: xml.Name{Local: "AuthHeader"}, Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: ActionNS}}}
		if err := encodeTokens(enc, hdr, auth); err != nil {
			return nil, err
		}
		if err := encodeValue(enc, "Token", credential); err != nil {
			return nil, err
		}
		if err := enc.EncodeToken(auth.End()); err != nil {
			return nil, err
		}
		if err := enc.EncodeToken(hdr.End()); err != nil {
			return nil, err
		}
	}
	bodyEl := xml.StartElement{Name: xml.Name{Local: "soap:Body"}}
	actionEl := xml.StartElement{Name: xml.Name{Local: action}, Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: ActionNS}}}
	if err := encodeTokens(enc, bodyEl, actionEl); err != nil {
		return nil, err
	}
	for _, k := range sortedKeys(params) {
		if err := encodeValue(enc, k, params[k]); err != nil {
			return nil, err
		}
	}
	for _, end := range []xml.EndElement{actionEl.End(), bodyEl.End(), env.End()} {
		if err := enc.EncodeToken(end); err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeTokens(enc *xml.Encoder, tokens ...xml.StartElement) error {
	for _, t := range tokens {
		if err := enc.EncodeToken(t); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(enc *xml.Encoder, name string, v any) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	switch x := v.(type) {
	case map[string]any:
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		for _, k := range sortedKeys(x) {
			if err := encodeValue(enc, k, x[k]); err != nil {
				return err
			}
		}
		return enc.EncodeToken(start.End())
	case []any:
		for _, item := range x {
			if err := encodeValue(enc, name, item); err != nil {
				return err
			}
		}
		return nil
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if s := rest.Scalar(v); s != "" {
		if err := enc.EncodeToken(xml.CharData(s)); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// actionResult extracts <{action}Result> from the first body element. The
// result either embeds a JSON document or child elements converted to JSON.
func actionResult(body *node, action string) ([]byte, error) {
	if body == nil || len(body.children) == 0 {
		return nil, fmt.Errorf("empty SOAP body")
	}
	response := body.children[0]
	result := response.child(action + "Result")
	if result == nil {
		result = response.childWithSuffix("Result")
	}
	if result == nil {
		result = response
	}
	if len(result.children) == 0 {
		text := strings.TrimSpace(result.text)
		if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
			if !json.Valid([]byte(text)) {
				return nil, fmt.Errorf("%s carries invalid JSON", result.name)
			}
			return []byte(text), nil
		}
		return json.Marshal(map[string]any{result.name: text})
	}
	return json.Marshal(result.toMap())
}
