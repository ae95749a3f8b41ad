package soap

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
)

// node is a namespace-free view of an XML element.
type node struct {
	name     string
	text     string
	children []*node
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if strings.EqualFold(c.name, name) {
			return c
		}
	}
	return nil
}

func (n *node) childWithSuffix(suffix string) *node {
	for _, c := range n.children {
		if strings.HasSuffix(c.name, suffix) {
			return c
		}
	}
	return nil
}

// toMap converts children to a JSON-friendly map. Repeated element names
// become arrays; leaf elements become strings.
func (n *node) toMap() map[string]any {
	out := make(map[string]any, len(n.children))
	for _, c := range n.children {
		var v any
		if len(c.children) == 0 {
			v = strings.TrimSpace(c.text)
		} else {
			v = c.toMap()
		}
		if prev, ok := out[c.name]; ok {
			if list, isList := prev.([]any); isList {
				out[c.name] = append(list, v)
			} else {
				out[c.name] = []any{prev, v}
			}
			continue
		}
		out[c.name] = v
	}
	return out
}

func parseTree(data []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var stack []*node
	var root *node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("no root element")
	}
	return root, nil
}

type fault struct {
	code   string
	reason string
	detail map[string]any
}

// parseEnvelope returns the Body element and, when present, its Fault.
func parseEnvelope(data []byte) (*node, *fault, error) {
	root, err := parseTree(data)
	if err != nil {
		return nil, nil, err
	}
	if root.name != "Envelope" {
		return nil, nil, fmt.Errorf("root element is %q, not Envelope", root.name)
	}
	body := root.child("Body")
	if body == nil {
		return nil, nil, fmt.Errorf("envelope has no Body")
	}
	if f := body.child("Fault"); f != nil {
		out := &fault{}
		if c := f.child("faultcode"); c != nil {
			out.code = strings.TrimSpace(c.text)
		}
		if s := f.child("faultstring"); s != nil {
			out.reason = strings.TrimSpace(s.text)
		}
		if d := f.child("detail"); d != nil {
			out.detail = d.toMap()
		}
		return body, out, nil
	}
	return body, nil, nil
}

// classify maps a fault onto the failure taxonomy: Client faults are business
// rejections, Server faults are treated as transient.
func (f *fault) classify(op domain.Operation, status int) error {
	fe := &failure.Error{
		Op:         string(op),
		Message:    f.reason,
		StatusCode: status,
		Delivered:  true,
	}
	code := f.code
	if i := strings.LastIndex(code, ":"); i >= 0 {
		code = code[i+1:]
	}
	switch {
	case strings.HasPrefix(code, "Client"):
		fe.Class = failure.ClassProviderRejection
	default:
		fe.Class = failure.ClassNetwork
	}
	if f.detail != nil {
		fe.Raw, _ = json.Marshal(flattenDetail(f.detail))
		fe.Code = detailCode(f.detail)
	}
	if fe.Message == "" {
		fe.Message = "SOAP fault " + f.code
	}
	return fe
}

// flattenDetail unwraps a single wrapper element (e.g. <detail><Error>...).
func flattenDetail(detail map[string]any) map[string]any {
	if len(detail) == 1 {
		for _, v := range detail {
			if inner, ok := v.(map[string]any); ok {
				return inner
			}
		}
	}
	return detail
}

func detailCode(detail map[string]any) string {
	flat := flattenDetail(detail)
	for _, k := range []string{"code", "Code", "codigo", "Codigo"} {
		if s, ok := flat[k].(string); ok {
			return s
		}
	}
	return ""
}
