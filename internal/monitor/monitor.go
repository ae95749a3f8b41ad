// Package monitor validates request bodies against JSON schemas before they
// are bound to request types.
package monitor

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemas embed.FS

// Names of the embedded schemas.
const (
	SchemaCheckout = "checkout"
	SchemaCancel   = "cancel"
)

// ContractMonitor validates incoming requests against a compiled JSON schema.
type ContractMonitor struct {
	name   string
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles the schema file at schemaPath. The path should
// be absolute or relative to the working directory.
func NewContractMonitor(schemaPath string) (*ContractMonitor, error) {
	return compile(schemaPath, gojsonschema.NewReferenceLoader("file://"+schemaPath))
}

// Embedded compiles one of the schemas shipped with the binary.
func Embedded(name string) (*ContractMonitor, error) {
	data, err := schemas.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", name, err)
	}
	return compile(name, gojsonschema.NewBytesLoader(data))
}

// MustEmbedded is Embedded for schemas known at compile time.
func MustEmbedded(name string) *ContractMonitor {
	cm, err := Embedded(name)
	if err != nil {
		panic(err)
	}
	return cm
}

func compile(name string, loader gojsonschema.JSONLoader) (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("error loading or compiling schema %s: %w", name, err)
	}
	return &ContractMonitor{name: name, schema: schema}, nil
}

func (cm *ContractMonitor) Name() string { return cm.name }

// Validate validates requestBody against the schema. It returns true if
// valid, or false and the list of violations. A body that is not JSON is
// reported through the error.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, fmt.Errorf("error during validation: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, desc.String())
	}
	return false, errors, nil
}

// FormatErrors joins validation errors into a single message.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(validationErrors, "; ")
}
