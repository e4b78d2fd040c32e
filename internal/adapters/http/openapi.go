package httpadapter

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var openAPISpec []byte

// loadOpenAPIDocument parses and validates the embedded API contract and
// renders it as JSON for /openapi.json.
func loadOpenAPIDocument(ctx context.Context) (*openapi3.T, []byte, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(openAPISpec)
	if err != nil {
		return nil, nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, nil, fmt.Errorf("validate openapi document: %w", err)
	}
	rendered, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("render openapi document: %w", err)
	}
	return doc, rendered, nil
}
