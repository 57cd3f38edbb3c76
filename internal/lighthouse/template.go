package lighthouse

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed template.json
var templateJSON []byte

// renderedTemplate mirrors the skeleton's key order. The fixed sections
// pass through as raw JSON, only the variables block is replaced.
type renderedTemplate struct {
	Schema         json.RawMessage `json:"$schema"`
	ContentVersion json.RawMessage `json:"contentVersion"`
	Parameters     json.RawMessage `json:"parameters"`
	Variables      Definition      `json:"variables"`
	Resources      json.RawMessage `json:"resources"`
	Outputs        json.RawMessage `json:"outputs"`
}

// Render produces the subscription-level deployment template the customer
// runs to delegate access. Output is deterministic, the checked-in artifact
// under deploy/lighthouse is generated by this function.
func Render(definition Definition) ([]byte, error) {
	var template renderedTemplate
	if err := json.Unmarshal(templateJSON, &template); err != nil {
		return nil, fmt.Errorf("failed to parse embedded template: %w", err)
	}
	template.Variables = definition

	rendered, err := json.MarshalIndent(template, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}
	return append(rendered, '\n'), nil
}
