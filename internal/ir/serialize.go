package ir

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ToJSON serializes the lowered IR to formatted JSON, the format
// `check --dump=ir-json` prints for machine consumers. Slice-backed
// structures keep declaration order, so the output is deterministic.
func ToJSON(p *Program) ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// ToYAML serializes the lowered IR to YAML, the format `check --dump=ir`
// prints for debugging.
func ToYAML(p *Program) ([]byte, error) {
	out, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("ir: YAML marshal failed: %w", err)
	}
	return out, nil
}
