package routing

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"switchboard/internal/domain"
)

// decisionSchemaJSON is the only shape accepted from the classifier. Values
// of the wrong type are rejected, never coerced.
const decisionSchemaJSON = `{
	"type": "object",
	"properties": {
		"agent_id":   {"type": "string", "minLength": 1},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reasoning":  {"type": "string"}
	},
	"required": ["agent_id", "confidence", "reasoning"]
}`

var decisionSchema = mustCompileSchema(decisionSchemaJSON)

func mustCompileSchema(src string) *jsonschema.Schema {
	schema, err := jsonschema.NewCompiler().Compile([]byte(src))
	if err != nil {
		panic(fmt.Sprintf("routing: compile decision schema: %v", err))
	}
	return schema
}

// rawDecision is the classifier's reply after validation.
type rawDecision struct {
	AgentID    string  `json:"agent_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// parseDecision validates content against decisionSchema and decodes it.
func parseDecision(content string) (rawDecision, error) {
	body := stripCodeFences(content)
	if body == "" {
		return rawDecision{}, fmt.Errorf("%w: empty classifier response", domain.ErrRouting)
	}

	var data any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return rawDecision{}, fmt.Errorf("%w: classifier response is not JSON: %w", domain.ErrRouting, err)
	}
	if result := decisionSchema.Validate(data); !result.IsValid() {
		return rawDecision{}, fmt.Errorf("%w: classifier response does not match schema: %s", domain.ErrRouting, result.Error())
	}

	var d rawDecision
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return rawDecision{}, fmt.Errorf("%w: decode classifier response: %w", domain.ErrRouting, err)
	}
	return d, nil
}

var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

// stripCodeFences removes a markdown fence if the model wrapped its JSON.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}
