package planner

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// planSchemaJSON is the strict-JSON schema the planner's structured
// response must conform to, grounded on agent_core/schemas.py's
// PLAN_SCHEMA.
const planSchemaJSON = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["plan"],
	"properties": {
		"plan": {
			"type": "array",
			"minItems": 1,
			"maxItems": 50,
			"items": {"type": "string", "minLength": 1}
		}
	}
}`

var compiledPlanSchema *jsonschema.Schema

func init() {
	var doc any
	if err := json.Unmarshal([]byte(planSchemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("planner: invalid embedded plan schema: %v", err))
	}

	const resourceURL = "terminus://plan-schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		panic(fmt.Sprintf("planner: failed to register plan schema: %v", err))
	}

	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		panic(fmt.Sprintf("planner: failed to compile plan schema: %v", err))
	}
	compiledPlanSchema = schema
}

// validatePlanDocument validates a decoded JSON value (map[string]any)
// against plan_schema. parsePlanText only logs a validation failure and
// still uses the plan.
func validatePlanDocument(doc any) error {
	return compiledPlanSchema.Validate(doc)
}
