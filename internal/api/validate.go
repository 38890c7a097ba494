package api

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// createInterestSchemaJSON is the JSON-Schema document POST /v1/interests
// request bodies must satisfy before any domain-level validation (broadcaster
// resolution, catalog lookup, webhook-target SSRF check) runs. Grounded on
// the OwlDB example's compile-once-validate-per-request jsonschema idiom
// (jsondata/jsondata.go), the only pack repo that reaches for this library.
const createInterestSchemaJSON = `{
	"type": "object",
	"required": ["bot_id", "event_type", "broadcaster_id", "transport"],
	"properties": {
		"bot_id": {"type": "string", "minLength": 1},
		"event_type": {"type": "string", "minLength": 1},
		"broadcaster_id": {"type": "string", "minLength": 1},
		"transport": {"type": "string", "enum": ["ws", "webhook"]},
		"webhook_target_url": {"type": "string"}
	}
}`

var (
	createInterestSchemaOnce sync.Once
	createInterestSchema     *jsonschema.Schema
)

func compiledCreateInterestSchema() *jsonschema.Schema {
	createInterestSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("create_interest.json", strings.NewReader(createInterestSchemaJSON)); err != nil {
			panic("api: invalid embedded create-interest schema: " + err.Error())
		}
		createInterestSchema = compiler.MustCompile("create_interest.json")
	})
	return createInterestSchema
}

// validateCreateInterest reports the first schema-validation failure message,
// or "" if doc (a generically-decoded JSON document) satisfies the schema.
func validateCreateInterest(doc any) string {
	if err := compiledCreateInterestSchema().Validate(doc); err != nil {
		return err.Error()
	}
	return ""
}
