package extract

import (
	"log"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// resultSchema is the contract the model must satisfy. Anything outside it
// is rejected whole; the pipeline never stores a partially-typed record.
const resultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["is_job_email"],
  "properties": {
    "is_job_email": { "type": "boolean" },
    "company":  { "type": ["string", "null"] },
    "position": { "type": ["string", "null"] },
    "status": {
      "enum": [null, "Applied", "Interview Scheduled", "Offer Received",
               "Rejected", "Follow-up Needed", "Other"]
    },
    "application_date": { "type": ["string", "null"] },
    "application_source": { "type": ["string", "null"] },
    "location": { "type": ["string", "null"] },
    "salary_min": { "type": ["number", "null"] },
    "salary_max": { "type": ["number", "null"] },
    "notes": { "type": ["string", "null"] }
  },
  "additionalProperties": false
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(resultSchema))
	if err != nil {
		log.Fatal("parse extraction schema:", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.json", doc); err != nil {
		log.Fatal("add extraction schema:", err)
	}
	sch, err := compiler.Compile("extraction.json")
	if err != nil {
		log.Fatal("compile extraction schema:", err)
	}
	return sch
}
