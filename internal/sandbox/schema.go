package sandbox

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	execParamsSchemaOnce sync.Once
	execParamsSchemaJSON []byte
	execParamsSchemaErr  error
)

// ExecParamsJSONSchema returns the JSON Schema for ExecParams, used by the
// turn engine to validate `shell`/`container.exec` tool-call arguments
// before dispatch.
func ExecParamsJSONSchema() ([]byte, error) {
	execParamsSchemaOnce.Do(func() {
		r := &jsonschema.Reflector{FieldNameTag: "json"}
		schema := r.Reflect(&ExecParams{})
		execParamsSchemaJSON, execParamsSchemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return execParamsSchemaJSON, execParamsSchemaErr
}
