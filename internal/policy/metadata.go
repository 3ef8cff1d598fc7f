// Package policy reconstructs executable policies from admitted artifact
// bytes without ever running generic deserialization on attacker data.
// The trusted path is "numeric tensors + explicit structural metadata":
// the metadata is attacker-controlled but only parameterizes safe object
// construction through a closed, validated schema.
package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Archive entry names required in every artifact.
const (
	MetaFilename    = "safe_policy_meta.json"
	WeightsFilename = "policy.pkl"
)

// Activations enumerates every accepted activation kind. Anything outside
// this set fails schema validation; the metadata can never name code.
var Activations = []string{
	"relu", "tanh", "elu", "leakyrelu", "silu", "gelu", "mish", "selu", "celu",
}

const metaSchemaURL = "https://swarmnet.schemas.local/safe_policy_meta.schema.json"

var metaSchema = mustCompileSchema(fmt.Sprintf(`{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["activation_fn", "net_arch", "obs_dim", "act_dim", "use_sde"],
	"additionalProperties": false,
	"properties": {
		"activation_fn": {"enum": [%s]},
		"net_arch": {
			"type": "array",
			"minItems": 1,
			"maxItems": 8,
			"items": {"type": "integer", "minimum": 1, "maximum": 4096}
		},
		"obs_dim": {"type": "integer", "minimum": 1, "maximum": 4096},
		"act_dim": {"type": "integer", "minimum": 1, "maximum": 256},
		"use_sde": {"type": "boolean"}
	}
}`, quoteList(Activations)))

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}

func mustCompileSchema(schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(metaSchemaURL, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("policy: adding metadata schema: %v", err))
	}
	return c.MustCompile(metaSchemaURL)
}

// Metadata is the structural descriptor travelling alongside the weight
// tensors inside every artifact. It fully determines the parameter set a
// legitimate weights blob must provide.
type Metadata struct {
	ActivationFn string `json:"activation_fn"`
	NetArch      []int  `json:"net_arch"`
	ObsDim       int    `json:"obs_dim"`
	ActDim       int    `json:"act_dim"`
	UseSDE       bool   `json:"use_sde"`
}

// ParseMetadata validates raw metadata bytes against the closed schema
// and decodes them.
func ParseMetadata(raw []byte) (Metadata, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Metadata{}, &IntegrityError{Kind: KindMetadataInvalid, Detail: fmt.Sprintf("metadata is not valid JSON: %v", err)}
	}
	if err := metaSchema.Validate(doc); err != nil {
		return Metadata{}, &IntegrityError{Kind: KindMetadataInvalid, Detail: fmt.Sprintf("metadata schema violation: %v", err)}
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, &IntegrityError{Kind: KindMetadataInvalid, Detail: err.Error()}
	}
	return meta, nil
}
