package pack

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const manifestSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "array",
	"items": {
		"type": "object",
		"required": ["name", "inputs", "output"],
		"additionalProperties": false,
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"inputs": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
			"output": {"type": "string", "minLength": 1},
			"blockSize": {"type": "integer", "minimum": 1},
			"periodic": {"type": "boolean"}
		}
	}
}`

var compiledManifestSchema = jsonschema.MustCompileString("manifest.json", manifestSchema)

// Job is one entry of a bulk pack manifest.
type Job struct {
	Name      string   `json:"name"`
	Inputs    []string `json:"inputs"`
	Output    string   `json:"output"`
	BlockSize int      `json:"blockSize,omitempty"`
	Periodic  bool     `json:"periodic,omitempty"`
}

// ParseManifest validates a JSON manifest and returns its jobs.  Relative local paths
// are resolved against baseDir.
func ParseManifest(data []byte, baseDir string) ([]Job, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("bad manifest JSON: %v", err)
	}
	if err := compiledManifestSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("invalid manifest: %v", err)
	}
	var jobs []Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(jobs))
	for i := range jobs {
		if _, dup := names[jobs[i].Name]; dup {
			return nil, fmt.Errorf("invalid manifest: duplicate job %q", jobs[i].Name)
		}
		names[jobs[i].Name] = struct{}{}
		for k, in := range jobs[i].Inputs {
			jobs[i].Inputs[k] = resolve(in, baseDir)
		}
		jobs[i].Output = resolve(jobs[i].Output, baseDir)
	}
	return jobs, nil
}

func resolve(p, baseDir string) string {
	if strings.Contains(p, "://") || filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}
