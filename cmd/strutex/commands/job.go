package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Aquilesorei/strutex/pkg/schema"
)

// job is a YAML extraction job:
//
//	provider: anthropic
//	model: claude-sonnet-4-5
//	file: invoice.pdf
//	prompt: Extract the invoice header and line items
//	schema:            # inline JSON Schema, or a path to a schema file
//	  type: object
//	  properties:
//	    number: {type: string}
type job struct {
	Provider string   `yaml:"provider"`
	Model    string   `yaml:"model"`
	File     string   `yaml:"file"`
	Files    []string `yaml:"files"`
	Prompt   string   `yaml:"prompt"`
	Schema   any      `yaml:"schema"`

	dir string
}

func loadJob(path string) (*job, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- job path is user supplied
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	var j job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse job %s: %w", path, err)
	}
	if j.File == "" && len(j.Files) == 0 {
		return nil, errors.New("job needs file or files")
	}
	if j.Prompt == "" {
		return nil, errors.New("job needs a prompt")
	}
	j.dir = filepath.Dir(path)
	return &j, nil
}

// inputs returns the job's documents. Relative paths are resolved against
// the job file's directory; URLs are kept as they are.
func (j *job) inputs() []string {
	var refs []string
	if j.File != "" {
		refs = append(refs, j.File)
	}
	refs = append(refs, j.Files...)
	for i, ref := range refs {
		if isLocalPath(ref) && !filepath.IsAbs(ref) {
			refs[i] = filepath.Join(j.dir, ref)
		}
	}
	return refs
}

// schema returns the inline schema, the schema file it names, or nil.
func (j *job) schema() (*schema.Schema, error) {
	switch v := j.Schema.(type) {
	case nil:
		return nil, nil
	case string:
		path := v
		if !filepath.IsAbs(path) {
			path = filepath.Join(j.dir, path)
		}
		return schema.FromFile(path)
	case map[string]any:
		data, err := yaml.Marshal(v)
		if err != nil {
			return nil, err
		}
		return schema.FromYAML(data)
	}
	return nil, fmt.Errorf("job schema must be a mapping or a file path, got %T", j.Schema)
}

func isLocalPath(ref string) bool {
	for _, prefix := range []string{"http://", "https://", "s3://", "file://"} {
		if strings.HasPrefix(ref, prefix) {
			return false
		}
	}
	return true
}
