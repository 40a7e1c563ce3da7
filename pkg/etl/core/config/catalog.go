package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

// Catalog is a YAML document declaring jobs, their dependencies and quality rules.
type Catalog struct {
	Jobs         []JobSpec           `yaml:"jobs"`
	Dependencies []DependencySpec    `yaml:"dependencies"`
	Rules        []model.QualityRule `yaml:"rules"`
}

// JobSpec is the catalog form of a job. Jobs are referenced by name.
type JobSpec struct {
	Name       string                 `yaml:"name"`
	Type       model.JobType          `yaml:"type"`
	EntityType string                 `yaml:"entityType"`
	Source     model.SourceDescriptor `yaml:"source"`
	Cleansing  *model.CleansingPolicy `yaml:"cleansing"`
	Mappings   []model.FieldMapping   `yaml:"mappings"`
	Match      model.MatchSpec        `yaml:"match"`
	Schedule   string                 `yaml:"schedule"`
	Queue      string                 `yaml:"queue"`
	Enabled    *bool                  `yaml:"enabled"`
}

// DependencySpec declares parent -> child by job name.
type DependencySpec struct {
	Parent      string               `yaml:"parent"`
	Child       string               `yaml:"child"`
	Kind        model.DependencyKind `yaml:"kind"`
	Description string               `yaml:"description"`
}

// ParseCatalog decodes a catalog document and checks its references.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, exception.New(exception.ConfigError, moduleName, "failed to unmarshal job catalog", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadCatalog reads and parses the catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.New(exception.ConfigError, moduleName, "failed to read job catalog "+path, err)
	}
	return ParseCatalog(data)
}

func (c *Catalog) validate() error {
	var result *multierror.Error
	names := make(map[string]bool)
	for i, j := range c.Jobs {
		if j.Name == "" {
			result = multierror.Append(result, fmt.Errorf("jobs[%d]: name is required", i))
			continue
		}
		if names[j.Name] {
			result = multierror.Append(result, fmt.Errorf("jobs[%d]: duplicate job name %q", i, j.Name))
		}
		names[j.Name] = true
		if !j.Type.IsValid() {
			result = multierror.Append(result, fmt.Errorf("job %q: unknown type %q", j.Name, j.Type))
		}
	}
	for i, d := range c.Dependencies {
		if !names[d.Parent] {
			result = multierror.Append(result, fmt.Errorf("dependencies[%d]: unknown parent job %q", i, d.Parent))
		}
		if !names[d.Child] {
			result = multierror.Append(result, fmt.Errorf("dependencies[%d]: unknown child job %q", i, d.Child))
		}
		if !d.Kind.IsValid() {
			result = multierror.Append(result, fmt.Errorf("dependencies[%d]: unknown kind %q", i, d.Kind))
		}
	}
	for i, r := range c.Rules {
		if r.ID == "" {
			result = multierror.Append(result, fmt.Errorf("rules[%d]: id is required", i))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return exception.New(exception.ConfigError, moduleName, "invalid job catalog", err)
	}
	return nil
}

// ToJob builds a new model.Job from the catalog entry.
func (s JobSpec) ToJob() *model.Job {
	j := model.NewJob(s.Name, s.Type, s.EntityType)
	j.Source = s.Source
	if s.Cleansing != nil {
		j.Cleansing = *s.Cleansing
	}
	j.Mappings = s.Mappings
	j.Match = s.Match
	j.Schedule = s.Schedule
	j.Queue = s.Queue
	if s.Enabled != nil {
		j.Enabled = *s.Enabled
	}
	return j
}

// DecodeOptions decodes a free-form options map into out, accepting weakly typed
// input ("10" for an int) and duration strings.
func DecodeOptions(in map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
