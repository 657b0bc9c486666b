// Package seed instantiates workflows from YAML hierarchy templates.
package seed

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/internal/dependency"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

//go:embed templates/*.yaml
var builtin embed.FS

// Template describes one workflow: stages, steps, tasks and the dependency
// edges between tasks, referenced by task key.
type Template struct {
	Name         string               `yaml:"name" validate:"required"`
	Stages       []StageTemplate      `yaml:"stages" validate:"required,min=1,dive"`
	Dependencies []DependencyTemplate `yaml:"dependencies" validate:"dive"`
}

type StageTemplate struct {
	Name        string         `yaml:"name" validate:"required"`
	AutoAdvance *bool          `yaml:"auto_advance"`
	OnComplete  []any          `yaml:"on_complete"`
	Steps       []StepTemplate `yaml:"steps" validate:"required,min=1,dive"`
}

type StepTemplate struct {
	Name        string         `yaml:"name" validate:"required"`
	AutoAdvance *bool          `yaml:"auto_advance"`
	OnComplete  []any          `yaml:"on_complete"`
	Tasks       []TaskTemplate `yaml:"tasks" validate:"dive"`
}

type TaskTemplate struct {
	Key              string         `yaml:"key" validate:"required"`
	Name             string         `yaml:"name" validate:"required"`
	Kind             string         `yaml:"kind" validate:"omitempty,oneof=manual automated"`
	AutoAdvance      *bool          `yaml:"auto_advance"`
	ReviewRequired   bool           `yaml:"review_required"`
	EstimatedMinutes *int           `yaml:"estimated_minutes" validate:"omitempty,min=0"`
	Fields           map[string]any `yaml:"fields"`
	Subtasks         []string       `yaml:"subtasks" validate:"dive,required"`
	Checklist        []string       `yaml:"checklist" validate:"dive,required"`
	Automation       []any          `yaml:"automation"`
}

type DependencyTemplate struct {
	From       string `yaml:"from" validate:"required"`
	To         string `yaml:"to" validate:"required"`
	Type       string `yaml:"type"`
	LagMinutes int    `yaml:"lag_minutes"`
}

var validate = validator.New()

// Parse decodes and checks a template. Unknown keys are rejected so typos
// do not silently drop configuration.
func Parse(r io.Reader) (*Template, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var tpl Template
	if err := dec.Decode(&tpl); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperr.Validation("template is empty")
		}
		return nil, apperr.Validation("decode template: %v", err)
	}
	if err := tpl.Check(); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// LoadFile parses the template at path.
func LoadFile(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()
	tpl, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tpl, nil
}

// Builtin returns the templates shipped with the service, by file order.
func Builtin() ([]*Template, error) {
	entries, err := fs.ReadDir(builtin, "templates")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]*Template, 0, len(names))
	for _, name := range names {
		raw, err := builtin.ReadFile(path.Join("templates", name))
		if err != nil {
			return nil, err
		}
		tpl, err := Parse(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, tpl)
	}
	return out, nil
}

// Check validates field constraints, task key uniqueness, dependency
// references and acyclicity.
func (t *Template) Check() error {
	if err := validate.Struct(t); err != nil {
		return apperr.Validation("template %q: %v", t.Name, err)
	}

	keys := t.taskKeys()
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			return apperr.Validation("template %q: duplicate task key %q", t.Name, k)
		}
		seen[k] = true
	}

	edges := make([]models.TaskDependency, 0, len(t.Dependencies))
	for _, d := range t.Dependencies {
		if _, err := models.ParseDependencyType(d.Type); err != nil {
			return apperr.Validation("template %q: %v", t.Name, err)
		}
		edges = append(edges, models.TaskDependency{FromTaskID: d.From, ToTaskID: d.To})
	}
	v := dependency.Validate(keys, edges)
	if len(v.DanglingEdges) > 0 {
		d := v.DanglingEdges[0]
		return apperr.Validation("template %q: dependency %s -> %s references an unknown task key", t.Name, d.FromTaskID, d.ToTaskID)
	}
	if len(v.CycleTaskIDs) > 0 {
		return apperr.Validation("template %q: dependencies form a cycle through %s", t.Name, strings.Join(v.CycleTaskIDs, ", ")).
			WithDetail("cycle_task_ids", v.CycleTaskIDs)
	}
	return nil
}

func (t *Template) taskKeys() []string {
	var keys []string
	for _, st := range t.Stages {
		for _, sp := range st.Steps {
			for _, tk := range sp.Tasks {
				keys = append(keys, tk.Key)
			}
		}
	}
	return keys
}

// decodeActions converts the YAML form of action specs into their typed
// form by way of the JSON encoding the store persists.
func decodeActions(raw []any) ([]models.ActionSpec, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, apperr.Validation("encode actions: %v", err)
	}
	var specs []models.ActionSpec
	if err := json.Unmarshal(b, &specs); err != nil {
		return nil, apperr.Validation("decode actions: %v", err)
	}
	return specs, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
