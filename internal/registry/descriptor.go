package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"roundtable/internal/logging"
	"roundtable/internal/types"
)

// DefaultConfidence is assumed for descriptor profiles that omit one.
const DefaultConfidence = 0.6

// Descriptor mirrors the on-disk schema under the profile directory.
// Descriptor profiles contribute static advice payloads; programmatic
// profiles register through Registry.Register with their own evaluator.
type Descriptor struct {
	ID          string                 `json:"id" yaml:"id"`
	Name        string                 `json:"name" yaml:"name"`
	Tags        []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
	Keywords    []string               `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	TaskTypes   []string               `json:"task_types,omitempty" yaml:"task_types,omitempty"`
	Authority   float64                `json:"authority,omitempty" yaml:"authority,omitempty"`
	DependsOn   []DependencyDescriptor `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Advice      map[string]string      `json:"advice,omitempty" yaml:"advice,omitempty"`
	Constraints []ConstraintDescriptor `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Confidence  float64                `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// DependencyDescriptor declares an edge to another profile.
type DependencyDescriptor struct {
	Profile string `json:"profile" yaml:"profile"`
	Hard    bool   `json:"hard,omitempty" yaml:"hard,omitempty"`
}

// ConstraintDescriptor declares a key/value constraint on fused output.
type ConstraintDescriptor struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
	Hard  bool   `json:"hard,omitempty" yaml:"hard,omitempty"`
}

// DescriptorFile pairs a parsed descriptor with its on-disk source.
type DescriptorFile struct {
	Descriptor Descriptor
	Path       string
}

// Normalized returns a trimmed copy of the descriptor with defaults applied.
func (d Descriptor) Normalized() Descriptor {
	clone := Descriptor{
		ID:         strings.TrimSpace(d.ID),
		Name:       strings.TrimSpace(d.Name),
		Authority:  d.Authority,
		Confidence: d.Confidence,
	}
	clone.Tags = trimAll(d.Tags)
	clone.Keywords = trimAll(d.Keywords)
	clone.TaskTypes = trimAll(d.TaskTypes)
	if len(d.DependsOn) > 0 {
		clone.DependsOn = make([]DependencyDescriptor, len(d.DependsOn))
		for i, dep := range d.DependsOn {
			clone.DependsOn[i] = DependencyDescriptor{
				Profile: strings.TrimSpace(dep.Profile),
				Hard:    dep.Hard,
			}
		}
	}
	if len(d.Advice) > 0 {
		clone.Advice = make(map[string]string, len(d.Advice))
		for key, value := range d.Advice {
			trimmed := strings.TrimSpace(key)
			if trimmed == "" {
				continue
			}
			clone.Advice[trimmed] = strings.TrimSpace(value)
		}
	}
	if len(d.Constraints) > 0 {
		clone.Constraints = make([]ConstraintDescriptor, len(d.Constraints))
		for i, c := range d.Constraints {
			clone.Constraints[i] = ConstraintDescriptor{
				Key:   strings.TrimSpace(c.Key),
				Value: strings.TrimSpace(c.Value),
				Hard:  c.Hard,
			}
		}
	}
	if clone.Confidence == 0 {
		clone.Confidence = DefaultConfidence
	}
	return clone
}

// Validate ensures the descriptor can become a routable profile.
func (d Descriptor) Validate() error {
	normalized := d.Normalized()
	if normalized.ID == "" {
		return fmt.Errorf("descriptor: id is required")
	}
	if normalized.Name == "" {
		return fmt.Errorf("descriptor %s: name is required", normalized.ID)
	}
	if len(normalized.Tags) == 0 && len(normalized.Keywords) == 0 {
		return fmt.Errorf("descriptor %s: at least one tag or keyword is required", normalized.ID)
	}
	if len(normalized.Advice) == 0 {
		return fmt.Errorf("descriptor %s: at least one advice entry is required", normalized.ID)
	}
	if normalized.Authority < 0 || normalized.Authority > 1 {
		return fmt.Errorf("descriptor %s: authority %.2f outside [0,1]", normalized.ID, normalized.Authority)
	}
	if normalized.Confidence < 0 || normalized.Confidence > 1 {
		return fmt.Errorf("descriptor %s: confidence %.2f outside [0,1]", normalized.ID, normalized.Confidence)
	}
	for _, tt := range normalized.TaskTypes {
		if !types.KnownTaskType(tt) {
			return fmt.Errorf("descriptor %s: unknown task type %q", normalized.ID, tt)
		}
	}
	for idx, dep := range normalized.DependsOn {
		if dep.Profile == "" {
			return fmt.Errorf("descriptor %s: depends_on[%d]: profile id is required", normalized.ID, idx)
		}
		if dep.Profile == normalized.ID {
			return fmt.Errorf("descriptor %s: depends_on[%d]: self-dependency", normalized.ID, idx)
		}
	}
	for idx, c := range normalized.Constraints {
		if c.Key == "" {
			return fmt.Errorf("descriptor %s: constraints[%d]: key is required", normalized.ID, idx)
		}
	}
	return nil
}

// Profile converts the descriptor into a registrable profile whose
// evaluator emits the descriptor's advice as a static contribution.
func (d Descriptor) Profile() types.Profile {
	normalized := d.Normalized()
	p := types.Profile{
		ID:        normalized.ID,
		Name:      normalized.Name,
		Tags:      normalized.Tags,
		Keywords:  normalized.Keywords,
		TaskTypes: normalized.TaskTypes,
		Authority: normalized.Authority,
	}
	for _, dep := range normalized.DependsOn {
		p.DependsOn = append(p.DependsOn, types.Dependency{ProfileID: dep.Profile, Hard: dep.Hard})
	}
	p.Evaluate = staticEvaluator(normalized)
	return p
}

// staticEvaluator returns contributions built from descriptor advice.
// Each call copies the payload so sessions cannot mutate shared state.
func staticEvaluator(d Descriptor) types.EvaluateFunc {
	return func(ctx context.Context, task types.EvalTask) (types.Contribution, error) {
		if err := ctx.Err(); err != nil {
			return types.Contribution{}, err
		}
		payload := make(map[string]string, len(d.Advice))
		for key, value := range d.Advice {
			payload[key] = value
		}
		contrib := types.Contribution{
			ProfileID:  d.ID,
			Payload:    payload,
			Confidence: d.Confidence,
		}
		for _, c := range d.Constraints {
			contrib.Constraints = append(contrib.Constraints, types.Constraint{
				Key:   c.Key,
				Value: c.Value,
				Hard:  c.Hard,
			})
		}
		return contrib, nil
	}
}

// ParseDescriptor decodes and validates a single descriptor payload.
func ParseDescriptor(data []byte) (Descriptor, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Descriptor{}, fmt.Errorf("descriptor: payload is empty")
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("descriptor: decode: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d.Normalized(), nil
}

// LoadDescriptorFile reads a YAML file from disk and returns the parsed descriptor.
func LoadDescriptorFile(path string) (DescriptorFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return DescriptorFile{}, fmt.Errorf("descriptor: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return DescriptorFile{}, fmt.Errorf("descriptor: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DescriptorFile{}, fmt.Errorf("descriptor: read %s: %w", path, err)
	}
	d, err := ParseDescriptor(data)
	if err != nil {
		return DescriptorFile{}, fmt.Errorf("descriptor: %s: %w", path, err)
	}
	return DescriptorFile{Descriptor: d, Path: filepath.Clean(path)}, nil
}

// LoadDescriptorDir scans a directory for *.yaml descriptors and returns
// them ordered by path. Missing directories are treated as "no profiles"
// to simplify startup.
func LoadDescriptorDir(dir string) ([]DescriptorFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("descriptor: read %s: %w", trimmed, err)
	}
	var files []DescriptorFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isYAMLFile(name) {
			continue
		}
		path := filepath.Join(trimmed, name)
		file, err := LoadDescriptorFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// Loader synchronizes a descriptor directory with a registry. It tracks
// which profile ids it owns so reloads never remove profiles registered
// programmatically.
type Loader struct {
	dir      string
	registry *Registry
	owned    map[string]bool
}

// NewLoader creates a loader bound to a descriptor directory.
func NewLoader(dir string, reg *Registry) *Loader {
	return &Loader{
		dir:      dir,
		registry: reg,
		owned:    make(map[string]bool),
	}
}

// Load reads the directory and diffs it against the registry: new ids
// register, changed ids replace, ids owned by a previous load that have
// disappeared from disk are removed. Returns the number of live
// descriptor profiles.
func (l *Loader) Load() (int, error) {
	files, err := LoadDescriptorDir(l.dir)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(files))
	for _, file := range files {
		d := file.Descriptor
		if seen[d.ID] {
			return 0, fmt.Errorf("descriptor: duplicate id %s in %s", d.ID, file.Path)
		}
		seen[d.ID] = true

		p := d.Profile()
		if l.owned[d.ID] {
			if err := l.registry.Replace(p); err != nil {
				return 0, fmt.Errorf("descriptor: %s: %w", file.Path, err)
			}
			continue
		}
		if err := l.registry.Register(p); err != nil {
			if errors.Is(err, ErrDuplicateID) {
				return 0, fmt.Errorf("descriptor: %s collides with a programmatic profile: %w", file.Path, err)
			}
			return 0, fmt.Errorf("descriptor: %s: %w", file.Path, err)
		}
	}

	for id := range l.owned {
		if seen[id] {
			continue
		}
		if err := l.registry.Remove(id); err != nil && !errors.Is(err, ErrNotFound) {
			return 0, err
		}
		logging.Registry("descriptor profile %s removed from disk", id)
	}
	l.owned = seen

	logging.Registry("descriptor load complete: %d profiles from %s", len(seen), l.dir)
	return len(seen), nil
}
