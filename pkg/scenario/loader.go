package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Loader loads migration scenarios from YAML files.
type Loader struct {
	// basePath is the base directory for resolving relative paths
	basePath string
}

// NewLoader creates a new scenario loader.
// If basePath is empty, the current working directory is used.
func NewLoader(basePath string) *Loader {
	if basePath == "" {
		basePath = "."
	}
	return &Loader{
		basePath: basePath,
	}
}

// Load loads a scenario from a YAML file.
// The path can be absolute or relative to the loader's basePath.
func (l *Loader) Load(path string) (*Scenario, error) {
	resolvedPath, err := l.resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scenario path: %w", err)
	}

	data, err := os.ReadFile(resolvedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", resolvedPath, err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", resolvedPath, err)
	}
	return s, nil
}

// Parse decodes and validates a scenario document. Unknown fields are
// rejected so a typo in an option name never silently drops it.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := Validate(&s); err != nil {
		return nil, fmt.Errorf("scenario validation failed: %w", err)
	}
	return &s, nil
}

// LoadMultiple loads several scenarios.
// Returns all successfully loaded scenarios and any errors encountered.
func (l *Loader) LoadMultiple(paths []string) ([]*Scenario, []error) {
	scenarios := make([]*Scenario, 0, len(paths))
	var errs []error

	for _, path := range paths {
		s, err := l.Load(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to load %s: %w", path, err))
			continue
		}
		scenarios = append(scenarios, s)
	}

	return scenarios, errs
}

// List returns the scenario files (*.yaml, *.yml) of the loader's basePath,
// sorted by name.
func (l *Loader) List() ([]string, error) {
	var out []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(l.basePath, pattern))
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	sort.Strings(out)
	return out, nil
}

// resolvePath returns path as is when it is absolute or exists relative to
// the working directory, and otherwise resolves it against basePath.
func (l *Loader) resolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	resolvedPath := filepath.Join(l.basePath, path)
	if _, err := os.Stat(resolvedPath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("scenario file does not exist: %s", resolvedPath)
		}
		return "", fmt.Errorf("failed to stat scenario file %s: %w", resolvedPath, err)
	}

	return resolvedPath, nil
}

// DefaultScenarioPath returns the default directory of scenario files.
func DefaultScenarioPath() string {
	return "test/scenarios"
}
