package capabilities

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Blobs are the two capability documents a module announces. Both are opaque
// to the runtime once loaded.
type Blobs struct {
	Schema        string
	Configuration string
}

// Loader reads capability documents from a list of search paths. A document
// is read from disk once per Loader; a module announces the content it
// started with.
type Loader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewLoader(searchPaths []string) *Loader {
	return &Loader{
		validator:   NewValidator(),
		searchPaths: searchPaths,
	}
}

// Read returns the content of name. Absolute paths are read directly, relative
// ones are tried against each search path in order, then as given.
func (l *Loader) Read(name string) (string, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(string), nil
	}

	candidates := []string{name}
	if !filepath.IsAbs(name) {
		candidates = candidates[:0]
		for _, searchPath := range l.searchPaths {
			candidates = append(candidates, filepath.Join(searchPath, name))
		}
		candidates = append(candidates, name)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err == nil {
			content := string(data)
			l.cache.Store(name, content)
			return content, nil
		}
	}

	return "", fmt.Errorf("capability file not found: %s (searched in: %v)", name, l.searchPaths)
}

// Load reads both documents and, when the schema is a JSON Schema, validates
// the configuration against it.
func (l *Loader) Load(schemaFile, configurationFile string) (Blobs, error) {
	schema, err := l.Read(schemaFile)
	if err != nil {
		return Blobs{}, fmt.Errorf("failed to read capabilities schema: %w", err)
	}

	configuration, err := l.Read(configurationFile)
	if err != nil {
		return Blobs{}, fmt.Errorf("failed to read capabilities configuration: %w", err)
	}

	if err := l.validator.Validate(schema, configuration); err != nil {
		return Blobs{}, fmt.Errorf("validation failed for %s: %w", configurationFile, err)
	}

	return Blobs{Schema: schema, Configuration: configuration}, nil
}
