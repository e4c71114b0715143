// Package definition loads YAML page definitions, validates them against the
// backend OpenAPI index, and serves them from a registry with atomic swap.
package definition

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marketbytes-devops/kwa-console/model"
)

// Loader reads domain definition files. Decoding is strict: an unknown key
// or field type fails the load.
type Loader struct{}

// NewLoader returns a Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll loads every .yaml/.yml file below dirs, skipping dot files such as
// editor swap files. Domains come back in navigation order, ties broken by
// domain name.
func (l *Loader) LoadAll(dirs []string) ([]model.DomainDefinition, error) {
	var paths []string
	for _, dir := range dirs {
		found, err := definitionFiles(dir)
		if err != nil {
			return nil, fmt.Errorf("definition: scan %s: %w", dir, err)
		}
		paths = append(paths, found...)
	}

	defs := make([]model.DomainDefinition, 0, len(paths))
	for _, p := range paths {
		def, err := l.LoadFile(p)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	slices.SortStableFunc(defs, func(a, b model.DomainDefinition) int {
		return cmp.Or(
			cmp.Compare(a.Navigation.Order, b.Navigation.Order),
			strings.Compare(a.Domain, b.Domain),
		)
	})
	return defs, nil
}

func definitionFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir():
			return nil
		case strings.HasPrefix(d.Name(), "."):
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

// LoadFile decodes one domain file and stamps it with its path and the
// SHA-256 of its bytes.
func (l *Loader) LoadFile(path string) (model.DomainDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.DomainDefinition{}, fmt.Errorf("definition: %w", err)
	}

	var def model.DomainDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return model.DomainDefinition{}, fmt.Errorf("definition: %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	def.Checksum = hex.EncodeToString(sum[:])
	def.SourceFile = path
	return def, nil
}
