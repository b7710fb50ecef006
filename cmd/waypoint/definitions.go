package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

// sha256Hex computes the SHA-256 hex digest of r.
func sha256Hex(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sha256File computes the SHA-256 hex digest of a file.
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return sha256Hex(f)
}

// readDefinition parses a JSON workflow definition file.
func readDefinition(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wd schema.WorkflowDefinition
	if err := xjson.Unmarshal(data, &wd); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &wd, nil
}

// definitionRegistrar is satisfied by *runtime.Runtime.
type definitionRegistrar interface {
	RegisterJSON(ctx context.Context, wd *schema.WorkflowDefinition) (*engine.Definition, error)
}

// dirLoader registers every *.json definition in a directory, skipping files
// whose content has not changed since the previous Load.
type dirLoader struct {
	registrar definitionRegistrar
	digests   map[string]string // path -> sha256
}

func newDirLoader(r definitionRegistrar) *dirLoader {
	return &dirLoader{registrar: r, digests: make(map[string]string)}
}

// Load returns the number of definitions registered by this call. A broken
// file does not stop the others from loading.
func (l *dirLoader) Load(ctx context.Context, dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read definitions dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	var (
		loaded int
		errs   []error
	)
	for _, path := range paths {
		digest, err := sha256File(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if l.digests[path] == digest {
			continue
		}
		wd, err := readDefinition(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := l.registrar.RegisterJSON(ctx, wd); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
			continue
		}
		l.digests[path] = digest
		loaded++
	}
	return loaded, errors.Join(errs...)
}
