// Package workers resolves the set of node agents the aggregator fans out to.
//
// Resolvers never cache: every call reads its source again so the worker set
// can be changed without restarting the aggregator.
package workers

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"aurora-fleet/internal/config"
)

// Resolver returns the current ordered list of worker addresses (host:port).
type Resolver interface {
	Resolve() ([]string, error)
}

// Env reads a comma separated list from an environment variable.
type Env struct {
	Key    string
	Lookup func(string) string
}

func (e Env) Resolve() ([]string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.Getenv
	}
	return ParseList(lookup(e.Key)), nil
}

// File reads a YAML document of the form:
//
//	workers:
//	  - kvm-01:8080
//	  - kvm-02:8080
type File struct {
	Path string
}

type fileDoc struct {
	Workers []string `yaml:"workers"`
}

func (f File) Resolve() ([]string, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read workers file: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse workers file %s: %w", f.Path, err)
	}
	return clean(doc.Workers), nil
}

// Static is a fixed worker list, typically supplied on the command line.
type Static []string

func (s Static) Resolve() ([]string, error) {
	return clean(s), nil
}

// FromConfig picks the worker source for the aggregator. Static workers win
// over a workers file, which wins over the environment.
func FromConfig(cfg config.Aggregator) Resolver {
	switch {
	case len(cfg.StaticWorkers) > 0:
		return Static(cfg.StaticWorkers)
	case cfg.WorkersFile != "":
		return File{Path: cfg.WorkersFile}
	default:
		return Env{Key: cfg.WorkersKey}
	}
}

// ParseList splits a comma separated worker list, dropping blank entries.
func ParseList(raw string) []string {
	return clean(strings.Split(raw, ","))
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, h := range in {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}
