package kv

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options configures Load. Path is the base path both the database
// file ("<path>.db") and log file ("<path>.log") are derived from.
type Options struct {
	Path            string `yaml:"path"`
	CreateIfMissing bool   `yaml:"create_if_missing"`
	ErrorIfExists   bool   `yaml:"error_if_exists"`
	LogLevel        string `yaml:"log_level"`
}

// DefaultOptions returns the Options a bare `kvengine` invocation uses:
// create the database if it is not already there, never error if it
// is, info-level logging.
func DefaultOptions(path string) Options {
	return Options{Path: path, CreateIfMissing: true, LogLevel: "info"}
}

// LoadOptionsFile reads a YAML options file such as:
//
//	path: /var/lib/kvengine/primary
//	create_if_missing: true
//	error_if_exists: false
//	log_level: debug
func LoadOptionsFile(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("kv: load options file: %w", err)
	}
	opts := DefaultOptions("")
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("kv: parse options file: %w", err)
	}
	return opts, nil
}
