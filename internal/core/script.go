package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ScriptSuffix marks a file as eligible for execution.
	ScriptSuffix = ".ha.sh"
	// MaxScriptSize is the largest script body accepted, in bytes.
	MaxScriptSize = 655_360
)

// Script is a validated script file.
type Script struct {
	path string
}

// LoadScript validates path and returns the script with its canonical path.
func LoadScript(path string) (*Script, error) {
	if !HasScriptSuffix(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScript, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, path)
		}
		return nil, fmt.Errorf("stat script: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve script path: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize script path: %w", err)
	}
	return &Script{path: canonical}, nil
}

// HasScriptSuffix reports whether the base name of path carries ScriptSuffix.
func HasScriptSuffix(path string) bool {
	return strings.HasSuffix(filepath.Base(path), ScriptSuffix)
}

// Path returns the canonical absolute path.
func (s *Script) Path() string { return s.path }

// Dir returns the directory holding the script.
func (s *Script) Dir() string { return filepath.Dir(s.path) }

// Name returns the file name with ScriptSuffix removed.
func (s *Script) Name() string {
	return strings.TrimSuffix(filepath.Base(s.path), ScriptSuffix)
}
