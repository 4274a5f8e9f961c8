// Package codegen defines the target-agnostic generation contract: a
// Backend turns a validated program plus its lowered process IR into a
// virtual file tree. The core never sees target-specific types — only
// this capability set and opaque file contents.
package codegen

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/MAsif786/intentc/internal/ast"
	"github.com/MAsif786/intentc/internal/ir"
)

// Build is the input handed to every backend capability: the validated
// AST, the lowered IR keyed by action name, and the recognized options
// for the selected target.
type Build struct {
	Program *ast.Program
	IR      *ir.Program
	Options map[string]string
}

// Backend is the polymorphic capability set a target must satisfy. Each
// capability adds files to the tree; the dispatcher drives them in a
// fixed order so output is deterministic.
type Backend interface {
	Name() string

	EmitModels(b *Build, tree *FileTree) error
	EmitPersistence(b *Build, tree *FileTree) error
	EmitAPI(b *Build, tree *FileTree) error
	EmitRules(b *Build, tree *FileTree) error
	EmitPolicies(b *Build, tree *FileTree) error
	EmitMigrations(b *Build, tree *FileTree) error
	EmitTests(b *Build, tree *FileTree) error
	EmitBootstrap(b *Build, tree *FileTree) error
}

// UnknownTargetError is the distinct error kind for a --target value
// with no registered backend. The driver maps it to a usage failure,
// not a generator failure.
type UnknownTargetError struct {
	Target string
	Known  []string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown target %q (known targets: %v)", e.Target, e.Known)
}

// GeneratorError wraps a failure bubbled up from a backend capability.
type GeneratorError struct {
	Target     string
	Capability string
	Err        error
}

func (e *GeneratorError) Error() string {
	return fmt.Sprintf("target %s: %s: %v", e.Target, e.Capability, e.Err)
}

func (e *GeneratorError) Unwrap() error { return e.Err }

var registry = map[string]Backend{}

// Register adds a backend to the dispatch table. Called from backend
// package init functions.
func Register(b Backend) {
	registry[b.Name()] = b
}

// Targets returns the registered target names, sorted.
func Targets() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate dispatches to the named backend and drives its capability
// set over the build, returning the resulting file tree.
func Generate(b *Build, target string) (*FileTree, error) {
	backend, ok := registry[target]
	if !ok {
		return nil, &UnknownTargetError{Target: target, Known: Targets()}
	}

	tree := NewFileTree()
	capabilities := []struct {
		name string
		emit func(*Build, *FileTree) error
	}{
		{"emit_models", backend.EmitModels},
		{"emit_persistence", backend.EmitPersistence},
		{"emit_api", backend.EmitAPI},
		{"emit_rules", backend.EmitRules},
		{"emit_policies", backend.EmitPolicies},
		{"emit_migrations", backend.EmitMigrations},
		{"emit_tests", backend.EmitTests},
		{"emit_bootstrap", backend.EmitBootstrap},
	}
	for _, c := range capabilities {
		if err := c.emit(b, tree); err != nil {
			return nil, &GeneratorError{Target: target, Capability: c.name, Err: err}
		}
	}
	return tree, nil
}

// FileTree is a virtual project tree: slash-separated relative paths
// mapped to file contents. Paths() is sorted, so walking the tree is
// deterministic regardless of emission order.
type FileTree struct {
	files map[string]string
}

func NewFileTree() *FileTree {
	return &FileTree{files: map[string]string{}}
}

// Add stores a file, overwriting any previous content at the path.
func (t *FileTree) Add(path, content string) {
	t.files[path] = content
}

// Get returns the content at path and whether it exists.
func (t *FileTree) Get(path string) (string, bool) {
	c, ok := t.files[path]
	return c, ok
}

// Len returns the number of files in the tree.
func (t *FileTree) Len() int { return len(t.files) }

// Paths returns every path in the tree, sorted.
func (t *FileTree) Paths() []string {
	paths := make([]string, 0, len(t.files))
	for p := range t.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// WriteTo materializes the tree under dir, creating directories as
// needed. Files are written in sorted path order.
func (t *FileTree) WriteTo(dir string) error {
	for _, path := range t.Paths() {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(full), err)
		}
		if err := os.WriteFile(full, []byte(t.files[path]), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", full, err)
		}
	}
	return nil
}
