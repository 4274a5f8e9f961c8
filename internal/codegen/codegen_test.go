package codegen

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MAsif786/intentc/internal/ast"
	"github.com/MAsif786/intentc/internal/ir"
)

// stubBackend records which capabilities ran, in order.
type stubBackend struct {
	name  string
	calls *[]string
	fail  string // capability name that should error
}

func (s stubBackend) Name() string { return s.name }

func (s stubBackend) emit(capability string, tree *FileTree) error {
	*s.calls = append(*s.calls, capability)
	if s.fail == capability {
		return errors.New("boom")
	}
	tree.Add(capability+".txt", capability)
	return nil
}

func (s stubBackend) EmitModels(b *Build, t *FileTree) error      { return s.emit("emit_models", t) }
func (s stubBackend) EmitPersistence(b *Build, t *FileTree) error { return s.emit("emit_persistence", t) }
func (s stubBackend) EmitAPI(b *Build, t *FileTree) error         { return s.emit("emit_api", t) }
func (s stubBackend) EmitRules(b *Build, t *FileTree) error       { return s.emit("emit_rules", t) }
func (s stubBackend) EmitPolicies(b *Build, t *FileTree) error    { return s.emit("emit_policies", t) }
func (s stubBackend) EmitMigrations(b *Build, t *FileTree) error  { return s.emit("emit_migrations", t) }
func (s stubBackend) EmitTests(b *Build, t *FileTree) error       { return s.emit("emit_tests", t) }
func (s stubBackend) EmitBootstrap(b *Build, t *FileTree) error   { return s.emit("emit_bootstrap", t) }

func testBuild() *Build {
	return &Build{Program: &ast.Program{}, IR: &ir.Program{}, Options: map[string]string{}}
}

func TestGenerateDrivesCapabilitiesInOrder(t *testing.T) {
	var calls []string
	Register(stubBackend{name: "stub-order", calls: &calls})

	tree, err := Generate(testBuild(), "stub-order")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"emit_models", "emit_persistence", "emit_api", "emit_rules",
		"emit_policies", "emit_migrations", "emit_tests", "emit_bootstrap",
	}, calls)
	assert.Equal(t, 8, tree.Len())
}

func TestGenerateUnknownTarget(t *testing.T) {
	_, err := Generate(testBuild(), "cobol")
	require.Error(t, err)

	var unknown *UnknownTargetError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "cobol", unknown.Target)
}

func TestGenerateWrapsBackendFailure(t *testing.T) {
	var calls []string
	Register(stubBackend{name: "stub-fail", calls: &calls, fail: "emit_rules"})

	_, err := Generate(testBuild(), "stub-fail")
	require.Error(t, err)

	var gerr *GeneratorError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, "emit_rules", gerr.Capability)
	assert.Equal(t, "stub-fail", gerr.Target)
}

func TestFileTreeSortedPaths(t *testing.T) {
	tree := NewFileTree()
	tree.Add("b/z.py", "z")
	tree.Add("a.py", "a")
	tree.Add("b/a.py", "ba")

	assert.Equal(t, []string{"a.py", "b/a.py", "b/z.py"}, tree.Paths())

	content, ok := tree.Get("a.py")
	assert.True(t, ok)
	assert.Equal(t, "a", content)

	_, ok = tree.Get("missing")
	assert.False(t, ok)
}

func TestFileTreeWriteTo(t *testing.T) {
	dir := t.TempDir()

	tree := NewFileTree()
	tree.Add("app/models.py", "# models")
	tree.Add("main.py", "# main")
	require.NoError(t, tree.WriteTo(dir))

	data, err := os.ReadFile(filepath.Join(dir, "app", "models.py"))
	require.NoError(t, err)
	assert.Equal(t, "# models", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "# main", string(data))
}
