package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSource = `auth entity User:
  id: uuid @primary @default(uuid)
  email: email @unique
  password_hash: string
`

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		require.NoError(t, os.Chdir(old))
	})
}

func writeIntent(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.intent")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{
		"--input", "a.intent", "--output", "out", "--target", "python",
		"--dump=ir", "--verbose", "--no-auth-actions",
	})
	require.NoError(t, err)
	assert.Equal(t, "a.intent", opts.input)
	assert.Equal(t, "out", opts.output)
	assert.Equal(t, "python", opts.target)
	assert.Equal(t, "ir", opts.dump)
	assert.True(t, opts.verbose)
	assert.True(t, opts.noAuthActions)
}

func TestParseOptionsDumpForms(t *testing.T) {
	for _, form := range []string{"ast", "ir", "ir-json"} {
		opts, err := parseOptions([]string{"--input", "a.intent", "--dump=" + form})
		require.NoError(t, err, form)
		assert.Equal(t, form, opts.dump)
	}
}

func TestParseOptionsErrors(t *testing.T) {
	_, err := parseOptions([]string{"--output", "out"})
	assert.Error(t, err, "--input is required")

	_, err = parseOptions([]string{"--input", "a", "--dump=tokens"})
	assert.Error(t, err)

	_, err = parseOptions([]string{"--input"})
	assert.Error(t, err)

	_, err = parseOptions([]string{"--input", "a", "--frobnicate"})
	assert.Error(t, err)
}

func TestRunUsage(t *testing.T) {
	assert.Equal(t, exitUsage, run(nil))
	assert.Equal(t, exitUsage, run([]string{"frobnicate"}))
	assert.Equal(t, exitOK, run([]string{"version"}))
	assert.Equal(t, exitOK, run([]string{"help"}))
}

func TestCheckValidFile(t *testing.T) {
	path := writeIntent(t, validSource)
	assert.Equal(t, exitOK, run([]string{"check", "--input", path}))
}

func TestCheckDumpIRJSON(t *testing.T) {
	path := writeIntent(t, validSource)
	assert.Equal(t, exitOK, run([]string{"check", "--input", path, "--dump=ir-json"}))
}

func TestInitWritesConfig(t *testing.T) {
	chdir(t, t.TempDir())

	require.Equal(t, exitOK, run([]string{"init", "--target", "python", "--output", "./api"}))

	data, err := os.ReadFile(filepath.Join(".intentc", "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "default_target: python")
	assert.Contains(t, string(data), "default_output: ./api")

	// A second init must refuse to clobber the existing file.
	assert.Equal(t, exitUsage, run([]string{"init"}))
}

func TestInitRejectsUnknownFlag(t *testing.T) {
	chdir(t, t.TempDir())
	assert.Equal(t, exitUsage, run([]string{"init", "--frobnicate"}))
}

func TestCheckParseError(t *testing.T) {
	path := writeIntent(t, "entity User\n  name: string\n")
	assert.Equal(t, exitParse, run([]string{"check", "--input", path}))
}

func TestCheckSemanticError(t *testing.T) {
	path := writeIntent(t, `entity Doc:
  id: uuid @primary

@api GET /docs
@policy(DoesNotExist)
action list_docs:
  output: Doc(id)
`)
	assert.Equal(t, exitSemantic, run([]string{"check", "--input", path}))
}

func TestCheckMissingInput(t *testing.T) {
	assert.Equal(t, exitUsage, run([]string{"check", "--input", filepath.Join(t.TempDir(), "nope.intent")}))
}

func TestCompileUnknownTarget(t *testing.T) {
	path := writeIntent(t, validSource)
	out := t.TempDir()
	assert.Equal(t, exitUsage, run([]string{"compile", "--input", path, "--output", out, "--target", "rust"}))
}

func TestCompileMissingOutput(t *testing.T) {
	path := writeIntent(t, validSource)
	assert.Equal(t, exitUsage, run([]string{"compile", "--input", path}))
}

func TestCompilePythonProject(t *testing.T) {
	path := writeIntent(t, validSource)
	out := filepath.Join(t.TempDir(), "generated")

	require.Equal(t, exitOK, run([]string{"compile", "--input", path, "--output", out}))

	for _, rel := range []string{"main.py", "requirements.txt", "app/models.py", "app/routes.py"} {
		_, err := os.Stat(filepath.Join(out, filepath.FromSlash(rel)))
		assert.NoError(t, err, "expected %s to be generated", rel)
	}
}

func TestCompileHonorsConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.intent")
	require.NoError(t, os.WriteFile(path, []byte(validSource), 0644))

	out := filepath.Join(dir, "from-config")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".intentc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".intentc", "config.yaml"),
		[]byte("default_target: python\ndefault_output: "+out+"\n"), 0644))

	require.Equal(t, exitOK, run([]string{"compile", "--input", path}))
	_, err := os.Stat(filepath.Join(out, "main.py"))
	assert.NoError(t, err)
}
