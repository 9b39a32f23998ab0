package cmd

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VectorBits/solast/src/internal/astparser"
	"github.com/VectorBits/solast/src/internal/batch"
	"github.com/VectorBits/solast/src/internal/exporter"
)

func TestParseFlagsPositional(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := ParseFlags([]string{"-v", "-solc", "/opt/solc", "a/b/X.sol", "a", "out"}, &stderr)
	require.NoError(t, err)

	assert.Equal(t, CommandExport, cfg.Command)
	assert.Equal(t, "a/b/X.sol", cfg.FilePath)
	assert.Equal(t, "a", cfg.InputDir)
	assert.Equal(t, "out", cfg.OutputDir)
	assert.Equal(t, "/opt/solc", cfg.SolcPath)
	assert.True(t, cfg.Verbose)
	assert.Empty(t, stderr.String())
}

func TestParseFlagsAfterPositionals(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := ParseFlags([]string{"a/b/X.sol", "-v", "a", "out", "-solc-version", "0.8.26"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "a/b/X.sol", cfg.FilePath)
	assert.Equal(t, "a", cfg.InputDir)
	assert.Equal(t, "out", cfg.OutputDir)
	assert.Equal(t, "0.8.26", cfg.SolcVersion)
	assert.True(t, cfg.Verbose)

	// "--" 之后的参数即使以 - 开头也是路径
	cfg, err = ParseFlags([]string{"-v", "--", "-odd.sol", "in", "out"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "-odd.sol", cfg.FilePath)
	assert.True(t, cfg.Verbose)

	_, err = ParseFlags([]string{"X.sol", "in", "out", "-unknown"}, &stderr)
	assert.ErrorIs(t, err, ErrUsage)
}

func TestParseFlagsWrongArgumentCount(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"X.sol"},
		{"X.sol", "in"},
		{"X.sol", "in", "out", "extra"},
		{"X.sol", "in", "-v", "out", "extra"},
	} {
		var stderr bytes.Buffer
		_, err := ParseFlags(args, &stderr)
		assert.ErrorIs(t, err, ErrUsage, "%v", args)
		assert.Contains(t, stderr.String(), "Usage: solast", "%v", args)
	}
}

func TestParseFlagsRejectsEmptyArguments(t *testing.T) {
	var stderr bytes.Buffer
	_, err := ParseFlags([]string{"X.sol", " ", "out"}, &stderr)
	assert.ErrorIs(t, err, ErrUsage)
}

func TestParseFlagsHelp(t *testing.T) {
	var stderr bytes.Buffer
	_, err := ParseFlags([]string{"-h"}, &stderr)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, stderr.String(), "solast batch")

	stderr.Reset()
	_, err = ParseFlags([]string{"batch", "-h"}, &stderr)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, stderr.String(), "BATCH MODE")
}

func TestParseFlagsBatch(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := ParseFlags([]string{"batch", "-input", "contracts", "-output", "ast", "-concurrency", "8", "-log"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, CommandBatch, cfg.Command)
	assert.Equal(t, "contracts", cfg.InputDir)
	assert.Equal(t, "ast", cfg.OutputDir)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.True(t, cfg.LogFile)

	_, err = ParseFlags([]string{"batch", "-input", "contracts"}, &stderr)
	assert.ErrorIs(t, err, ErrUsage)

	_, err = ParseFlags([]string{"batch", "-input", "a", "-output", "b", "stray"}, &stderr)
	assert.ErrorIs(t, err, ErrUsage)

	_, err = ParseFlags([]string{"batch", "-input", "a", "-output", "b", "-concurrency", "-2"}, &stderr)
	assert.ErrorIs(t, err, ErrUsage)
}

func TestReportError(t *testing.T) {
	var buf bytes.Buffer
	code := reportError(&buf, &astparser.SyntaxError{
		Path: "Bad.sol",
		Diagnostics: []astparser.Diagnostic{
			{Severity: "error", Type: "ParserError", Message: "Expected ';' but got '}'", Line: 3, Column: 4},
		},
	})
	assert.Equal(t, 1, code)
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Parsing error: Bad.sol\n"))
	assert.Contains(t, out, `"type": "ParserError"`)
	assert.Contains(t, out, `"message": "Expected ';' but got '}'"`)
	assert.Contains(t, out, `"line": 3`)

	buf.Reset()
	assert.Equal(t, 1, reportError(&buf, errors.New("read source: open X.sol: no such file or directory")))
	assert.Equal(t, "Error: read source: open X.sol: no such file or directory\n", buf.String())

	buf.Reset()
	assert.Equal(t, 1, reportError(&buf, batch.ErrFilesFailed))
	assert.Empty(t, buf.String())

	buf.Reset()
	assert.Equal(t, 130, reportError(&buf, context.Canceled))
	assert.Empty(t, buf.String())
}

type stubExporter struct {
	err error
}

func (s stubExporter) Export(_ context.Context, filePath, inputDir, outputDir string) (*exporter.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	out, err := exporter.OutputPath(filePath, inputDir, outputDir)
	if err != nil {
		return nil, err
	}
	return &exporter.Result{Input: filePath, Output: out}, nil
}

func TestExecuteExportPrintsConfirmation(t *testing.T) {
	var stdout bytes.Buffer
	cfg := &CLIConfig{Command: CommandExport, FilePath: "/a/b/c/X.sol", InputDir: "/a", OutputDir: "/out"}

	require.NoError(t, ExecuteExport(context.Background(), stubExporter{}, cfg, &stdout))
	assert.Equal(t, "AST for /a/b/c/X.sol has been saved to: "+filepath.FromSlash("/out/b/c/X_ast.json")+"\n", stdout.String())

	stdout.Reset()
	err := ExecuteExport(context.Background(), stubExporter{err: errors.New("boom")}, cfg, &stdout)
	assert.EqualError(t, err, "boom")
	assert.Empty(t, stdout.String())
}

func TestExecuteBatchReportsFailures(t *testing.T) {
	in := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(in, "A.sol"), []byte("contract A {}"), 0644))

	runner := batch.NewRunner(stubExporter{err: errors.New("solc crashed")}, 1)
	var stdout, stderr bytes.Buffer
	err := ExecuteBatch(context.Background(), runner, &CLIConfig{Command: CommandBatch, InputDir: in, OutputDir: t.TempDir()}, &stdout, &stderr)

	assert.ErrorIs(t, err, batch.ErrFilesFailed)
	assert.Contains(t, stdout.String(), "Failed: 1")
	assert.Contains(t, stderr.String(), "Failed to process the following files:")
	assert.Contains(t, stderr.String(), filepath.Join(in, "A.sol")+": solc crashed")
}

func TestLoadAppConfigAppliesFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solc:\n  version: \"0.7.6\"\nbatch:\n  concurrency: 2\n"), 0644))

	appCfg, err := LoadAppConfig(&CLIConfig{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "0.7.6", appCfg.Solc.Version)
	assert.Equal(t, 2, appCfg.Batch.Concurrency)

	appCfg, err = LoadAppConfig(&CLIConfig{ConfigPath: path, SolcVersion: "0.8.26", SolcPath: "/opt/solc", Concurrency: 6})
	require.NoError(t, err)
	assert.Equal(t, "0.8.26", appCfg.Solc.Version)
	assert.Equal(t, "/opt/solc", appCfg.Solc.Path)
	assert.Equal(t, 6, appCfg.Batch.Concurrency)

	_, err = LoadAppConfig(&CLIConfig{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.ErrorContains(t, err, "failed to load config")
}

// writeFakeSolc writes a shell script that discards its stdin and prints response.
func writeFakeSolc(t *testing.T, response string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake solc is a shell script")
	}
	path := filepath.Join(t.TempDir(), "solc")
	script := "#!/bin/sh\ncat >/dev/null\ncat <<'EOF'\n" + response + "\nEOF\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestNewExporterEndToEnd(t *testing.T) {
	solcPath := writeFakeSolc(t, `{"sources":{"Token.sol":{"id":0,"ast":{"nodeType":"SourceUnit","src":"0:13:0","id":1,"nodes":[]}}}}`)

	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "ast")
	src := filepath.Join(in, "tokens", "Token.sol")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0755))
	require.NoError(t, os.WriteFile(src, []byte("contract T {}"), 0644))

	appCfg, err := LoadAppConfig(&CLIConfig{ConfigPath: writeSettings(t), SolcPath: solcPath})
	require.NoError(t, err)
	exp, closeFn, err := NewExporter(context.Background(), appCfg)
	require.NoError(t, err)
	defer closeFn()

	var stdout bytes.Buffer
	require.NoError(t, ExecuteExport(context.Background(), exp, &CLIConfig{FilePath: src, InputDir: in, OutputDir: out}, &stdout))

	data, err := os.ReadFile(filepath.Join(out, "tokens", "Token_ast.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"nodeType": "SourceUnit"`)
	assert.Contains(t, string(data), `"loc": {`)
	assert.Contains(t, stdout.String(), "has been saved to:")
}

func TestNewExporterSyntaxError(t *testing.T) {
	solcPath := writeFakeSolc(t, `{"errors":[{"severity":"error","type":"ParserError","message":"Expected '{' but got end of source","sourceLocation":{"file":"Bad.sol","start":10,"end":10}}]}`)

	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "ast")
	src := filepath.Join(in, "Bad.sol")
	require.NoError(t, os.WriteFile(src, []byte("contract B"), 0644))

	appCfg, err := LoadAppConfig(&CLIConfig{ConfigPath: writeSettings(t), SolcPath: solcPath})
	require.NoError(t, err)
	exp, closeFn, err := NewExporter(context.Background(), appCfg)
	require.NoError(t, err)
	defer closeFn()

	err = ExecuteExport(context.Background(), exp, &CLIConfig{FilePath: src, InputDir: in, OutputDir: out}, &bytes.Buffer{})
	var syntaxErr *astparser.SyntaxError
	require.True(t, errors.As(err, &syntaxErr))
	assert.Equal(t, 1, syntaxErr.Diagnostics[0].Line)
	assert.Equal(t, 10, syntaxErr.Diagnostics[0].Column)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

// writeSettings returns a settings file with the ledger off, so the environment cannot turn it on.
func writeSettings(t *testing.T) string {
	t.Helper()
	t.Setenv("SOLAST_DB_ENABLED", "false")
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  enabled: false\n"), 0644))
	return path
}
