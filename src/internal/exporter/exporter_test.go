package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VectorBits/solast/src/internal/astparser"
	"github.com/VectorBits/solast/src/internal/ledger"
	"github.com/VectorBits/solast/src/internal/solc"
)

// fakeParser returns a one-node tree, or a syntax error when the source contains "broken".
type fakeParser struct {
	calls int
}

func (f *fakeParser) Parse(_ context.Context, path string, src []byte) (*astparser.Tree, error) {
	f.calls++
	if string(src) == "broken" {
		return nil, &astparser.SyntaxError{Path: path, Diagnostics: []astparser.Diagnostic{
			{Severity: "error", Type: "ParserError", Message: "Expected pragma, import directive or contract/interface/library/struct/enum/constant/function/error definition.", Line: 1, Column: 0},
		}}
	}
	root := map[string]any{
		"nodeType": "SourceUnit",
		"src":      "0:0:0",
		"nodes": []any{
			map[string]any{"nodeType": "PragmaDirective", "literals": []any{"solidity", ">=", "0.8", "<", "0.9"}},
			map[string]any{"nodeType": "BinaryOperation", "operator": "&&"},
		},
	}
	astparser.Annotate(root, astparser.NewLineIndex(src))
	return &astparser.Tree{Root: root, SourceName: filepath.Base(path), Compiler: solc.Binary{Path: "solc", Version: "0.8.26"}}, nil
}

type memRecorder struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (m *memRecorder) Record(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func writeSource(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestOutputPathMirrorsInputTree(t *testing.T) {
	got, err := OutputPath("/a/b/c/X.sol", "/a", "/out")
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/out/b/c/X_ast.json"), got)

	got, err = OutputPath("/a/X.sol", "/a/", "out")
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("out/X_ast.json"), got)

	// only the source extension is stripped
	got, err = OutputPath("/a/Lib.t.sol", "/a", "/out")
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/out/Lib.t_ast.json"), got)

	got, err = OutputPath("/a/notes.txt", "/a", "/out")
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/out/notes.txt_ast.json"), got)
}

func TestOutputPathIndependentOfWorkingDirectory(t *testing.T) {
	root := t.TempDir()
	t.Chdir(filepath.Join(root))

	relative, err := OutputPath(filepath.Join("src", "tokens", "ERC20.sol"), "src", "/out")
	require.NoError(t, err)
	absolute, err := OutputPath(filepath.Join(root, "src", "tokens", "ERC20.sol"), filepath.Join(root, "src"), "/out")
	require.NoError(t, err)

	assert.Equal(t, absolute, relative)
	assert.Equal(t, filepath.FromSlash("/out/tokens/ERC20_ast.json"), relative)
}

func TestOutputPathRejectsFilesOutsideRoot(t *testing.T) {
	_, err := OutputPath("/elsewhere/X.sol", "/a", "/out")
	assert.ErrorIs(t, err, ErrOutsideInputRoot)

	_, err = OutputPath("/a/../X.sol", "/a", "/out")
	assert.ErrorIs(t, err, ErrOutsideInputRoot)
}

func TestExportWritesMirroredFile(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "ast")
	src := filepath.Join(in, "b", "c", "X.sol")
	writeSource(t, src, "pragma solidity <0.9;\n")

	rec := &memRecorder{}
	exp := New(&fakeParser{})
	exp.Recorder = rec

	res, err := exp.Export(context.Background(), src, in, out)
	require.NoError(t, err)

	want := filepath.Join(out, "b", "c", "X_ast.json")
	assert.Equal(t, want, res.Output)
	assert.Equal(t, crypto.Keccak256Hash([]byte("pragma solidity <0.9;\n")), res.SourceHash)
	assert.Equal(t, "solc (0.8.26)", res.Compiler)

	data, err := os.ReadFile(want)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "SourceUnit", decoded["nodeType"])
	assert.Contains(t, decoded, "loc")

	// two-space indentation, no HTML escaping, trailing newline
	assert.Contains(t, string(data), "\n  \"loc\": {")
	assert.Contains(t, string(data), `"<"`)
	assert.Contains(t, string(data), `">="`)
	assert.Contains(t, string(data), `"operator": "&&"`)
	assert.NotContains(t, string(data), `\u00`)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	require.Len(t, rec.entries, 1)
	assert.Equal(t, ledger.StatusOK, rec.entries[0].Status)
	assert.Equal(t, want, rec.entries[0].OutputPath)
	assert.Equal(t, res.SourceHash.Hex(), rec.entries[0].SourceHash)

	entries, err := os.ReadDir(filepath.Dir(want))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestExportIsIdempotentAndOverwrites(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	src := filepath.Join(in, "X.sol")
	writeSource(t, src, "contract X {}")
	target := filepath.Join(out, "X_ast.json")

	// a stale, longer artifact must be replaced, not appended to
	require.NoError(t, os.WriteFile(target, []byte(`{"stale": true, "padding": "..........................................................."}`), 0644))

	exp := New(&fakeParser{})
	_, err := exp.Export(context.Background(), src, in, out)
	require.NoError(t, err)
	first, err := os.ReadFile(target)
	require.NoError(t, err)

	_, err = exp.Export(context.Background(), src, in, out)
	require.NoError(t, err)
	second, err := os.ReadFile(target)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotContains(t, string(first), "stale")
}

func TestExportSyntaxErrorWritesNothing(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "ast")
	src := filepath.Join(in, "sub", "Bad.sol")
	writeSource(t, src, "broken")

	rec := &memRecorder{}
	exp := New(&fakeParser{})
	exp.Recorder = rec

	_, err := exp.Export(context.Background(), src, in, out)
	var syntaxErr *astparser.SyntaxError
	require.True(t, errors.As(err, &syntaxErr))
	assert.Len(t, syntaxErr.Diagnostics, 1)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "no output directory may be created on a parse failure")

	require.Len(t, rec.entries, 1)
	assert.Equal(t, ledger.StatusSyntaxError, rec.entries[0].Status)
	assert.NotEmpty(t, rec.entries[0].SourceHash)
}

func TestExportMissingFile(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "ast")
	parser := &fakeParser{}

	_, err := New(parser).Export(context.Background(), filepath.Join(in, "Missing.sol"), in, out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	var syntaxErr *astparser.SyntaxError
	assert.False(t, errors.As(err, &syntaxErr))
	assert.Zero(t, parser.calls)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExportRejectsInvalidUTF8(t *testing.T) {
	in := t.TempDir()
	src := filepath.Join(in, "Latin1.sol")
	require.NoError(t, os.WriteFile(src, []byte{'c', 0xff, 0xfe}, 0644))

	_, err := New(&fakeParser{}).Export(context.Background(), src, in, t.TempDir())
	assert.ErrorContains(t, err, "not valid UTF-8")
}

func TestExportCreatesMissingDirectories(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "does", "not", "exist")
	src := filepath.Join(in, "b", "c", "X.sol")
	writeSource(t, src, "contract X {}")

	_, err := New(&fakeParser{}).Export(context.Background(), src, in, out)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(out, "b", "c"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
