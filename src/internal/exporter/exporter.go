// Package exporter writes the parse tree of a Solidity file as <name>_ast.json into an output
// tree that mirrors the input tree.
package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/VectorBits/solast/src/internal/astparser"
	"github.com/VectorBits/solast/src/internal/ledger"
	"github.com/VectorBits/solast/src/internal/logger"
)

const (
	DefaultExtension = ".sol"
	DefaultSuffix    = "_ast.json"
	DefaultIndent    = "  "
)

// ErrOutsideInputRoot is returned when the source file does not live under the input root,
// so its mirrored location would escape the output root.
var ErrOutsideInputRoot = errors.New("file is outside the input directory")

type Result struct {
	Input      string
	Output     string
	SourceHash common.Hash
	Compiler   string
	Duration   time.Duration
}

type Exporter struct {
	Parser    astparser.Parser
	Recorder  ledger.Recorder
	Extension string
	Suffix    string
	Indent    string
}

func New(parser astparser.Parser) *Exporter {
	return &Exporter{
		Parser:    parser,
		Recorder:  ledger.NopRecorder{},
		Extension: DefaultExtension,
		Suffix:    DefaultSuffix,
		Indent:    DefaultIndent,
	}
}

// OutputPath derives outputDir/<dir of filePath relative to inputDir>/<base without .sol>_ast.json.
func OutputPath(filePath, inputDir, outputDir string) (string, error) {
	return outputPath(filePath, inputDir, outputDir, DefaultExtension, DefaultSuffix)
}

func (e *Exporter) OutputPath(filePath, inputDir, outputDir string) (string, error) {
	return outputPath(filePath, inputDir, outputDir, e.Extension, e.Suffix)
}

func outputPath(filePath, inputDir, outputDir, ext, suffix string) (string, error) {
	absInput, err := filepath.Abs(inputDir)
	if err != nil {
		return "", fmt.Errorf("resolve input directory %s: %w", inputDir, err)
	}
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return "", fmt.Errorf("resolve file %s: %w", filePath, err)
	}

	rel, err := filepath.Rel(absInput, absFile)
	if err != nil {
		return "", fmt.Errorf("%s relative to %s: %w", filePath, inputDir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w %s", filePath, ErrOutsideInputRoot, inputDir)
	}

	base := filepath.Base(absFile)
	if ext != "" && base != ext {
		base = strings.TrimSuffix(base, ext)
	}
	return filepath.Join(outputDir, filepath.Dir(rel), base+suffix), nil
}

// Export parses filePath and writes its tree under outputDir. Nothing is written when
// any step fails; a *astparser.SyntaxError in the chain marks a rejected source.
func (e *Exporter) Export(ctx context.Context, filePath, inputDir, outputDir string) (*Result, error) {
	started := time.Now()
	entry := ledger.Entry{SourcePath: filePath, Status: ledger.StatusFailed}
	if abs, err := filepath.Abs(filePath); err == nil {
		entry.SourcePath = abs
	}

	res, err := e.export(ctx, filePath, inputDir, outputDir, &entry)
	if err != nil {
		var syntaxErr *astparser.SyntaxError
		if errors.As(err, &syntaxErr) {
			entry.Status = ledger.StatusSyntaxError
		}
		entry.Error = err.Error()
	} else {
		entry.Status = ledger.StatusOK
		res.Duration = time.Since(started)
	}

	if e.Recorder != nil {
		if recErr := e.Recorder.Record(ctx, entry); recErr != nil {
			logger.Warn("%v", recErr)
		}
	}
	return res, err
}

func (e *Exporter) export(ctx context.Context, filePath, inputDir, outputDir string, entry *ledger.Entry) (*Result, error) {
	if e.Parser == nil {
		return nil, errors.New("exporter: parser is nil")
	}

	src, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if !utf8.Valid(src) {
		return nil, fmt.Errorf("read source %s: not valid UTF-8", filePath)
	}
	hash := crypto.Keccak256Hash(src)
	entry.SourceHash = hash.Hex()

	tree, err := e.Parser.Parse(ctx, filePath, src)
	if err != nil {
		return nil, err
	}
	entry.Compiler = tree.Compiler.String()

	target, err := e.OutputPath(filePath, inputDir, outputDir)
	if err != nil {
		return nil, err
	}

	data, err := e.encode(tree)
	if err != nil {
		return nil, fmt.Errorf("encode AST of %s: %w", filePath, err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := writeFileAtomic(target, data); err != nil {
		return nil, err
	}
	entry.OutputPath = target
	logger.Debug("%s -> %s (%s)", filePath, target, hash.Hex())

	return &Result{
		Input:      filePath,
		Output:     target,
		SourceHash: hash,
		Compiler:   entry.Compiler,
	}, nil
}

func (e *Exporter) encode(tree *astparser.Tree) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", e.Indent)
	if err := enc.Encode(tree.Root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFileAtomic 先写临时文件再 rename，已有文件被整体替换，失败时不留半截文件
func writeFileAtomic(path string, data []byte) error {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmpFile, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp output file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp output file: %w", err)
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to chmod temp output file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp output file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to finalize output file: %w", err)
	}
	return nil
}
