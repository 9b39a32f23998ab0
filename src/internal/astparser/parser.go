package astparser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/VectorBits/solast/src/internal/logger"
	"github.com/VectorBits/solast/src/internal/solc"
)

// Parser turns one source file into a parse tree. Implementations return *SyntaxError when
// the source is rejected and a plain error for anything else.
type Parser interface {
	Parse(ctx context.Context, path string, src []byte) (*Tree, error)
}

// Resolver picks the solc binary for a given source text.
type Resolver interface {
	Resolve(ctx context.Context, source string) (solc.Binary, error)
}

// SolcParser delegates parsing to solc's standard-JSON interface.
type SolcParser struct {
	Resolver         Resolver
	Runner           solc.Runner
	StopAfterParsing bool
}

func NewSolcParser(resolver Resolver, runner solc.Runner, stopAfterParsing bool) *SolcParser {
	return &SolcParser{
		Resolver:         resolver,
		Runner:           runner,
		StopAfterParsing: stopAfterParsing,
	}
}

// Parse 调用 solc 解析源码，结果中的每个节点都带 loc
func (p *SolcParser) Parse(ctx context.Context, path string, src []byte) (*Tree, error) {
	// 只用文件名作为 source unit 名，保证输出与调用位置无关
	name := filepath.Base(path)

	bin, err := p.Resolver.Resolve(ctx, string(src))
	if err != nil {
		return nil, fmt.Errorf("resolve solc for %s: %w", path, err)
	}
	logger.Debug("parsing %s with solc %s", path, bin)

	stop := p.StopAfterParsing && solc.SupportsStopAfter(bin.Version)
	out, err := solc.Compile(ctx, p.Runner, bin, solc.NewParseInput(name, string(src), stop))
	if err != nil {
		return nil, fmt.Errorf("run solc on %s: %w", path, err)
	}
	// 版本未知的 solc 可能不认识 stopAfter，去掉后重试一次
	if stop && rejectsRequest(out) {
		logger.Debug("solc %s rejected stopAfter, retrying %s with full analysis", bin, path)
		out, err = solc.Compile(ctx, p.Runner, bin, solc.NewParseInput(name, string(src), false))
		if err != nil {
			return nil, fmt.Errorf("run solc on %s: %w", path, err)
		}
	}

	li := NewLineIndex(src)
	var diagnostics []Diagnostic
	for _, e := range out.Errors {
		if !e.IsError() {
			logger.Debug("%s: %s: %s", path, e.Type, e.Message)
			continue
		}
		// 没有源码位置的错误（JSONError、IOError 等）不是语法问题
		if e.SourceLocation == nil {
			return nil, fmt.Errorf("solc %s: %s: %s", bin, e.Type, e.Message)
		}
		pos := li.Position(e.SourceLocation.Start)
		diagnostics = append(diagnostics, Diagnostic{
			Severity:         e.Severity,
			Type:             e.Type,
			ErrorCode:        e.ErrorCode,
			Message:          e.Message,
			FormattedMessage: e.FormattedMessage,
			Line:             pos.Line,
			Column:           pos.Column,
		})
	}
	if len(diagnostics) > 0 {
		return nil, &SyntaxError{Path: path, Diagnostics: diagnostics}
	}

	source, ok := out.Sources[name]
	if !ok || len(source.AST) == 0 {
		return nil, fmt.Errorf("solc %s returned no AST for %s", bin, path)
	}

	root, err := decodeTree(source.AST)
	if err != nil {
		return nil, fmt.Errorf("decode AST of %s: %w", path, err)
	}
	Annotate(root, li)

	return &Tree{Root: root, SourceName: name, Compiler: bin}, nil
}

// rejectsRequest reports whether solc refused the request itself rather than the source.
func rejectsRequest(out *solc.StandardOutput) bool {
	for _, e := range out.Errors {
		if e.IsError() && e.SourceLocation == nil && e.Type == "JSONError" {
			return true
		}
	}
	return false
}

func decodeTree(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, err
	}
	return root, nil
}
