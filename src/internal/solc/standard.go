package solc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// StandardInput 标准 JSON 输入格式
type StandardInput struct {
	Language string                `json:"language"`
	Sources  map[string]SourceFile `json:"sources"`
	Settings Settings              `json:"settings"`
}

type SourceFile struct {
	Content string `json:"content"`
}

type Settings struct {
	StopAfter       string                         `json:"stopAfter,omitempty"`
	OutputSelection map[string]map[string][]string `json:"outputSelection"`
}

// StandardOutput is the subset of `solc --standard-json` output the exporter reads.
type StandardOutput struct {
	Errors  []OutputError           `json:"errors,omitempty"`
	Sources map[string]OutputSource `json:"sources,omitempty"`
}

type OutputError struct {
	Component        string          `json:"component,omitempty"`
	ErrorCode        string          `json:"errorCode,omitempty"`
	FormattedMessage string          `json:"formattedMessage,omitempty"`
	Message          string          `json:"message"`
	Severity         string          `json:"severity"`
	Type             string          `json:"type"`
	SourceLocation   *SourceLocation `json:"sourceLocation,omitempty"`
}

type SourceLocation struct {
	File  string `json:"file"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type OutputSource struct {
	ID  int             `json:"id"`
	AST json.RawMessage `json:"ast,omitempty"`
}

// NewParseInput 构造只要 AST 的请求；stopAfterParsing 时 solc 不做名称解析与类型检查
func NewParseInput(name, content string, stopAfterParsing bool) StandardInput {
	in := StandardInput{
		Language: "Solidity",
		Sources: map[string]SourceFile{
			name: {Content: content},
		},
		Settings: Settings{
			OutputSelection: map[string]map[string][]string{
				"*": {"": {"ast"}},
			},
		},
	}
	if stopAfterParsing {
		in.Settings.StopAfter = "parsing"
	}
	return in
}

// IsError reports whether the entry blocks AST generation (warnings and infos do not).
func (e OutputError) IsError() bool {
	return strings.EqualFold(e.Severity, "error")
}

// Runner executes solc with a standard-JSON request and returns its raw response.
type Runner interface {
	Run(ctx context.Context, bin Binary, input []byte) ([]byte, error)
}

type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, bin Binary, input []byte) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin.Path, "--standard-json")
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("solc %s: %w", bin, ctxErr)
		}
		// 某些版本出错时仍会在 stdout 给出完整 JSON
		if stdout.Len() == 0 {
			return nil, fmt.Errorf("solc execution failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
		}
	}
	return stdout.Bytes(), nil
}

// Compile sends the request through runner and decodes the response.
func Compile(ctx context.Context, runner Runner, bin Binary, input StandardInput) (*StandardOutput, error) {
	if runner == nil {
		return nil, errors.New("solc runner is nil")
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode standard json input: %w", err)
	}

	raw, err := runner.Run(ctx, bin, payload)
	if err != nil {
		return nil, err
	}
	return ParseOutput(raw)
}

// ParseOutput decodes a standard-JSON response, tolerating banner text before the JSON object.
func ParseOutput(raw []byte) (*StandardOutput, error) {
	start := bytes.IndexByte(raw, '{')
	if start == -1 {
		return nil, fmt.Errorf("no JSON object in solc output: %q", truncate(string(raw), 200))
	}

	var out StandardOutput
	dec := json.NewDecoder(bytes.NewReader(raw[start:]))
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode solc output: %w", err)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
