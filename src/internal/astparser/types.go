package astparser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/VectorBits/solast/src/internal/solc"
)

// Tree is a parse tree as produced by solc, with `loc` annotations added to every node.
// Root is the decoded JSON value; numbers are kept as json.Number so they round-trip verbatim.
type Tree struct {
	Root       any
	SourceName string
	Compiler   solc.Binary
}

// MarshalJSON writes Root without HTML escaping. json.Marshal escapes the result again, so
// callers that need "<" and "&&" verbatim use an Encoder with SetEscapeHTML(false).
func (t *Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t.Root); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Diagnostic is one parser-reported problem.
type Diagnostic struct {
	Severity         string `json:"severity"`
	Type             string `json:"type"`
	ErrorCode        string `json:"errorCode,omitempty"`
	Message          string `json:"message"`
	FormattedMessage string `json:"formattedMessage,omitempty"`
	Line             int    `json:"line"`
	Column           int    `json:"column"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d: %s: %s", d.Line, d.Column, d.Type, d.Message)
}

// SyntaxError is returned when solc rejects the source. It carries every error-severity
// diagnostic in the order solc reported them.
type SyntaxError struct {
	Path        string
	Diagnostics []Diagnostic
}

func (e *SyntaxError) Error() string {
	if len(e.Diagnostics) == 0 {
		return fmt.Sprintf("parsing error in %s", e.Path)
	}
	lines := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		lines = append(lines, e.Path+":"+d.String())
	}
	return fmt.Sprintf("parsing error in %s: %d error(s)\n%s", e.Path, len(e.Diagnostics), strings.Join(lines, "\n"))
}
