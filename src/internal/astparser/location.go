package astparser

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Position is a 1-based line and a 0-based column counted in characters.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type Location struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// LineIndex maps byte offsets of one source text to line/column positions.
type LineIndex struct {
	src        []byte
	lineStarts []int
}

func NewLineIndex(src []byte) *LineIndex {
	starts := []int{0}
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{src: src, lineStarts: starts}
}

// Position clamps offset into the source and converts it.
func (li *LineIndex) Position(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(li.src) {
		offset = len(li.src)
	}
	line := sort.Search(len(li.lineStarts), func(i int) bool { return li.lineStarts[i] > offset }) - 1
	start := li.lineStarts[line]
	return Position{
		Line:   line + 1,
		Column: utf8.RuneCount(li.src[start:offset]),
	}
}

func (li *LineIndex) Location(start, end int) Location {
	return Location{Start: li.Position(start), End: li.Position(end)}
}

// parseSrc splits a solc source range "start:length:fileIndex".
func parseSrc(src string) (start, length int, ok bool) {
	parts := strings.Split(src, ":")
	if len(parts) < 2 {
		return 0, 0, false
	}
	start, err1 := strconv.Atoi(parts[0])
	length, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || start < 0 || length < 0 {
		return 0, 0, false
	}
	return start, length, true
}

// Annotate adds a `loc` entry to every object in node that carries a valid `src` range.
// Existing `loc` entries are left alone.
func Annotate(node any, li *LineIndex) {
	switch n := node.(type) {
	case map[string]any:
		if _, has := n["loc"]; !has {
			if src, ok := n["src"].(string); ok {
				if start, length, ok := parseSrc(src); ok {
					n["loc"] = li.Location(start, start+length)
				}
			}
		}
		for _, child := range n {
			Annotate(child, li)
		}
	case []any:
		for _, child := range n {
			Annotate(child, li)
		}
	}
}
