package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

var (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"
	Bold   = "\033[1m"
)

var mu sync.Mutex

func init() {
	if !ColorEnabled(os.Stdout, os.Getenv("NO_COLOR")) {
		DisableColor()
	}
}

// ColorEnabled reports whether ANSI colours should be written to f.
func ColorEnabled(f *os.File, noColor string) bool {
	return noColor == "" && IsTerminal(f)
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func DisableColor() {
	Reset, Red, Green, Yellow, Blue, Cyan, Gray, Bold = "", "", "", "", "", "", "", ""
}

func PrintBanner(w io.Writer, version string) {
	fmt.Fprintln(w, Cyan+Bold+"solast"+Reset+Gray+" "+version+" - Solidity AST exporter"+Reset)
}

// PrintSaved 输出单个文件导出成功的确认行
func PrintSaved(w io.Writer, input, output string) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(w, "AST for %s has been saved to: %s\n", input, output)
}

func LogError(w io.Writer, format string, a ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(w, Red+"[ERROR] "+Reset+format+"\n", a...)
}

func PrintStats(w io.Writer, total, success, failed int, duration time.Duration) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, Gray+strings.Repeat("─", 50)+Reset)
	fmt.Fprintf(w, "🏁 Export completed in %s\n", duration.Round(time.Millisecond))
	fmt.Fprintf(w, "📊 Total: %d | ✅ Success: %d | ❌ Failed: %d\n", total, success, failed)
	fmt.Fprintln(w, Gray+strings.Repeat("─", 50)+Reset)
}
