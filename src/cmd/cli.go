package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/VectorBits/solast/src/internal/astparser"
	"github.com/VectorBits/solast/src/internal/batch"
	"github.com/VectorBits/solast/src/internal/ui"
)

const (
	CommandExport = "export"
	CommandBatch  = "batch"
)

// ErrUsage marks wrong command-line usage; the usage text has already been printed.
var ErrUsage = errors.New("invalid arguments")

type CLIConfig struct {
	Command string

	FilePath  string
	InputDir  string
	OutputDir string

	ConfigPath  string
	SolcPath    string
	SolcVersion string
	Concurrency int
	Verbose     bool
	LogFile     bool
}

func (c *CLIConfig) Validate() error {
	switch c.Command {
	case CommandExport:
		if c.FilePath == "" || c.InputDir == "" || c.OutputDir == "" {
			return fmt.Errorf("%w: file path, input directory and output folder must not be empty", ErrUsage)
		}
	case CommandBatch:
		if c.InputDir == "" {
			return fmt.Errorf("%w: -input is required", ErrUsage)
		}
		if c.OutputDir == "" {
			return fmt.Errorf("%w: -output is required", ErrUsage)
		}
		if c.Concurrency < 0 {
			return fmt.Errorf("%w: -concurrency must not be negative", ErrUsage)
		}
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, c.Command)
	}
	return nil
}

func addCommonFlags(fs *flag.FlagSet, cfg *CLIConfig) {
	fs.StringVar(&cfg.ConfigPath, "config", "", "Path to settings.yaml (default: config/settings.yaml if present)")
	fs.StringVar(&cfg.SolcPath, "solc", "", "solc binary to use instead of pragma-based resolution")
	fs.StringVar(&cfg.SolcVersion, "solc-version", "", "solc version to use, e.g. 0.8.26")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose output")
	fs.BoolVar(&cfg.LogFile, "log", false, "Also write a timestamped log file under logs/")
}

// ParseFlags parses the arguments after the program name. Help requests return flag.ErrHelp
// after printing help to stderr; wrong usage prints usage and returns an ErrUsage error.
func ParseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	if len(args) > 0 {
		switch args[0] {
		case CommandBatch:
			return parseBatchFlags(args[1:], stderr)
		case "help":
			showGeneralHelp(stderr)
			return nil, flag.ErrHelp
		}
	}

	cfg := &CLIConfig{Command: CommandExport}
	fs := flag.NewFlagSet("solast", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { showGeneralHelp(stderr) }
	addCommonFlags(fs, cfg)

	rest, err := parseInterleaved(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if len(rest) != 3 {
		showUsage(stderr)
		return nil, fmt.Errorf("%w: expected 3 arguments <filePath> <inputDir> <outputFolder>, got %d", ErrUsage, len(rest))
	}
	cfg.FilePath = strings.TrimSpace(rest[0])
	cfg.InputDir = strings.TrimSpace(rest[1])
	cfg.OutputDir = strings.TrimSpace(rest[2])

	if err := cfg.Validate(); err != nil {
		showUsage(stderr)
		return nil, err
	}
	return cfg, nil
}

// parseInterleaved 允许选项出现在位置参数之后（solast X.sol in out -v）；"--" 之后全部按位置参数处理
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			return append(positional, rest...), nil
		}
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func parseBatchFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{Command: CommandBatch}
	fs := flag.NewFlagSet("solast batch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { showBatchHelp(stderr) }
	addCommonFlags(fs, cfg)
	fs.StringVar(&cfg.InputDir, "input", "", "Input directory containing Solidity files")
	fs.StringVar(&cfg.OutputDir, "output", "", "Output directory for AST files")
	fs.IntVar(&cfg.Concurrency, "concurrency", 0, "Worker concurrency (default: batch.concurrency from config)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() > 0 {
		showBatchHelp(stderr)
		return nil, fmt.Errorf("%w: unexpected arguments %v", ErrUsage, fs.Args())
	}

	cfg.InputDir = strings.TrimSpace(cfg.InputDir)
	cfg.OutputDir = strings.TrimSpace(cfg.OutputDir)
	if err := cfg.Validate(); err != nil {
		showBatchHelp(stderr)
		return nil, err
	}
	return cfg, nil
}

func showUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: solast [OPTIONS] <filePath> <inputDir> <outputFolder>")
	fmt.Fprintln(w, "Run 'solast -h' for more information.")
}

func showGeneralHelp(w io.Writer) {
	fmt.Fprintln(w, ui.Cyan+"USAGE:"+ui.Reset)
	fmt.Fprintln(w, "  solast [OPTIONS] <filePath> <inputDir> <outputFolder>")
	fmt.Fprintln(w, "  solast batch -input <dir> -output <dir> [OPTIONS]")
	fmt.Fprintln(w, "  solast init [-force]")
	fmt.Fprintln(w)

	fmt.Fprintln(w, ui.Cyan+"OPTIONS:"+ui.Reset)
	fmt.Fprintf(w, "  %-25s %s\n", "-config <file>", "settings.yaml to load")
	fmt.Fprintf(w, "  %-25s %s\n", "-solc <path>", "Use this solc binary")
	fmt.Fprintf(w, "  %-25s %s\n", "-solc-version <x.y.z>", "Use this solc version (solc-select / solcx installs)")
	fmt.Fprintf(w, "  %-25s %s\n", "-v", "Verbose output")
	fmt.Fprintf(w, "  %-25s %s\n", "-log", "Write a log file under logs/")
	fmt.Fprintln(w)

	fmt.Fprintln(w, ui.Cyan+"EXAMPLES:"+ui.Reset)
	fmt.Fprintln(w, ui.Gray+"  # Export one file, mirroring contracts/ under ast/"+ui.Reset)
	fmt.Fprintln(w, "  solast contracts/tokens/ERC20.sol contracts ast")
	fmt.Fprintln(w, "  # -> ast/tokens/ERC20_ast.json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, ui.Gray+"  # Export a whole tree with 8 workers"+ui.Reset)
	fmt.Fprintln(w, "  solast batch -input contracts -output ast -concurrency 8")
}

func showBatchHelp(w io.Writer) {
	fmt.Fprintln(w, ui.Cyan+"📦 BATCH MODE"+ui.Reset)
	fmt.Fprintln(w, ui.Gray+"Export every .sol file under -input into a mirrored tree under -output."+ui.Reset)
	fmt.Fprintln(w)
	fmt.Fprintln(w, ui.Cyan+"USAGE:"+ui.Reset)
	fmt.Fprintln(w, "  solast batch -input <dir> -output <dir> [-concurrency n] [-config file] [-solc path] [-v] [-log]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Files that fail to parse are listed at the end; the exit status is 1 if any failed.")
}

func Run() error {
	cfg, err := ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(sigChan)
		close(sigChan)
	}()

	go func() {
		count := 0
		for range sigChan {
			count++
			if count == 1 {
				fmt.Fprintln(os.Stderr, "\nInterrupt received, stopping... (press Ctrl+C again to force exit)")
				cancel()
				continue
			}
			fmt.Fprintln(os.Stderr, "\nForce exiting...")
			os.Exit(130)
		}
	}()

	return Execute(ctx, cfg)
}

func PrintFatal(err error) {
	if err == nil {
		return
	}
	os.Exit(reportError(os.Stderr, err))
}

// reportError writes err to w and returns the process exit status for it.
func reportError(w io.Writer, err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}

	var syntaxErr *astparser.SyntaxError
	switch {
	case errors.As(err, &syntaxErr):
		fmt.Fprintln(w, "Parsing error:", syntaxErr.Path)
		data, mErr := json.MarshalIndent(syntaxErr.Diagnostics, "", "  ")
		if mErr != nil {
			fmt.Fprintln(w, syntaxErr.Error())
			return 1
		}
		fmt.Fprintln(w, string(data))
	case errors.Is(err, batch.ErrFilesFailed):
		// 失败列表已在汇总中输出
	default:
		fmt.Fprintln(w, "Error:", err)
	}
	return 1
}
