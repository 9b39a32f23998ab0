package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VectorBits/solast/src/internal/astparser"
	"github.com/VectorBits/solast/src/internal/exporter"
	"github.com/VectorBits/solast/src/internal/logger"
	"github.com/VectorBits/solast/src/internal/ui"
)

// ErrFilesFailed is returned by Summary.Err when at least one file could not be exported.
var ErrFilesFailed = errors.New("some files failed to export")

// Exporter is the single-file export step; *exporter.Exporter satisfies it.
type Exporter interface {
	Export(ctx context.Context, filePath, inputDir, outputDir string) (*exporter.Result, error)
}

type Failure struct {
	Path string
	Err  error
}

// Syntax reports whether the file was rejected by the parser rather than failing operationally.
func (f Failure) Syntax() bool {
	var syntaxErr *astparser.SyntaxError
	return errors.As(f.Err, &syntaxErr)
}

type Summary struct {
	Total     int
	Succeeded int
	Failed    []Failure
	Duration  time.Duration
}

func (s *Summary) Err() error {
	if len(s.Failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d", ErrFilesFailed, len(s.Failed), s.Total)
}

type Runner struct {
	Exporter    Exporter
	Concurrency int
	Extensions  []string
	Exclude     []string

	// Out receives the per-file confirmation lines, ErrOut the progress bar and failures.
	Out    io.Writer
	ErrOut io.Writer
	// Live redraws the progress bar in place; per-file confirmations then go to the log file only.
	Live bool
}

func NewRunner(exp Exporter, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Runner{
		Exporter:    exp,
		Concurrency: concurrency,
		Extensions:  []string{exporter.DefaultExtension},
		Out:         os.Stdout,
		ErrOut:      os.Stderr,
	}
}

// Run exports every discovered file under inputDir into outputDir. Per-file failures are
// collected in the summary; only discovery failures and cancellation return an error.
func (r *Runner) Run(ctx context.Context, inputDir, outputDir string) (*Summary, error) {
	if r.Exporter == nil {
		return nil, errors.New("batch: exporter is nil")
	}

	files, err := Discover(inputDir, r.Extensions, r.Exclude)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	summary := &Summary{Total: len(files)}
	if len(files) == 0 {
		logger.Warn("no source files found under %s", inputDir)
		return summary, nil
	}
	logger.Info("Exporting %d files with concurrency %d", len(files), r.Concurrency)

	bar := ui.NewProgressBar(r.ErrOut, len(files), "Exporting", r.Live)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Concurrency)
	for _, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.Exporter.Export(gctx, file, inputDir, outputDir)

			mu.Lock()
			if err != nil {
				summary.Failed = append(summary.Failed, Failure{Path: file, Err: err})
			} else {
				summary.Succeeded++
			}
			mu.Unlock()

			switch {
			case err != nil:
				logger.InfoFileOnly("failed %s: %v", file, err)
				bar.PrintMsg(fmt.Sprintf("%s[FAIL]%s %s: %v", ui.Red, ui.Reset, file, firstLine(err)))
			case r.Live:
				logger.InfoFileOnly("AST for %s has been saved to: %s", file, res.Output)
			default:
				ui.PrintSaved(r.Out, file, res.Output)
			}
			bar.Increment(err != nil)
			return nil
		})
	}
	waitErr := g.Wait()
	bar.Finish()

	sort.Slice(summary.Failed, func(i, j int) bool { return summary.Failed[i].Path < summary.Failed[j].Path })
	summary.Duration = time.Since(started)

	if waitErr != nil {
		return summary, fmt.Errorf("batch interrupted: %w", waitErr)
	}
	return summary, nil
}

// firstLine 只取错误的首行，详细诊断留给汇总
func firstLine(err error) string {
	msg := err.Error()
	for i := 0; i < len(msg); i++ {
		if msg[i] == '\n' {
			return msg[:i]
		}
	}
	return msg
}
