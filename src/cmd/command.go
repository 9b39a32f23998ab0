package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/VectorBits/solast/src/internal/astparser"
	"github.com/VectorBits/solast/src/internal/batch"
	"github.com/VectorBits/solast/src/internal/config"
	"github.com/VectorBits/solast/src/internal/exporter"
	"github.com/VectorBits/solast/src/internal/ledger"
	"github.com/VectorBits/solast/src/internal/logger"
	"github.com/VectorBits/solast/src/internal/solc"
	"github.com/VectorBits/solast/src/internal/ui"
)

const Version = "v0.1.0"

// Execute 加载配置、组装 exporter，然后按命令分派
func Execute(ctx context.Context, cfg *CLIConfig) error {
	appCfg, err := LoadAppConfig(cfg)
	if err != nil {
		return err
	}

	logger.SetVerbose(cfg.Verbose)
	if cfg.LogFile || appCfg.Log.File {
		logPath, err := logger.InitLogger(appCfg.Log.Dir, "solast")
		if err != nil {
			logger.Warn("Failed to init log file: %v", err)
		} else {
			defer logger.Close()
			logger.Debug("Logging to %s", logPath)
		}
	}
	if p := appCfg.Path(); p != "" {
		logger.Debug("Loaded config from %s", p)
	}

	exp, closeLedger, err := NewExporter(ctx, appCfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	switch cfg.Command {
	case CommandBatch:
		live := ui.IsTerminal(os.Stderr)
		if live {
			ui.PrintBanner(os.Stderr, Version)
		}
		runner := batch.NewRunner(exp, appCfg.Batch.Concurrency)
		runner.Extensions = []string{appCfg.Output.Extension}
		if len(appCfg.Batch.Extensions) > 0 {
			runner.Extensions = appCfg.Batch.Extensions
		}
		runner.Exclude = appCfg.Batch.Exclude
		runner.Live = live
		return ExecuteBatch(ctx, runner, cfg, os.Stdout, os.Stderr)
	default:
		return ExecuteExport(ctx, exp, cfg, os.Stdout)
	}
}

// LoadAppConfig reads .env and settings.yaml, then applies command-line overrides.
func LoadAppConfig(cfg *CLIConfig) (*config.AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to load .env: %v", err)
	}

	appCfg, err := config.LoadConfig(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SolcPath != "" {
		appCfg.Solc.Path = cfg.SolcPath
	}
	if cfg.SolcVersion != "" {
		appCfg.Solc.Version = cfg.SolcVersion
	}
	if cfg.Concurrency > 0 {
		appCfg.Batch.Concurrency = cfg.Concurrency
	}
	return appCfg, nil
}

// NewExporter wires the solc-backed parser and, when enabled, the MySQL ledger.
// The returned func releases the ledger connection.
func NewExporter(ctx context.Context, appCfg *config.AppConfig) (*exporter.Exporter, func(), error) {
	timeout, err := appCfg.SolcTimeout()
	if err != nil {
		return nil, nil, err
	}

	manager := solc.NewManager(solc.Options{
		Path:        appCfg.Solc.Path,
		Version:     appCfg.Solc.Version,
		AutoInstall: appCfg.Solc.AutoInstall,
	})
	parser := astparser.NewSolcParser(manager, solc.ExecRunner{Timeout: timeout}, appCfg.StopAfterParsing())

	exp := exporter.New(parser)
	exp.Extension = appCfg.Output.Extension
	exp.Suffix = appCfg.Output.Suffix
	exp.Indent = appCfg.Output.Indent

	closeFn := func() {}
	if !appCfg.Database.Enabled {
		return exp, closeFn, nil
	}

	// 台账只是附加信息，连不上数据库也继续导出
	db, err := config.InitDB(ctx, appCfg)
	if err != nil {
		logger.Warn("Export ledger disabled: %v", err)
		return exp, closeFn, nil
	}
	rec, err := ledger.NewMySQLRecorder(ctx, db)
	if err != nil {
		db.Close()
		logger.Warn("Export ledger disabled: %v", err)
		return exp, closeFn, nil
	}
	exp.Recorder = rec
	logger.Debug("Recording exports in %s.ast_exports", appCfg.Database.Name)
	return exp, func() { db.Close() }, nil
}

// ExecuteExport exports a single file and prints the confirmation line to stdout.
func ExecuteExport(ctx context.Context, exp batch.Exporter, cfg *CLIConfig, stdout io.Writer) error {
	res, err := exp.Export(ctx, cfg.FilePath, cfg.InputDir, cfg.OutputDir)
	if err != nil {
		return err
	}
	ui.PrintSaved(stdout, cfg.FilePath, res.Output)
	return nil
}

// ExecuteBatch runs the batch exporter and prints the summary; failed files are listed on stderr.
func ExecuteBatch(ctx context.Context, runner *batch.Runner, cfg *CLIConfig, stdout, stderr io.Writer) error {
	runner.Out = stdout
	runner.ErrOut = stderr

	summary, err := runner.Run(ctx, cfg.InputDir, cfg.OutputDir)
	if summary == nil {
		return err
	}

	ui.PrintStats(stdout, summary.Total, summary.Succeeded, len(summary.Failed), summary.Duration)
	if len(summary.Failed) > 0 {
		fmt.Fprintln(stderr, "Failed to process the following files:")
		for _, f := range summary.Failed {
			ui.LogError(stderr, "%s: %v", f.Path, f.Err)
		}
	}
	if err != nil {
		return err
	}
	return summary.Err()
}
