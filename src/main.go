package main

import (
	"embed"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/VectorBits/solast/src/cmd"
	"github.com/VectorBits/solast/src/internal/ui"
)

//go:embed config/settings.example.yaml
var embeddedFiles embed.FS

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(os.Args[2:]); err != nil {
			cmd.PrintFatal(err)
		}
		return
	}

	if err := cmd.Run(); err != nil {
		cmd.PrintFatal(err)
	}
}

// runInit 释放默认配置文件到 config/settings.yaml
func runInit(args []string) error {
	fs := flag.NewFlagSet("solast init", flag.ContinueOnError)
	force := fs.Bool("force", false, "Overwrite an existing config/settings.yaml")
	dir := fs.String("dir", "config", "Directory to write settings.yaml into")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", cmd.ErrUsage, err)
	}

	targetFile := filepath.Join(*dir, "settings.yaml")
	if _, err := os.Stat(targetFile); err == nil && !*force {
		fmt.Printf(ui.Yellow+"⚠️  %s already exists (use -force to overwrite)"+ui.Reset+"\n", targetFile)
		return nil
	}

	if err := os.MkdirAll(*dir, 0755); err != nil {
		return fmt.Errorf("failed to init config file: %w", err)
	}
	data, err := embeddedFiles.ReadFile("config/settings.example.yaml")
	if err != nil {
		return err
	}
	if err := os.WriteFile(targetFile, data, 0644); err != nil {
		return fmt.Errorf("failed to init config file: %w", err)
	}

	fmt.Printf(ui.Green+"✅ Created default config file: %s"+ui.Reset+"\n", targetFile)
	return nil
}
