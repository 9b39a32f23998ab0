package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type SolcConfig struct {
	Path             string `yaml:"path"`
	Version          string `yaml:"version"`
	AutoInstall      bool   `yaml:"auto_install"`
	StopAfterParsing *bool  `yaml:"stop_after_parsing"`
	Timeout          string `yaml:"timeout"`
}

type OutputConfig struct {
	Indent    string `yaml:"indent"`
	Suffix    string `yaml:"suffix"`
	Extension string `yaml:"extension"`
}

type BatchConfig struct {
	Concurrency int      `yaml:"concurrency"`
	Extensions  []string `yaml:"extensions"`
	Exclude     []string `yaml:"exclude"`
}

type LogConfig struct {
	File bool   `yaml:"file"`
	Dir  string `yaml:"dir"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type AppConfig struct {
	Solc     SolcConfig     `yaml:"solc"`
	Output   OutputConfig   `yaml:"output"`
	Batch    BatchConfig    `yaml:"batch"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`

	path string
}

// LoadConfig 读取 settings.yaml。path 为空时按默认位置查找，找不到时使用默认配置。
// 环境变量总是覆盖文件中的值。
func LoadConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
		}
		cfg.path = path
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func DefaultAppConfig() *AppConfig {
	stop := true
	return &AppConfig{
		Solc: SolcConfig{
			StopAfterParsing: &stop,
			Timeout:          "60s",
		},
		Output: OutputConfig{
			Indent:    "  ",
			Suffix:    "_ast.json",
			Extension: ".sol",
		},
		Batch: BatchConfig{
			Concurrency: 4,
			Extensions:  []string{".sol"},
		},
		Log: LogConfig{
			Dir: "logs",
		},
		Database: DatabaseConfig{
			Host: "127.0.0.1",
			Port: "3306",
			User: "root",
			Name: "solast",
		},
	}
}

func findConfigFile() string {
	possiblePaths := []string{
		"config/settings.yaml",
		"settings.yaml",
		"src/config/settings.yaml",
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

func (c *AppConfig) validate() error {
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be positive, got %d", c.Batch.Concurrency)
	}
	if c.Output.Suffix == "" {
		return fmt.Errorf("output.suffix must not be empty")
	}
	if _, err := c.SolcTimeout(); err != nil {
		return err
	}
	if c.Database.Enabled && c.Database.Name == "" {
		return fmt.Errorf("database.name is required when the ledger is enabled")
	}
	return nil
}

// Path 返回实际加载的配置文件路径，未加载文件时为空。
func (c *AppConfig) Path() string {
	return c.path
}

func (c *AppConfig) SolcTimeout() (time.Duration, error) {
	if c.Solc.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Solc.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid solc.timeout %q: %w", c.Solc.Timeout, err)
	}
	return d, nil
}

func (c *AppConfig) StopAfterParsing() bool {
	return c.Solc.StopAfterParsing == nil || *c.Solc.StopAfterParsing
}

func (c *AppConfig) GetDatabaseDSN(includeDBName bool) string {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
	)
	if includeDBName {
		dsn += fmt.Sprintf("%s?parseTime=true&charset=utf8mb4", c.Database.Name)
	} else {
		dsn += "?parseTime=true&charset=utf8mb4"
	}
	return dsn
}
