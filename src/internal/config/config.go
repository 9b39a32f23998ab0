package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnv 用 SOLAST_* 环境变量覆盖配置
func (c *AppConfig) applyEnv() {
	c.Solc.Path = getEnv("SOLAST_SOLC_PATH", c.Solc.Path)
	c.Solc.Version = getEnv("SOLAST_SOLC_VERSION", c.Solc.Version)
	c.Solc.AutoInstall = getEnvAsBool("SOLAST_SOLC_AUTO_INSTALL", c.Solc.AutoInstall)
	c.Solc.Timeout = getEnv("SOLAST_SOLC_TIMEOUT", c.Solc.Timeout)

	c.Batch.Concurrency = getEnvAsInt("SOLAST_CONCURRENCY", c.Batch.Concurrency)
	c.Log.File = getEnvAsBool("SOLAST_LOG_FILE", c.Log.File)

	c.Database.Enabled = getEnvAsBool("SOLAST_DB_ENABLED", c.Database.Enabled)
	c.Database.Host = getEnv("SOLAST_DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("SOLAST_DB_PORT", c.Database.Port)
	c.Database.User = getEnv("SOLAST_DB_USER", c.Database.User)
	c.Database.Password = getEnv("SOLAST_DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("SOLAST_DB_NAME", c.Database.Name)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
