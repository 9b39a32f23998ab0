package solc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/VectorBits/solast/src/internal/logger"
)

// ErrNotFound is returned when no solc binary can be located.
var ErrNotFound = errors.New("solc binary not found")

// Binary is a resolved solc executable. Version is empty when unknown (plain `solc` from PATH).
type Binary struct {
	Path    string
	Version string
}

func (b Binary) String() string {
	if b.Version == "" {
		return b.Path
	}
	return fmt.Sprintf("%s (%s)", b.Path, b.Version)
}

type Options struct {
	// Path 固定使用的 solc，优先级最高
	Path string
	// Version 固定版本，为空时从 pragma 推断
	Version     string
	AutoInstall bool
}

// Manager solc 版本管理器
type Manager struct {
	opts Options

	mu           sync.RWMutex
	versionCache map[string]string // version -> solc path
	installLocks sync.Map          // version -> *installOnce

	lookPath func(string) (string, error)
	homeDir  func() (string, error)
	install  func(ctx context.Context, version string) error
}

type installOnce struct {
	once sync.Once
	err  error
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		opts:         opts,
		versionCache: make(map[string]string),
		lookPath:     exec.LookPath,
		homeDir:      os.UserHomeDir,
	}
	m.install = m.solcSelectInstall
	return m
}

var (
	pragmaRe  = regexp.MustCompile(`pragma\s+solidity\s+([^;]+);`)
	versionRe = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)
	upperRe   = regexp.MustCompile(`(<=|<)\s*(\d+)\.(\d+)(?:\.(\d+))?`)
)

// ExtractPragmaVersion 从源码的 pragma solidity 声明里挑出一个能满足约束的版本。
// 有上界（<0.8.0）时取上界之前最后一个发布版，否则取约束里出现的最高版本。
func ExtractPragmaVersion(source string) string {
	matches := pragmaRe.FindAllStringSubmatch(source, -1)
	if len(matches) == 0 {
		return ""
	}

	var versions []string
	for _, match := range matches {
		constraint := strings.TrimSpace(match[1])
		if picked := pickVersionFromConstraint(constraint); picked != "" {
			versions = append(versions, picked)
			continue
		}
		// an upper bound we cannot map must not be picked itself
		constraint = upperRe.ReplaceAllString(constraint, "")
		for _, vm := range versionRe.FindAllStringSubmatch(constraint, -1) {
			patch := vm[3]
			if patch == "" {
				patch = "0"
			}
			versions = append(versions, vm[1]+"."+vm[2]+"."+patch)
		}
	}

	if len(versions) == 0 {
		return ""
	}

	maxVersion := versions[0]
	for _, v := range versions[1:] {
		if compareVersions(v, maxVersion) > 0 {
			maxVersion = v
		}
	}
	return maxVersion
}

// lastPatch 每个 0.x 系列的最后一个发布版
var lastPatch = map[int]string{
	4: "0.4.26",
	5: "0.5.17",
	6: "0.6.12",
	7: "0.7.6",
}

func pickVersionFromConstraint(constraint string) string {
	m := upperRe.FindStringSubmatch(constraint)
	if m == nil {
		return ""
	}
	major, _ := strconv.Atoi(m[2])
	minor, _ := strconv.Atoi(m[3])
	if m[1] == "<=" {
		if m[4] != "" {
			return m[2] + "." + m[3] + "." + m[4]
		}
		return m[2] + "." + m[3] + ".0"
	}
	// < x.y.0 → last release of the previous minor series
	if major == 0 && (m[4] == "" || m[4] == "0") {
		if v, ok := lastPatch[minor-1]; ok {
			return v
		}
	}
	return ""
}

// stopAfterMinVersion 是接受 settings.stopAfter 的最低版本，更老的 solc 会回 JSONError
const stopAfterMinVersion = "0.8.0"

// SupportsStopAfter reports whether a solc of the given version accepts settings.stopAfter.
// An unknown version is assumed to be recent.
func SupportsStopAfter(version string) bool {
	version = normalizeVersion(version)
	if version == "" {
		return true
	}
	return compareVersions(version, stopAfterMinVersion) >= 0
}

func compareVersions(v1, v2 string) int {
	parts1 := strings.Split(v1, ".")
	parts2 := strings.Split(v2, ".")
	for i := 0; i < 3; i++ {
		var n1, n2 int
		if i < len(parts1) {
			n1, _ = strconv.Atoi(parts1[i])
		}
		if i < len(parts2) {
			n2, _ = strconv.Atoi(parts2[i])
		}
		if n1 != n2 {
			if n1 > n2 {
				return 1
			}
			return -1
		}
	}
	return 0
}

func normalizeVersion(version string) string {
	version = strings.TrimSpace(version)
	version = strings.TrimPrefix(version, "v")
	for _, prefix := range []string{"^", ">=", "<=", ">", "<", "~", "="} {
		version = strings.TrimPrefix(version, prefix)
	}
	return strings.TrimSpace(version)
}

// Resolve 为给定源码选择 solc：配置路径 > 配置版本/pragma 版本 > PATH 中的 solc
func (m *Manager) Resolve(ctx context.Context, source string) (Binary, error) {
	if m.opts.Path != "" {
		if !fileExists(m.opts.Path) || !isExecutable(m.opts.Path) {
			return Binary{}, fmt.Errorf("configured solc %s is not an executable file: %w", m.opts.Path, ErrNotFound)
		}
		return Binary{Path: m.opts.Path, Version: normalizeVersion(m.opts.Version)}, nil
	}

	version := m.opts.Version
	if version == "" {
		version = ExtractPragmaVersion(source)
	}
	if version != "" {
		path, err := m.GetSolcPath(ctx, version)
		if err == nil {
			return Binary{Path: path, Version: normalizeVersion(version)}, nil
		}
		logger.Debug("solc %s unavailable, falling back to PATH: %v", version, err)
	}

	path, err := m.lookPath("solc")
	if err != nil {
		if version != "" {
			return Binary{}, fmt.Errorf("no solc for version %s and none on PATH: %w", version, ErrNotFound)
		}
		return Binary{}, fmt.Errorf("no solc on PATH: %w", ErrNotFound)
	}
	return Binary{Path: path}, nil
}

// GetSolcPath 获取指定版本的 solc 路径（带缓存）
func (m *Manager) GetSolcPath(ctx context.Context, version string) (string, error) {
	version = normalizeVersion(version)
	if version == "" {
		return "", fmt.Errorf("version is empty")
	}

	m.mu.RLock()
	path, ok := m.versionCache[version]
	m.mu.RUnlock()
	if ok && fileExists(path) {
		return path, nil
	}

	if path := m.findInstalled(version); path != "" {
		m.cachePath(version, path)
		return path, nil
	}

	if !m.opts.AutoInstall {
		return "", fmt.Errorf("solc %s is not installed (enable solc.auto_install or run: solc-select install %s)", version, version)
	}

	v, _ := m.installLocks.LoadOrStore(version, &installOnce{})
	lock := v.(*installOnce)
	lock.once.Do(func() {
		lock.err = m.install(ctx, version)
	})
	if lock.err != nil {
		return "", lock.err
	}

	if path := m.findInstalled(version); path != "" {
		m.cachePath(version, path)
		return path, nil
	}
	return "", fmt.Errorf("solc %s installed but binary not found", version)
}

func (m *Manager) cachePath(version, path string) {
	m.mu.Lock()
	m.versionCache[version] = path
	m.mu.Unlock()
}

func (m *Manager) findInstalled(version string) string {
	homeDir, err := m.homeDir()
	if err != nil {
		return ""
	}
	for _, path := range candidatePaths(homeDir, version) {
		if fileExists(path) && isExecutable(path) {
			return path
		}
	}
	return ""
}

// candidatePaths solc-select 与 py-solc-x 的安装位置
func candidatePaths(homeDir, version string) []string {
	exe := ""
	if runtime.GOOS == "windows" {
		exe = ".exe"
	}

	solcSelectDir := filepath.Join(homeDir, ".solc-select", "artifacts", fmt.Sprintf("solc-%s", version))
	solcxDir := filepath.Join(homeDir, ".solcx")

	paths := []string{
		filepath.Join(solcSelectDir, fmt.Sprintf("solc-%s%s", version, exe)),
		filepath.Join(solcSelectDir, "solc"+exe),
		filepath.Join(homeDir, ".solc-select", "artifacts", version, fmt.Sprintf("solc-%s%s", version, exe)),
		filepath.Join(solcxDir, fmt.Sprintf("solc-v%s%s", version, exe)),
		filepath.Join(solcxDir, fmt.Sprintf("solc-%s%s", version, exe)),
	}
	if runtime.GOOS == "darwin" {
		paths = append(paths, filepath.Join(solcxDir, fmt.Sprintf("solc-v%s", version), "bin", "solc"))
	}
	return paths
}

func (m *Manager) solcSelectInstall(ctx context.Context, version string) error {
	if _, err := m.lookPath("solc-select"); err != nil {
		return fmt.Errorf("solc-select not available to install solc %s: %w", version, err)
	}
	logger.Info("Installing solc %s with solc-select...", version)
	out, err := exec.CommandContext(ctx, "solc-select", "install", version).CombinedOutput()
	if err != nil {
		return fmt.Errorf("solc-select install %s failed: %w: %s", version, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}
