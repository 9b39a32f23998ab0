// Package batch exports every Solidity file under a directory.
package batch

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Discover walks root and returns the sorted paths of files whose extension is one of
// extensions. An exclude entry without a slash matches any path segment ("node_modules");
// one with a slash matches a relative path prefix ("lib/forge-std"). Nothing is excluded by
// default; dependency trees are exported like any other source.
func Discover(root string, extensions, exclude []string) ([]string, error) {
	if len(extensions) == 0 {
		extensions = []string{".sol"}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			if !d.IsDir() {
				return fmt.Errorf("%s is not a directory", root)
			}
			return nil
		}

		if IsExcluded(rel, exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !hasExtension(d.Name(), extensions) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}

// IsExcluded reports whether the root-relative path rel falls under one of the patterns.
func IsExcluded(rel string, patterns []string) bool {
	rel = filepath.ToSlash(rel)
	segments := strings.Split(rel, "/")
	for _, p := range patterns {
		p = strings.Trim(filepath.ToSlash(p), "/")
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			for _, s := range segments {
				if s == p {
					return true
				}
			}
			continue
		}
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}

func hasExtension(name string, extensions []string) bool {
	for _, ext := range extensions {
		if ext != "" && strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
