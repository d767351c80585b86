// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks that every translation key used in the Go sources
// exists in every locale file, and lists keys no code refers to.
package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Location stores the file and line number of a found key.
type Location struct {
	Filepath string
	Line     int
}

// report is the outcome of one lint run.
type report struct {
	Used     map[string][]Location
	Missing  map[string][]string // locale file -> keys used in code but absent
	Orphaned []string            // keys in the primary locale nobody uses
}

func (r report) failed() bool {
	for _, keys := range r.Missing {
		if len(keys) > 0 {
			return true
		}
	}
	return false
}

func main() {
	root := pflag.String("root", ".", "project root to scan")
	locales := pflag.String("locales", "internal/i18n/locales", "directory holding <lang>.yaml files")
	primary := pflag.String("primary", "en.yaml", "locale whose keys are the reference for orphan detection")
	pflag.Parse()

	r, err := lint(*root, *locales, *primary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "i18n-linter: %v\n", err)
		os.Exit(2)
	}
	printReport(os.Stdout, r)
	if r.failed() {
		os.Exit(1)
	}
}

func lint(root, localesDir, primary string) (report, error) {
	used, err := findUsedKeys(root)
	if err != nil {
		return report{}, fmt.Errorf("scan sources: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(localesDir, "*.yaml"))
	if err != nil {
		return report{}, err
	}
	if len(files) == 0 {
		return report{}, fmt.Errorf("no locale files in %s", localesDir)
	}

	r := report{Used: used, Missing: map[string][]string{}}
	for _, file := range files {
		keys, err := loadKeysFromLocale(file)
		if err != nil {
			return report{}, fmt.Errorf("load %s: %w", file, err)
		}
		var missing []string
		for key := range used {
			if _, ok := keys[key]; !ok {
				missing = append(missing, key)
			}
		}
		sort.Strings(missing)
		r.Missing[filepath.Base(file)] = missing

		if filepath.Base(file) == primary {
			for key := range keys {
				if _, ok := used[key]; !ok {
					r.Orphaned = append(r.Orphaned, key)
				}
			}
			sort.Strings(r.Orphaned)
		}
	}
	return r, nil
}

func printReport(w io.Writer, r report) {
	fmt.Fprintf(w, "%d translation keys used in source code\n", len(r.Used))
	names := make([]string, 0, len(r.Missing))
	for name := range r.Missing {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		missing := r.Missing[name]
		if len(missing) == 0 {
			fmt.Fprintf(w, "%s: all keys present\n", name)
			continue
		}
		for _, key := range missing {
			loc := r.Used[key][0]
			fmt.Fprintf(w, "%s: missing %s (used at %s:%d)\n", name, key, loc.Filepath, loc.Line)
		}
	}
	for _, key := range r.Orphaned {
		fmt.Fprintf(w, "orphaned: %s\n", key)
	}
}

// keyRe matches i18n.T("id") and bare literals shaped like message ids of
// the cli, config and error namespaces, which is how ids reach helpers
// such as printf(w, "cli.revoked", id).
var keyRe = regexp.MustCompile(`i18n\.T\("([^"]+)"|"((?:cli|config|error)\.[a-z_]+)"`)

// findUsedKeys scans the non-test .go files below root. The tools
// directory is skipped.
func findUsedKeys(root string) (map[string][]Location, error) {
	keys := make(map[string][]Location)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case "tools", "_examples", ".git":
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for i, line := range strings.Split(string(content), "\n") {
			for _, m := range keyRe.FindAllStringSubmatch(line, -1) {
				key := m[1]
				if key == "" {
					key = m[2]
				}
				keys[key] = append(keys[key], Location{Filepath: path, Line: i + 1})
			}
		}
		return nil
	})
	return keys, err
}

// loadKeysFromLocale reads a YAML file and returns a flat set of its keys.
func loadKeysFromLocale(path string) (map[string]struct{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}
	keys := make(map[string]struct{})
	flattenYAML("", data, keys)
	return keys, nil
}

// flattenYAML joins nested maps into dot-separated keys.
func flattenYAML(prefix string, node interface{}, keys map[string]struct{}) {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, val := range v {
			next := k
			if prefix != "" {
				next = prefix + "." + k
			}
			flattenYAML(next, val, keys)
		}
	case []interface{}:
		for i, val := range v {
			flattenYAML(fmt.Sprintf("%s[%d]", prefix, i), val, keys)
		}
	default:
		if prefix != "" {
			keys[prefix] = struct{}{}
		}
	}
}
