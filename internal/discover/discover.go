// Package discover finds the headers and sources of a C-family project.
package discover

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/ycmflags/internal/config"
	"github.com/phobologic/ycmflags/internal/lang"
)

// FileEntry is a discovered header or source file.
type FileEntry struct {
	Path     string // Relative to project root
	Language string // Registry name, or "" for a configured extension the registry does not know
	Header   bool
}

// Options selects which files Files reports.
type Options struct {
	// Languages restricts results to these registry names. Empty means all.
	Languages        []string
	HeaderExtensions []string
	SourceExtensions []string
}

// OptionsFor builds Options from the extension sets of cfg, so discovery
// classifies files exactly as the resolver pairs them.
func OptionsFor(cfg *config.Config, languages []string) Options {
	return Options{
		Languages:        languages,
		HeaderExtensions: cfg.HeaderExtensions,
		SourceExtensions: cfg.SourceExtensions,
	}
}

// Build output and vendored package trees. Hidden directories are skipped too.
var skipDirs = map[string]struct{}{
	"node_modules": {},
	"build":        {},
	"out":          {},
	"dist":         {},
	"CMakeFiles":   {},
}

func skipDir(name string) bool {
	if _, ok := skipDirs[name]; ok {
		return true
	}
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "cmake-build-")
}

// Files lists the headers and sources under root, sorted by path. Inside a
// git work tree the candidates are the files git knows about (tracked or
// untracked but not ignored); elsewhere the tree is walked and .gitignore
// honored.
func Files(root string, opts Options) ([]FileEntry, error) {
	candidates, ok := gitLsFiles(root)
	if !ok {
		var err error
		candidates, err = walk(root, loadGitignore(root))
		if err != nil {
			return nil, err
		}
	}

	var results []FileEntry
	for _, rel := range candidates {
		if e, ok := opts.classify(rel); ok {
			results = append(results, e)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})
	return results, nil
}

func (o Options) classify(rel string) (FileEntry, bool) {
	ext := filepath.Ext(rel)
	e := FileEntry{
		Path:     rel,
		Language: lang.ForExtension(ext),
		Header:   slices.Contains(o.HeaderExtensions, ext),
	}
	if !e.Header && !slices.Contains(o.SourceExtensions, ext) {
		return FileEntry{}, false
	}
	if len(o.Languages) > 0 && !slices.Contains(o.Languages, e.Language) {
		return FileEntry{}, false
	}
	return e, true
}

// walk returns the regular, non-hidden files under root that gi does not
// ignore, relative to root.
func walk(root string, gi *ignore.GitIgnore) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		if d.IsDir() {
			if skipDir(d.Name()) || (gi != nil && gi.MatchesPath(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}

// gitLsFiles reports the files git lists under root. ok is false when root
// is not a git work tree or git cannot be run.
func gitLsFiles(root string) (files []string, ok bool) {
	if info, err := os.Stat(filepath.Join(root, ".git")); err != nil || !info.IsDir() {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil, false
	}

	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		rel := filepath.FromSlash(line)
		if inSkippedDir(rel) || !isRegular(filepath.Join(root, rel)) {
			continue
		}
		files = append(files, rel)
	}
	return files, true
}

// inSkippedDir reports whether any directory component of rel, or the file
// itself when hidden, would be skipped by the walker.
func inSkippedDir(rel string) bool {
	parts := strings.Split(rel, string(filepath.Separator))
	for _, dir := range parts[:len(parts)-1] {
		if skipDir(dir) {
			return true
		}
	}
	return strings.HasPrefix(parts[len(parts)-1], ".")
}

// isRegular is false for symlinks, deleted-but-tracked files and submodules.
func isRegular(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode().IsRegular()
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
