// Package scan resolves flags for every C-family file of a project and
// reports how each one was answered.
package scan

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/phobologic/ycmflags/internal/discover"
	"github.com/phobologic/ycmflags/internal/lang"
	"github.com/phobologic/ycmflags/internal/model"
	"github.com/phobologic/ycmflags/internal/resolve"
)

// Run resolves files concurrently and returns one row per file, in the order
// of files. A cancelled ctx stops the remaining work and returns ctx.Err().
func Run(ctx context.Context, root string, files []discover.FileEntry, r *resolve.Resolver, language string, log logrus.FieldLogger) ([]model.FileReport, error) {
	if len(files) == 0 {
		return nil, nil
	}

	type result struct {
		index int
		row   model.FileReport
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int, len(files))
	results := make(chan result, len(files))

	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				if ctx.Err() != nil {
					continue
				}
				results <- result{index: idx, row: scanFile(root, files[idx], r, language, log)}
			}
		}()
	}

	for i := range files {
		work <- i
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results in original order
	rows := make([]model.FileReport, len(files))
	for res := range results {
		rows[res.index] = res.row
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func scanFile(root string, f discover.FileEntry, r *resolve.Resolver, language string, log logrus.FieldLogger) model.FileReport {
	abs := filepath.Join(root, f.Path)

	var source []byte
	if f.Header && lang.Ambiguous(f.Path) {
		data, err := os.ReadFile(abs)
		if err != nil {
			log.WithError(err).WithField("file", f.Path).Warn("reading header")
		}
		source = data
	}

	row := model.FileReport{
		Path:      f.Path,
		Header:    f.Header,
		Dialect:   lang.Dialect(f.Path, f.Header, source),
		Effective: f.Path,
		Source:    model.SourceNone,
	}

	res := r.Resolve(abs, language)
	if res.Empty() {
		return row
	}

	if rel, err := filepath.Rel(root, res.OverrideFilename); err == nil {
		row.Effective = rel
	}
	row.FlagCount = len(res.Flags)
	row.Source = model.SourceStatic
	if r.HasDatabase() {
		row.Source = model.SourceDatabase
	}
	if f.Header {
		row.Mismatch = conflicts(PinnedLanguage(res.Flags), row.Dialect)
	}
	return row
}

// PinnedLanguage returns the language forced by the last -x flag in flags,
// or "" if none is given.
func PinnedLanguage(flags []string) string {
	pinned := ""
	for i := 0; i < len(flags); i++ {
		switch {
		case flags[i] == "-x" && i+1 < len(flags):
			pinned = flags[i+1]
			i++
		case strings.HasPrefix(flags[i], "-x") && len(flags[i]) > 2:
			pinned = flags[i][2:]
		}
	}
	return pinned
}

func conflicts(pinned, dialect string) bool {
	switch pinned {
	case lang.C, lang.CHeader:
		return dialect == lang.CXXHeader
	case lang.CXX, lang.CXXHeader:
		return dialect == lang.CHeader
	}
	return false
}
