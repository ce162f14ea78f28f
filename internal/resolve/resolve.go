// Package resolve decides which compiler flags a C-family analyzer should use
// for a file. It never fails: an empty result is the "no opinion" answer.
package resolve

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/phobologic/ycmflags/internal/compdb"
	"github.com/phobologic/ycmflags/internal/config"
	"github.com/phobologic/ycmflags/internal/logging"
	"github.com/phobologic/ycmflags/internal/model"
)

// Database is the lookup side of a compilation database.
type Database interface {
	Lookup(filename string) (compdb.Info, bool)
}

// Resolver maps a file to the flags it should be analyzed with.
type Resolver struct {
	cfg    *config.Config
	db     Database
	exists func(path string) bool
	log    logrus.FieldLogger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDatabase sets the compilation database. A nil db means none is
// configured and the static flags are used.
func WithDatabase(db Database) Option {
	return func(r *Resolver) {
		r.db = db
	}
}

// WithStat replaces the file-existence probe used for header pairing.
func WithStat(exists func(path string) bool) Option {
	return func(r *Resolver) {
		r.exists = exists
	}
}

// WithLogger sets the logger for debug tracing.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Resolver) {
		r.log = log
	}
}

// New creates a Resolver over cfg.
func New(cfg *config.Config, opts ...Option) *Resolver {
	r := &Resolver{
		cfg:    cfg,
		exists: fileExists,
		log:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	// A typed nil pointer in the interface still means "no database".
	if db, ok := r.db.(*compdb.Database); ok && db == nil {
		r.db = nil
	}
	return r
}

// HasDatabase reports whether lookups go to a compilation database.
func (r *Resolver) HasDatabase() bool {
	return r.db != nil
}

// Resolve returns the flags for filename when language is the configured
// C-family tag. Headers are swapped for a sibling source file sharing their
// base name when one exists, so database lookups (which have no header
// entries) and jump-to-definition work against the translation unit.
func (r *Resolver) Resolve(filename, language string) model.Result {
	if language != r.cfg.Language {
		return model.Result{}
	}

	filename = r.FindCorrespondingSourceFile(filename)

	if r.db == nil {
		return model.Result{
			Flags:                     r.cfg.StaticFlags(),
			IncludePathsRelativeToDir: r.cfg.IncludeDir,
			OverrideFilename:          filename,
		}
	}

	info, ok := r.db.Lookup(filename)
	if !ok || len(info.Flags) == 0 {
		r.log.WithField("file", filename).Debug("no compilation database entry")
		return model.Result{}
	}

	flags := info.Flags
	for _, excluded := range r.cfg.ExcludedFlags {
		var removed bool
		flags, removed = RemoveFlag(flags, excluded)
		if removed {
			r.log.WithField("flag", excluded).Debug("removed excluded flag")
		}
	}

	return model.Result{
		Flags:                     flags,
		IncludePathsRelativeToDir: info.WorkingDir,
		OverrideFilename:          filename,
	}
}

// FindCorrespondingSourceFile returns the first existing sibling source file
// of a header, or filename unchanged.
func (r *Resolver) FindCorrespondingSourceFile(filename string) string {
	if !r.isHeader(filename) {
		return filename
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	for _, ext := range r.cfg.SourceExtensions {
		candidate := base + ext
		if r.exists(candidate) {
			r.log.WithFields(logrus.Fields{"header": filename, "source": candidate}).Debug("paired header with source")
			return candidate
		}
	}
	return filename
}

func (r *Resolver) isHeader(filename string) bool {
	return slices.Contains(r.cfg.HeaderExtensions, filepath.Ext(filename))
}

// RemoveFlag returns flags without the first occurrence of flag. A missing
// flag is not an error; removed reports whether anything was dropped.
func RemoveFlag(flags []string, flag string) (out []string, removed bool) {
	i := slices.Index(flags, flag)
	if i < 0 {
		return flags, false
	}
	return slices.Delete(slices.Clone(flags), i, i+1), true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
