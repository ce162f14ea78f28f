// Package lang provides the C-family language registry: which language and
// dialect each extension belongs to, and tree-sitter based detection of the
// dialect of ambiguous headers. Which extensions count as headers or sources
// is configuration, not registry data.
package lang

import (
	"context"
	"embed"
	"fmt"
	"path/filepath"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

//go:embed queries/*.scm
var queryFS embed.FS

// Dialect names, spelled as clang's -x argument.
const (
	C         = "c"
	CXX       = "c++"
	ObjC      = "objective-c"
	ObjCXX    = "objective-c++"
	CHeader   = "c-header"
	CXXHeader = "c++-header"
)

// Language holds configuration for a supported C-family language.
type Language struct {
	Name       string
	Extensions []string
	Dialect    string
	lang       *sitter.Language
	queryName  string
	queryOnce  sync.Once
	query      *sitter.Query
	queryErr   error
}

// GetLanguage returns the tree-sitter Language pointer, or nil when the
// language has no grammar.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// GetQuery returns the compiled detection query (safe to share across goroutines).
func (l *Language) GetQuery() (*sitter.Query, error) {
	l.queryOnce.Do(func() {
		if l.queryName == "" || l.lang == nil {
			l.queryErr = fmt.Errorf("language %s has no query", l.Name)
			return
		}
		data, err := queryFS.ReadFile(fmt.Sprintf("queries/%s.scm", l.queryName))
		if err != nil {
			l.queryErr = fmt.Errorf("reading query file: %w", err)
			return
		}
		q, err := sitter.NewQuery(data, l.lang)
		if err != nil {
			l.queryErr = fmt.Errorf("compiling query: %w", err)
			return
		}
		l.query = q
	})
	return l.query, l.queryErr
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// Ambiguous reports whether a header named name could be either C or C++,
// so its dialect has to be read from its contents.
func Ambiguous(name string) bool {
	return ForExtension(filepath.Ext(name)) != "cpp"
}

// Dialect returns the -x value clang would need for the file at name.
// Ambiguous headers are disambiguated by looking at source; everything else
// is classified by extension alone.
func Dialect(name string, header bool, source []byte) string {
	if header {
		if !Ambiguous(name) {
			return CXXHeader
		}
		return DetectHeaderDialect(source)
	}
	if l := Languages[ForExtension(filepath.Ext(name))]; l != nil {
		return l.Dialect
	}
	return ""
}

// DetectHeaderDialect reports c-header for a header the C grammar accepts
// cleanly. Otherwise it runs the C++ detection query and reports c++-header
// when a C++-only construct is present.
func DetectHeaderDialect(source []byte) string {
	if len(source) == 0 {
		return CHeader
	}
	if clean, err := parsesCleanly(Languages["c"], source); err == nil && clean {
		return CHeader
	}

	cpp := Languages["cpp"]
	q, err := cpp.GetQuery()
	if err != nil {
		return CHeader
	}

	parser := cpp.NewParser()
	defer parser.Close()
	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return CHeader
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())
	if _, ok := qc.NextMatch(); ok {
		return CXXHeader
	}
	return CHeader
}

func parsesCleanly(l *Language, source []byte) (bool, error) {
	parser := l.NewParser()
	defer parser.Close()
	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return false, err
	}
	defer tree.Close()
	return !tree.RootNode().HasError(), nil
}
