// Package compdb reads a JSON compilation database (compile_commands.json)
// and answers per-file flag lookups against it.
package compdb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kballard/go-shellquote"
)

// FileName is the database file expected inside the configured folder.
const FileName = "compile_commands.json"

// Entry is one record of the database as it appears on disk.
type Entry struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Arguments []string `json:"arguments,omitempty"`
	Command   string   `json:"command,omitempty"`
	Output    string   `json:"output,omitempty"`
}

// Info is the compile information for a single file.
type Info struct {
	Flags      []string
	WorkingDir string
}

// Database is an immutable, loaded compilation database.
type Database struct {
	path    string
	entries map[string]Info
}

// Load reads the database from folder. An unset or missing folder yields a
// nil Database and no error. An existing folder without a database file
// yields an empty Database, which knows no files.
func Load(folder string) (*Database, error) {
	if folder == "" {
		return nil, nil
	}
	if _, err := os.Stat(folder); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading compilation database folder: %w", err)
	}
	path := filepath.Join(folder, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Database{entries: map[string]Info{}}, nil
		}
		return nil, fmt.Errorf("reading compilation database: %w", err)
	}
	db, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	db.path = path
	return db, nil
}

// Parse builds a Database from raw JSON. Entries with no usable command are
// skipped; the first entry for a given file wins.
func Parse(data []byte) (*Database, error) {
	var raw []Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing compilation database: %w", err)
	}

	db := &Database{entries: make(map[string]Info, len(raw))}
	for i := range raw {
		e := &raw[i]
		if e.File == "" {
			continue
		}
		key := e.absFile()
		if _, dup := db.entries[key]; dup {
			continue
		}
		args, err := e.argv()
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, e.File, err)
		}
		db.entries[key] = Info{
			Flags:      compileFlags(args, e),
			WorkingDir: e.Directory,
		}
	}
	return db, nil
}

// Lookup returns the compile information recorded for filename.
func (db *Database) Lookup(filename string) (Info, bool) {
	if db == nil {
		return Info{}, false
	}
	abs, err := filepath.Abs(filename)
	if err != nil {
		return Info{}, false
	}
	info, ok := db.entries[filepath.Clean(abs)]
	if !ok {
		return Info{}, false
	}
	info.Flags = append([]string(nil), info.Flags...)
	return info, true
}

// Len returns the number of files in the database.
func (db *Database) Len() int {
	if db == nil {
		return 0
	}
	return len(db.entries)
}

// Files returns the absolute paths of all files in the database, sorted.
func (db *Database) Files() []string {
	if db == nil {
		return nil
	}
	files := make([]string, 0, len(db.entries))
	for f := range db.entries {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Path returns the file the database was loaded from, or "" if parsed from
// memory.
func (db *Database) Path() string {
	if db == nil {
		return ""
	}
	return db.path
}

func (e *Entry) absFile() string {
	if filepath.IsAbs(e.File) {
		return filepath.Clean(e.File)
	}
	return filepath.Join(e.Directory, e.File)
}

func (e *Entry) argv() ([]string, error) {
	if len(e.Arguments) > 0 {
		return e.Arguments, nil
	}
	if e.Command == "" {
		return nil, nil
	}
	args, err := shellquote.Split(e.Command)
	if err != nil {
		return nil, fmt.Errorf("splitting command: %w", err)
	}
	return args, nil
}

// compileFlags drops the compiler, the input file operand and the output
// pair from a full command line.
func compileFlags(args []string, e *Entry) []string {
	if len(args) == 0 {
		return nil
	}
	file := e.absFile()
	flags := make([]string, 0, len(args)-1)
	for i := 1; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-o" && i+1 < len(args):
			i++
			continue
		case a == e.File || a == file:
			continue
		case !filepath.IsAbs(a) && a != "" && a[0] != '-' && filepath.Join(e.Directory, a) == file:
			continue
		}
		flags = append(flags, a)
	}
	return flags
}
