// Package model defines core data structures for ycmflags.
package model

// Result is the answer handed back to the completion host. The zero value
// means "no opinion" and encodes as an empty mapping.
type Result struct {
	Flags                     []string `json:"flags,omitempty" yaml:"flags,omitempty"`
	IncludePathsRelativeToDir string   `json:"include_paths_relative_to_dir,omitempty" yaml:"include_paths_relative_to_dir,omitempty"`
	OverrideFilename          string   `json:"override_filename,omitempty" yaml:"override_filename,omitempty"`
}

// Empty reports whether r carries no information.
func (r Result) Empty() bool {
	return len(r.Flags) == 0 && r.IncludePathsRelativeToDir == "" && r.OverrideFilename == ""
}

// Request is a single resolve call as sent by a host process.
type Request struct {
	Filename string `json:"filename"`
	Language string `json:"language"`
}

// Source says where the flags of a resolved file came from.
type Source string

const (
	SourceStatic   Source = "static"
	SourceDatabase Source = "database"
	SourceNone     Source = "none"
)

// FileReport is one row of a project scan.
type FileReport struct {
	Path      string
	Header    bool
	Dialect   string
	Effective string // Path of the translation unit used, relative to the project root
	Source    Source
	FlagCount int
	Mismatch  bool // Flags pin a language that disagrees with the detected dialect
}

// Report is a whole-project scan, ready for serialization.
type Report struct {
	Project  string
	Database string
	Files    []FileReport
}

// Unpaired counts headers that resolved to themselves.
func (r *Report) Unpaired() int {
	n := 0
	for i := range r.Files {
		f := &r.Files[i]
		if f.Header && f.Effective == f.Path {
			n++
		}
	}
	return n
}
