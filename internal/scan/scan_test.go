package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/ycmflags/internal/compdb"
	"github.com/phobologic/ycmflags/internal/config"
	"github.com/phobologic/ycmflags/internal/discover"
	"github.com/phobologic/ycmflags/internal/logging"
	"github.com/phobologic/ycmflags/internal/model"
	"github.com/phobologic/ycmflags/internal/resolve"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func quietLogger() *logrus.Logger {
	return logging.Discard()
}

func createProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "widget.h", "class Widget { public: int size() const; };\n")
	writeFile(t, dir, "widget.cpp", "#include \"widget.h\"\n")
	writeFile(t, dir, "point.h", "struct point { int x, y; };\n")
	writeFile(t, dir, "orphan.hpp", "namespace o {}\n")
	return dir
}

func TestRunStatic(t *testing.T) {
	t.Parallel()
	dir := createProject(t)

	cfg := config.NewDefaultConfig()
	cfg.Flags = []string{"-Wall", "-x", "c++"}
	cfg.StdFlag = ""
	r := resolve.New(cfg)

	files, err := discover.Files(dir, discover.OptionsFor(cfg, nil))
	require.NoError(t, err)

	rows, err := Run(context.Background(), dir, files, r, "cfamily", quietLogger())
	require.NoError(t, err)
	require.Len(t, rows, 4)

	byPath := make(map[string]model.FileReport)
	for _, row := range rows {
		byPath[row.Path] = row
	}

	widget := byPath["widget.h"]
	assert.Equal(t, "widget.cpp", widget.Effective)
	assert.Equal(t, "c++-header", widget.Dialect)
	assert.Equal(t, model.SourceStatic, widget.Source)
	assert.Equal(t, 3, widget.FlagCount)
	assert.False(t, widget.Mismatch)

	point := byPath["point.h"]
	assert.Equal(t, "point.h", point.Effective)
	assert.Equal(t, "c-header", point.Dialect)
	assert.True(t, point.Mismatch, "-x c++ forced on a C header")

	orphan := byPath["orphan.hpp"]
	assert.Equal(t, "orphan.hpp", orphan.Effective)
	assert.True(t, orphan.Header)

	report := &model.Report{Files: rows}
	assert.Equal(t, 2, report.Unpaired())
}

func TestRunPreservesOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var files []discover.FileEntry
	for _, name := range []string{"a.c", "b.c", "c.c", "d.c", "e.c", "f.c", "g.c", "h.c"} {
		writeFile(t, dir, name, "")
		files = append(files, discover.FileEntry{Path: name, Language: "c"})
	}

	rows, err := Run(context.Background(), dir, files, resolve.New(config.NewDefaultConfig()), "cfamily", quietLogger())
	require.NoError(t, err)
	for i, row := range rows {
		assert.Equal(t, files[i].Path, row.Path)
	}
}

func TestRunDatabase(t *testing.T) {
	t.Parallel()
	dir := createProject(t)
	db, err := compdb.Parse([]byte(`[{"directory": "` + dir + `", "file": "widget.cpp",
		"arguments": ["c++", "-Iinclude", "-c", "widget.cpp"]}]`))
	require.NoError(t, err)

	r := resolve.New(config.NewDefaultConfig(), resolve.WithDatabase(db))
	files := []discover.FileEntry{
		{Path: "widget.h", Language: "c", Header: true},
		{Path: "point.h", Language: "c", Header: true},
	}

	rows, err := Run(context.Background(), dir, files, r, "cfamily", quietLogger())
	require.NoError(t, err)

	assert.Equal(t, model.SourceDatabase, rows[0].Source)
	assert.Equal(t, 2, rows[0].FlagCount)
	assert.Equal(t, model.SourceNone, rows[1].Source)
	assert.Zero(t, rows[1].FlagCount)
}

func TestRunConfiguredHeaderExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "vec.inl", "template <class T> T dot(T a, T b);\n")
	writeFile(t, dir, "vec.cpp", "")
	writeFile(t, dir, "mat.inl", "")

	cfg := config.NewDefaultConfig()
	cfg.HeaderExtensions = append(cfg.HeaderExtensions, ".inl")
	files, err := discover.Files(dir, discover.OptionsFor(cfg, nil))
	require.NoError(t, err)

	rows, err := Run(context.Background(), dir, files, resolve.New(cfg), "cfamily", quietLogger())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "mat.inl", rows[0].Path)
	assert.True(t, rows[0].Header)
	assert.Equal(t, "vec.inl", rows[2].Path)
	assert.True(t, rows[2].Header)
	assert.Equal(t, "vec.cpp", rows[2].Effective, "paired like any other header")
	assert.Equal(t, "c++-header", rows[2].Dialect)

	report := &model.Report{Files: rows}
	assert.Equal(t, 1, report.Unpaired())
}

func TestRunWrongLanguage(t *testing.T) {
	t.Parallel()
	dir := createProject(t)
	files := []discover.FileEntry{{Path: "widget.cpp", Language: "cpp"}}

	rows, err := Run(context.Background(), dir, files, resolve.New(config.NewDefaultConfig()), "python", quietLogger())
	require.NoError(t, err)
	assert.Equal(t, model.SourceNone, rows[0].Source)
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	dir := createProject(t)
	files := []discover.FileEntry{{Path: "widget.cpp", Language: "cpp"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, dir, files, resolve.New(config.NewDefaultConfig()), "cfamily", quietLogger())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPinnedLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		flags []string
		want  string
	}{
		{nil, ""},
		{[]string{"-Wall"}, ""},
		{[]string{"-x", "c++"}, "c++"},
		{[]string{"-xc"}, "c"},
		{[]string{"-x", "c", "-Wall", "-x", "c++"}, "c++"},
		{[]string{"-x"}, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PinnedLanguage(tt.flags), "%v", tt.flags)
	}
}
