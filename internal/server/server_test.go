package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/ycmflags/internal/compdb"
	"github.com/phobologic/ycmflags/internal/config"
	"github.com/phobologic/ycmflags/internal/logging"
	"github.com/phobologic/ycmflags/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.IncludeDir = t.TempDir()
	cfg.Flags = []string{"-Wall"}
	cfg.StdFlag = ""
	return cfg
}

func writeDB(t *testing.T, dir, flag string) {
	t.Helper()
	require.NoError(t, rewriteDB(dir, flag))
}

// rewriteDB replaces the database atomically, the way build tools do.
func rewriteDB(dir, flag string) error {
	content := `[{"directory": "/w", "file": "/w/a.c", "arguments": ["cc", "` + flag + `", "/w/a.c"]}]`
	tmp := filepath.Join(dir, "tmp.json")
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, compdb.FileName))
}

func decodeLines(t *testing.T, out string) []model.Result {
	t.Helper()
	var results []model.Result
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var r model.Result
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), sc.Text())
		results = append(results, r)
	}
	return results
}

func TestServeStatic(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	s := New(cfg, nil, logging.Discard())

	in := strings.Join([]string{
		`{"filename": "/p/a.c", "language": "cfamily"}`,
		``,
		`{"filename": "/p/a.py", "language": "python"}`,
		`not json`,
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), strings.NewReader(in), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "{}", lines[1])
	assert.Equal(t, "{}", lines[2])

	results := decodeLines(t, out.String())
	assert.Equal(t, model.Result{
		Flags:                     []string{"-Wall"},
		IncludePathsRelativeToDir: cfg.IncludeDir,
		OverrideFilename:          "/p/a.c",
	}, results[0])
}

func TestServeCancelled(t *testing.T) {
	t.Parallel()
	s := New(testConfig(t), nil, logging.Discard())

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, pr, io.Discard) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeDB(t, dir, "-DOLD")

	cfg := testConfig(t)
	cfg.DatabaseFolder = dir
	db, err := compdb.Load(dir)
	require.NoError(t, err)

	s := New(cfg, db, logging.Discard())
	req := model.Request{Filename: "/w/a.c", Language: "cfamily"}
	assert.Equal(t, []string{"-DOLD"}, s.Resolve(req).Flags)

	writeDB(t, dir, "-DNEW")
	require.NoError(t, s.Reload())
	assert.Equal(t, []string{"-DNEW"}, s.Resolve(req).Flags)

	// A broken database keeps the previous one.
	require.NoError(t, os.WriteFile(filepath.Join(dir, compdb.FileName), []byte("[{"), 0o644))
	assert.Error(t, s.Reload())
	assert.Equal(t, []string{"-DNEW"}, s.Resolve(req).Flags)

	// The folder is still configured, so a removed file knows no entries.
	require.NoError(t, os.Remove(filepath.Join(dir, compdb.FileName)))
	require.NoError(t, s.Reload())
	assert.True(t, s.Resolve(req).Empty())

	// Only a missing folder falls back to the static flags.
	require.NoError(t, os.Remove(dir))
	require.NoError(t, s.Reload())
	assert.Equal(t, []string{"-Wall"}, s.Resolve(req).Flags)
}

func TestServeWatchesDatabase(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeDB(t, dir, "-DOLD")

	cfg := testConfig(t)
	cfg.DatabaseFolder = dir
	db, err := compdb.Load(dir)
	require.NoError(t, err)
	s := New(cfg, db, logging.Discard())

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, pr, io.Discard) }()

	req := model.Request{Filename: "/w/a.c", Language: "cfamily"}
	require.Eventually(t, func() bool {
		if err := rewriteDB(dir, "-DNEW"); err != nil {
			return false
		}
		select {
		case <-s.reloaded:
		case <-time.After(200 * time.Millisecond):
		}
		flags := s.Resolve(req).Flags
		return len(flags) == 1 && flags[0] == "-DNEW"
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, pw.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return at end of input")
	}
}
