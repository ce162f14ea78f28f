// ycmflags tells a C-family completion engine which compiler flags to use for
// a file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/ycmflags/internal/compdb"
	"github.com/phobologic/ycmflags/internal/config"
	"github.com/phobologic/ycmflags/internal/discover"
	"github.com/phobologic/ycmflags/internal/hostcc"
	"github.com/phobologic/ycmflags/internal/lang"
	"github.com/phobologic/ycmflags/internal/logging"
	"github.com/phobologic/ycmflags/internal/model"
	"github.com/phobologic/ycmflags/internal/resolve"
	"github.com/phobologic/ycmflags/internal/scan"
	"github.com/phobologic/ycmflags/internal/server"
	"github.com/phobologic/ycmflags/internal/toon"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		switch args[0] {
		case "resolve":
			return runResolve(args[1:], stdout, stderr)
		case "scan":
			return runScan(args[1:], stdout, stderr)
		case "serve":
			return runServe(args[1:], stdin, stdout, stderr)
		case "host":
			return runHost(args[1:], stdout, stderr)
		case "init":
			return runInit(args[1:], stdout, stderr)
		}
	}
	return runResolve(args, stdout, stderr)
}

// common holds the flags every subcommand shares.
type common struct {
	configPath string
	logLevel   string
}

func (c *common) register(fs *pflag.FlagSet) {
	fs.StringVarP(&c.configPath, "config", "c", "", "config file (default: "+config.FileName+" in the project directory)")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// env is everything loaded before resolving.
type env struct {
	cfg *config.Config
	db  *compdb.Database
	log *logrus.Logger
}

// load reads the config (searching dir when no path was given), builds the
// logger and loads the compilation database, if one is configured.
func (c *common) load(dir string, stderr io.Writer) (*env, error) {
	path := c.configPath
	if path == "" {
		path = config.Find(dir)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := c.logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	log, err := logging.New(stderr, level)
	if err != nil {
		return nil, err
	}

	db, err := compdb.Load(cfg.DatabaseFolder)
	if err != nil {
		return nil, fmt.Errorf("loading compilation database: %w", err)
	}
	if db != nil {
		log.WithFields(logrus.Fields{"path": db.Path(), "entries": db.Len()}).Debug("loaded compilation database")
	}
	return &env{cfg: cfg, db: db, log: log}, nil
}

func (e *env) resolver() *resolve.Resolver {
	return resolve.New(e.cfg, resolve.WithDatabase(e.db), resolve.WithLogger(e.log))
}

func runResolve(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("ycmflags", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		c           common
		language    string
		format      string
		showVersion bool
	)
	c.register(fs)
	fs.StringVarP(&language, "language", "l", "", "language tag of the request (default: the configured tag)")
	fs.StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	fs.BoolVarP(&showVersion, "version", "V", false, "show version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: ycmflags [resolve] [flags] <filename>
       ycmflags scan [flags] [root]
       ycmflags serve [flags]
       ycmflags host [flags]
       ycmflags init [flags] [path]

Print the compiler flags a completion engine should use for filename.

Flags:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if showVersion {
		_, _ = fmt.Fprintf(stdout, "ycmflags %s\n", version)
		return nil
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected exactly one filename, got %d", fs.NArg())
	}
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unsupported format %q", format)
	}
	filename := fs.Arg(0)

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}
	e, err := c.load(wd, stderr)
	if err != nil {
		return err
	}
	if !fs.Changed("language") {
		language = e.cfg.Language
	}

	res := e.resolver().Resolve(filename, language)
	return writeResult(stdout, res, format)
}

func writeResult(w io.Writer, res model.Result, format string) error {
	if format == "yaml" {
		data, err := yaml.Marshal(res)
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		_, err = w.Write(data)
		return err
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return nil
}

func runScan(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("ycmflags scan", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		c         common
		language  string
		langs     string
		cachePath string
	)
	c.register(fs)
	fs.StringVar(&language, "language", "", "language tag to resolve with (default: the configured tag)")
	fs.StringVarP(&langs, "langs", "L", "", "comma-separated languages to include (c, cpp, objc, objcpp)")
	fs.StringVar(&cachePath, "cache", "", "cache file path")

	if err := fs.Parse(args); err != nil {
		return err
	}

	root := "."
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", root)
	}

	var langFilter []string
	if langs != "" {
		for _, name := range strings.Split(langs, ",") {
			name = strings.TrimSpace(name)
			if _, ok := lang.Languages[name]; !ok {
				return fmt.Errorf("unsupported language %q", name)
			}
			langFilter = append(langFilter, name)
		}
	}

	e, err := c.load(root, stderr)
	if err != nil {
		return err
	}
	if !fs.Changed("language") {
		language = e.cfg.Language
	}

	files, err := discover.Files(root, discover.OptionsFor(e.cfg, langFilter))
	if err != nil {
		return fmt.Errorf("discovering files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no C-family files found")
	}

	// Check cache freshness
	if cachePath != "" && cacheIsFresh(cachePath, root, files, e) {
		data, err := os.ReadFile(cachePath)
		if err == nil {
			_, _ = stdout.Write(data)
			return nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rows, err := scan.Run(ctx, root, files, e.resolver(), language, e.log)
	if err != nil {
		return fmt.Errorf("scanning: %w", err)
	}

	report := &model.Report{
		Project:  filepath.Base(root),
		Database: relOrAbs(root, e.db.Path()),
		Files:    rows,
	}
	output := toon.Encode(report)

	// Write cache
	if cachePath != "" {
		_ = os.WriteFile(cachePath, []byte(output+"\n"), 0o644)
	}

	_, _ = fmt.Fprintln(stdout, output)
	printSummary(stderr, report)
	return nil
}

func printSummary(w io.Writer, r *model.Report) {
	mismatched := 0
	for i := range r.Files {
		if r.Files[i].Mismatch {
			mismatched++
		}
	}
	summary := fmt.Sprintf("%d files, %d unpaired headers, %d language mismatches", len(r.Files), r.Unpaired(), mismatched)
	if mismatched > 0 {
		_, _ = color.New(color.FgYellow).Fprintln(w, summary)
		return
	}
	_, _ = color.New(color.FgGreen).Fprintln(w, summary)
}

// cacheIsFresh reports whether the cache is newer than every scanned file,
// the config file and the compilation database.
func cacheIsFresh(cachePath, root string, files []discover.FileEntry, e *env) bool {
	cacheInfo, err := os.Stat(cachePath)
	if err != nil {
		return false
	}
	cacheMtime := cacheInfo.ModTime()

	paths := make([]string, 0, len(files)+2)
	for _, f := range files {
		paths = append(paths, filepath.Join(root, f.Path))
	}
	for _, p := range []string{e.cfg.Path(), e.db.Path()} {
		if p != "" {
			paths = append(paths, p)
		}
	}

	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return false
		}
		if !fi.ModTime().Before(cacheMtime) {
			return false
		}
	}
	return true
}

func relOrAbs(root, path string) string {
	if path == "" {
		return ""
	}
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func runServe(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("ycmflags serve", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var c common
	c.register(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}
	e, err := c.load(wd, stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(e.cfg, e.db, e.log).Serve(ctx, stdin, stdout)
}

func runHost(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("ycmflags host", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var cpp string
	fs.StringVar(&cpp, "cpp", hostcc.DefaultCPP, "C preprocessor to query")

	if err := fs.Parse(args); err != nil {
		return err
	}

	flags, err := hostcc.Flags(cpp)
	if err != nil {
		return err
	}

	data, err := toml.Marshal(struct {
		Flags []string `toml:"flags,multiline"`
	}{flags})
	if err != nil {
		return fmt.Errorf("encoding flags: %w", err)
	}
	_, err = stdout.Write(data)
	return err
}
