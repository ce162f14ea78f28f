// Package config holds the static inputs of flag resolution: the fallback
// flag list, the extension sets used for header pairing, and the optional
// compilation database location.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// FileName is the config file looked up in a project directory.
const FileName = ".ycmflags.toml"

// goos is swapped in tests to exercise the platform-conditional std flag.
var goos = runtime.GOOS

// Config is the full set of resolution settings.
type Config struct {
	Language         string   `toml:"language" validate:"required"`
	Flags            []string `toml:"flags" validate:"dive,required"`
	StdFlag          string   `toml:"std_flag" validate:"omitempty,startswith=-"`
	DatabaseFolder   string   `toml:"database_folder"`
	ExcludedFlags    []string `toml:"excluded_flags" validate:"dive,required"`
	IncludeDir       string   `toml:"include_dir"`
	HeaderExtensions []string `toml:"header_extensions" validate:"min=1,dive,startswith=."`
	SourceExtensions []string `toml:"source_extensions" validate:"min=1,dive,startswith=."`
	LogLevel         string   `toml:"log_level" validate:"oneof=debug info warn warning error"`

	path string
}

// NewDefaultConfig returns the settings used when no config file exists.
func NewDefaultConfig() *Config {
	return &Config{
		Language: "cfamily",
		Flags: []string{
			"-Wall",
			"-Wextra",
			"-Werror",
			"-Wno-long-long",
			"-Wno-variadic-macros",
			"-fexceptions",
			"-DNDEBUG",
			// Only needed by the completer's own sources.
			"-DUSE_CLANG_COMPLETER",
			"-DYCM_EXPORT=",
			// Without -x, headers are compiled as C.
			"-x",
			"c++",
			"-isystem",
			"./node_modules/nan",
			"-isystem",
			"~/.nvm/versions/node/v8.13.0/include/node",
		},
		StdFlag:          "-std=c++11",
		ExcludedFlags:    []string{"-stdlib=libc++"},
		HeaderExtensions: []string{".h", ".hxx", ".hpp", ".hh"},
		SourceExtensions: []string{".cpp", ".cxx", ".cc", ".c", ".m", ".mm"},
		LogLevel:         "warn",
	}
}

// Find returns the config file in dir, or "" if there is none.
func Find(dir string) string {
	path := filepath.Join(dir, FileName)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path
	}
	return ""
}

// Load builds a Config with priority: defaults -> file -> env.
// An empty path skips the file and anchors relative paths at the working
// directory.
func Load(path string) (*Config, error) {
	config := NewDefaultConfig()

	base, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}

	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolving config path: %w", err)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		config.path = abs
		base = filepath.Dir(abs)
	}

	applyEnvOverrides(config)

	config.finalize(base)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnvOverrides(config *Config) {
	if v, ok := os.LookupEnv("YCMFLAGS_DATABASE_FOLDER"); ok {
		config.DatabaseFolder = v
	}
	if v := os.Getenv("YCMFLAGS_LOG_LEVEL"); v != "" {
		config.LogLevel = strings.ToLower(v)
	}
}

// finalize anchors relative directories at base and expands ~ in flags.
func (c *Config) finalize(base string) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	for i, f := range c.Flags {
		c.Flags[i] = expandHome(f, home)
	}

	if c.IncludeDir == "" {
		c.IncludeDir = base
	} else {
		c.IncludeDir = anchor(expandHome(c.IncludeDir, home), base)
	}
	if c.DatabaseFolder != "" {
		c.DatabaseFolder = anchor(expandHome(c.DatabaseFolder, home), base)
	}
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Path returns the file the config was loaded from, or "".
func (c *Config) Path() string {
	return c.path
}

// StaticFlags returns a copy of the fallback flag list, with the std flag
// appended on every platform except Windows (where clang picks its own).
func (c *Config) StaticFlags() []string {
	flags := slices.Clone(c.Flags)
	if c.StdFlag != "" && goos != "windows" {
		flags = append(flags, c.StdFlag)
	}
	return flags
}

func expandHome(s, home string) string {
	if home == "" {
		return s
	}
	if s == "~" {
		return home
	}
	if strings.HasPrefix(s, "~/") {
		return filepath.Join(home, s[2:])
	}
	return s
}

func anchor(p, base string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
