package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const (
	sentinelStart = "# ycmflags:start"
	sentinelEnd   = "# ycmflags:end"
)

// runInit implements the `ycmflags init` subcommand, which writes (or updates)
// a Settings hook in a .ycm_extra_conf.py file that delegates to ycmflags.
func runInit(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("ycmflags init", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		dryRun bool
		binary string
	)
	fs.BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying the file")
	fs.StringVar(&binary, "bin", "ycmflags", "ycmflags executable the hook runs")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: ycmflags init [flags] [path-to-.ycm_extra_conf.py]

Write a Settings hook to a .ycm_extra_conf.py file. The hook is wrapped in
sentinel comments so it can be updated in place on subsequent runs without
touching surrounding content. Creates the file if it does not exist.

path defaults to ./.ycm_extra_conf.py.

Flags:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	section := generateSection(binary)

	// --dry-run with no path: just print the section itself.
	if dryRun && fs.NArg() == 0 {
		_, _ = fmt.Fprintln(stdout, section)
		return nil
	}

	path := ".ycm_extra_conf.py"
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	existing, _ := os.ReadFile(path)
	updated := applySection(string(existing), section)

	if dryRun {
		_, _ = fmt.Fprint(stdout, updated)
		return nil
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	_, _ = fmt.Fprintf(stderr, "wrote ycmflags hook to %s\n", path)
	return nil
}

// generateSection returns the full sentinel-wrapped Settings hook. The hook
// runs ycmflags from the directory holding the conf file, so the config found
// there and the default include directory both belong to that project rather
// than to wherever the editor was started.
func generateSection(binary string) string {
	body := `import json
import os.path
import subprocess

DIR_OF_THIS_SCRIPT = os.path.abspath(os.path.dirname(__file__))


def Settings(**kwargs):
  command = [` + pyQuote(binary) + `, 'resolve', '--format', 'json',
             '--language', kwargs.get('language', ''),
             '--', os.path.abspath(kwargs['filename'])]
  try:
    output = subprocess.check_output(command, cwd=DIR_OF_THIS_SCRIPT)
  except (OSError, subprocess.CalledProcessError):
    return {}
  return json.loads(output)`

	return sentinelStart + "\n" + body + "\n" + sentinelEnd
}

func pyQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not. It is a pure function for easy testing.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	// Append, ensuring a blank line separator.
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "\n" + section + "\n"
}
