// Package hostcc asks the host C preprocessor where it looks for headers, so
// the static flag list can be seeded with the same search path.
package hostcc

import (
	"fmt"
	"slices"

	"modernc.org/cc/v3"
)

// DefaultCPP is the preprocessor queried when none is given.
const DefaultCPP = "cpp"

var hostConfig = cc.HostConfig

// Flags returns -I and -isystem flags mirroring the include search path of
// the preprocessor cpp. Quote-include directories that are also system
// directories are only listed once, as -isystem.
func Flags(cpp string) ([]string, error) {
	if cpp == "" {
		cpp = DefaultCPP
	}
	_, includePaths, sysIncludePaths, err := hostConfig(cpp)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", cpp, err)
	}

	var flags []string
	for _, p := range includePaths {
		if p == "" || slices.Contains(sysIncludePaths, p) {
			continue
		}
		flags = append(flags, "-I", p)
	}
	for _, p := range sysIncludePaths {
		if p == "" {
			continue
		}
		flags = append(flags, "-isystem", p)
	}
	return flags, nil
}
