package lang

import (
	"github.com/smacker/go-tree-sitter/c"
)

func init() {
	Languages["c"] = &Language{
		Name:       "c",
		Extensions: []string{".c", ".h"},
		Dialect:    C,
		lang:       c.GetLanguage(),
	}
	Languages["objc"] = &Language{
		Name:       "objc",
		Extensions: []string{".m"},
		Dialect:    ObjC,
	}
}
