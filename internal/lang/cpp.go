package lang

import (
	"github.com/smacker/go-tree-sitter/cpp"
)

func init() {
	Languages["cpp"] = &Language{
		Name:       "cpp",
		Extensions: []string{".cpp", ".cxx", ".cc", ".hpp", ".hxx", ".hh"},
		Dialect:    CXX,
		lang:       cpp.GetLanguage(),
		queryName:  "cpp",
	}
	Languages["objcpp"] = &Language{
		Name:       "objcpp",
		Extensions: []string{".mm"},
		Dialect:    ObjCXX,
	}
}
