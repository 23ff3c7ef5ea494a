// Package tools provides the native tools a model can invoke, the closed set
// of tool names, and the registry that resolves names to handlers.
package tools

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Name identifies a native tool. The set is closed: anything not listed in
// knownNames is rejected at the dispatch boundary.
type Name string

const (
	NameViewFile  Name = "view_file"
	NameWriteFile Name = "write_file"
	NameEditFile  Name = "edit_file"
	NameListFiles Name = "list_files"
	NameGrep      Name = "grep"
	NameExec      Name = "exec"
	NameTodoRead  Name = "todo_read"
	NameTodoWrite Name = "todo_write"
	NameDelegate  Name = "delegate"
)

var knownNames = []Name{
	NameViewFile,
	NameWriteFile,
	NameEditFile,
	NameListFiles,
	NameGrep,
	NameExec,
	NameTodoRead,
	NameTodoWrite,
	NameDelegate,
}

func (n Name) String() string { return string(n) }

// KnownNames returns every tool name in a stable order.
func KnownNames() []Name {
	return append([]Name(nil), knownNames...)
}

// IsKnown reports whether s names a native tool.
func IsKnown(s string) bool {
	return lo.Contains(knownNames, Name(s))
}

// ParseName converts s into a Name, rejecting unknown names.
func ParseName(s string) (Name, error) {
	if !IsKnown(s) {
		return "", fmt.Errorf("unknown tool %q (known tools: %s)", s, JoinNames(knownNames))
	}
	return Name(s), nil
}

// JoinNames renders names as a comma-separated list.
func JoinNames(names []Name) string {
	return strings.Join(lo.Map(names, func(n Name, _ int) string { return string(n) }), ", ")
}
