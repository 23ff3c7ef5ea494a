package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
	"github.com/atinylittleshell/gsh-agent/internal/security"
)

// GrepBackend is the search program used by the grep tool.
type GrepBackend int

const (
	GrepBackendNone GrepBackend = iota
	GrepBackendRipgrep
	GrepBackendGitGrep
	GrepBackendGrep
)

func (b GrepBackend) String() string {
	switch b {
	case GrepBackendRipgrep:
		return "rg"
	case GrepBackendGitGrep:
		return "git-grep"
	case GrepBackendGrep:
		return "grep"
	default:
		return "none"
	}
}

const maxCommandOutput = 50000

// excludeDirs are skipped by plain grep, which has no .gitignore support.
var excludeDirs = []string{
	".git", ".svn", ".hg",
	"node_modules", ".npm", ".yarn", ".pnpm-store",
	".venv", "venv", "__pycache__", ".pytest_cache", ".mypy_cache", ".ruff_cache", ".tox",
	"vendor", "target", ".gradle", "build", "bin", "obj", "dist", "out",
	".cache", ".next", ".nuxt", ".turbo", "coverage", ".terraform",
}

// secretGlobs are skipped by every backend. Matches that still land in a
// protected file are dropped by filterMatches.
var secretGlobs = security.SensitiveGlobs()

type GrepTool struct {
	paths   *security.PathValidator
	backend func(dir string) GrepBackend
}

func NewGrepTool(paths *security.PathValidator) *GrepTool {
	return &GrepTool{paths: paths, backend: DetectGrepBackend}
}

func (t *GrepTool) Name() Name                 { return NameGrep }
func (t *GrepTool) Kind() acp.ToolKind         { return acp.ToolKindSearch }
func (t *GrepTool) RequiresConfirmation() bool { return false }

func (t *GrepTool) Description() string {
	return "Search for a regex pattern in files. Automatically uses the best available tool (ripgrep > git grep > grep). Returns matching lines with file names and line numbers."
}

func (t *GrepTool) Parameters() map[string]any {
	return schema([]string{"pattern"}, map[string]any{
		"pattern": prop("string", "The regex pattern to search for"),
		"path":    prop("string", "Directory or file to search. Defaults to the working directory."),
	})
}

// DetectGrepBackend picks rg, then git grep when dir is inside a repository,
// then plain grep.
func DetectGrepBackend(dir string) GrepBackend {
	if _, err := exec.LookPath("rg"); err == nil {
		return GrepBackendRipgrep
	}
	if _, err := exec.LookPath("git"); err == nil {
		if exec.Command("git", "-C", dir, "rev-parse", "--is-inside-work-tree").Run() == nil {
			return GrepBackendGitGrep
		}
	}
	if _, err := exec.LookPath("grep"); err == nil {
		return GrepBackendGrep
	}
	return GrepBackendNone
}

// BuildGrepCommand returns the program and arguments that search target for
// pattern with the given backend. Every backend prints the file name followed
// by a NUL byte so matches can be attributed to files.
func BuildGrepCommand(backend GrepBackend, pattern, target string) (string, []string, error) {
	switch backend {
	case GrepBackendRipgrep:
		args := []string{"-n", "--with-filename", "--null", "--hidden", "--color=never"}
		for _, glob := range secretGlobs {
			args = append(args, "--glob", "!"+glob)
		}
		args = append(args, "--glob", "!.git", "-e", pattern, target)
		return "rg", args, nil

	case GrepBackendGitGrep:
		args := []string{"grep", "-n", "-z", "--color=never", "--untracked", "-E", "-e", pattern, "--", target}
		for _, glob := range secretGlobs {
			args = append(args, ":(exclude,glob)**/"+glob, ":(exclude,glob)**/"+glob+"/**")
		}
		return "git", args, nil

	case GrepBackendGrep:
		args := []string{"-rnH", "--null", "--color=never", "-E"}
		for _, dir := range excludeDirs {
			args = append(args, "--exclude-dir="+dir)
		}
		for _, glob := range secretGlobs {
			args = append(args, "--exclude="+glob, "--exclude-dir="+glob)
		}
		args = append(args, "-e", pattern, target)
		return "grep", args, nil

	case GrepBackendNone:
		return "", nil, errors.New("no grep tool available: install rg, git, or grep")

	default:
		return "", nil, fmt.Errorf("unknown grep backend: %d", backend)
	}
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]any, ec *ExecContext) Result {
	pattern, bad := requiredString(args, NameGrep, "pattern")
	if bad != nil {
		return *bad
	}
	path, _ := stringArg(args, "path")
	if path == "" {
		path = "."
	}

	res := t.paths.Validate(path, security.OpRead, false)
	if !res.Valid {
		return pathFailure(res)
	}

	dir, target := res.ResolvedPath, "."
	if info, err := os.Stat(res.ResolvedPath); err == nil && !info.IsDir() {
		dir, target = filepath.Dir(res.ResolvedPath), filepath.Base(res.ResolvedPath)
	}

	backend := t.backend(dir)
	name, cmdArgs, err := BuildGrepCommand(backend, pattern, target)
	if err != nil {
		return fail(ErrorKindExecution, "%v", err)
	}

	cmd := exec.CommandContext(ctx, name, cmdArgs...)
	cmd.Dir = dir
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fail(ErrorKindExecution, "grep execution failed: %v", err)
		}
		exitCode = exitErr.ExitCode()
	}

	matches, dropped := filterMatches(out.String(), dir, t.paths)
	output, truncated := truncateBytes(matches, maxCommandOutput)
	data := map[string]any{"backend": backend.String(), "exitCode": exitCode, "truncated": truncated}
	if dropped > 0 {
		data["protectedMatches"] = dropped
	}

	// Exit code 1 means no matches; 2 and above is a real error.
	switch {
	case exitCode > 1:
		data["status"] = "error"
		errText, _ := truncateBytes(strings.TrimSpace(errOut.String()+"\n"+output), maxCommandOutput)
		return Result{Success: false, Kind: ErrorKindExecution, Error: errText, Data: data}
	case exitCode == 1 || output == "":
		data["status"] = "no_matches"
		if dropped > 0 {
			return Result{Success: true, Output: fmt.Sprintf("no matches (%d in protected files omitted)", dropped), Data: data}
		}
		return Result{Success: true, Output: "no matches", Data: data}
	}
	data["status"] = "matches_found"
	if dropped > 0 {
		output += fmt.Sprintf("\n(%d matches in protected files omitted)", dropped)
	}
	return Result{Success: true, Output: output, Data: data}
}

// filterMatches drops every match whose file fails read validation, so a
// search cannot reveal what view_file would refuse to show. Lines come in as
// "path\x00line:text" (git grep uses a NUL after the line number too) and
// leave as "path:line:text". Lines without a file name are kept.
func filterMatches(raw, dir string, paths *security.PathValidator) (string, int) {
	allowed := make(map[string]bool)
	var kept []string
	dropped := 0
	for _, line := range strings.Split(strings.TrimRight(raw, "\n"), "\n") {
		if line == "" {
			continue
		}
		file, rest, ok := strings.Cut(line, "\x00")
		if !ok {
			kept = append(kept, line)
			continue
		}
		if num, text, ok := strings.Cut(rest, "\x00"); ok && isDigits(num) {
			rest = num + ":" + text
		}

		ok, seen := allowed[file]
		if !seen {
			full := file
			if !filepath.IsAbs(full) {
				full = filepath.Join(dir, file)
			}
			ok = paths.Validate(full, security.OpRead, false).Valid
			allowed[file] = ok
		}
		if !ok {
			dropped++
			continue
		}
		kept = append(kept, file+":"+rest)
	}
	return strings.Join(kept, "\n"), dropped
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func truncateBytes(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	return s[:max], true
}
