package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Operation is the kind of access a path is validated for.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

const (
	ReasonInvalidPath  Reason = "invalid_path"
	ReasonSymlinkLoop  Reason = "symlink_loop"
	ReasonResolve      Reason = "resolve_failed"
	ReasonRestricted   Reason = "restricted_path"
	ReasonSensitive    Reason = "sensitive_file"
	ReasonTraversal    Reason = "traversal"
	ReasonSymlinkWrite Reason = "symlink_write"
	ReasonNotFound     Reason = "not_found"
	ReasonOpenFailed   Reason = "open_failed"
)

// PathResult is the outcome of validating one path.
type PathResult struct {
	Valid        bool
	Error        string
	Reason       Reason
	ResolvedPath string
}

type PathConfig struct {
	// WorkDir anchors relative paths. Defaults to the process working directory.
	WorkDir string
	// HomeDir is used for ~ expansion and as a default root. Defaults to the user's home.
	HomeDir string
	// AllowedRoots overrides the default roots (WorkDir and HomeDir).
	AllowedRoots []string
	Logger       *zap.Logger
}

// PathValidator checks filesystem paths against a blocklist, sensitive file
// patterns and a set of allowed roots. All checks run on the real path.
type PathValidator struct {
	workDir string
	homeDir string
	roots   []string
	logger  *zap.Logger
}

var errSymlinkLoop = errors.New("circular symlink")

func NewPathValidator(cfg PathConfig) (*PathValidator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		workDir = wd
	}
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	homeDir := cfg.HomeDir
	if homeDir == "" {
		homeDir, _ = os.UserHomeDir()
	}

	v := &PathValidator{workDir: workDir, homeDir: homeDir, logger: logger}

	roots := cfg.AllowedRoots
	if len(roots) == 0 {
		roots = lo.Compact([]string{workDir, homeDir})
	}
	for _, root := range roots {
		abs := v.absolute(root)
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		v.roots = append(v.roots, filepath.Clean(abs))
	}
	v.roots = lo.Uniq(v.roots)

	// Keep the working directory itself in resolved form so relative paths
	// anchored on it compare cleanly against the roots.
	if real, err := filepath.EvalSymlinks(workDir); err == nil {
		v.workDir = real
	}

	return v, nil
}

func (v *PathValidator) WorkDir() string { return v.workDir }

func (v *PathValidator) Roots() []string { return append([]string(nil), v.roots...) }

// Validate resolves path and runs the blocklist, pattern, containment and
// write-symlink checks in that order. allowMissing permits paths that do not
// exist yet, such as files about to be created.
func (v *PathValidator) Validate(path string, op Operation, allowMissing bool) PathResult {
	result := v.validate(path, op, allowMissing)
	if !result.Valid {
		v.logger.Debug("path rejected",
			zap.String("path", path),
			zap.String("op", string(op)),
			zap.String("reason", string(result.Reason)),
			zap.String("resolved", result.ResolvedPath),
		)
	}
	return result
}

func (v *PathValidator) validate(path string, op Operation, allowMissing bool) PathResult {
	if strings.TrimSpace(path) == "" {
		return pathReject(ReasonInvalidPath, "", "path is empty")
	}
	if strings.ContainsRune(path, 0) {
		return pathReject(ReasonInvalidPath, "", "path contains a null byte")
	}

	abs := v.absolute(path)

	resolved, exists, err := resolve(abs)
	if err != nil {
		if errors.Is(err, errSymlinkLoop) {
			return pathReject(ReasonSymlinkLoop, "", fmt.Sprintf("%s contains a circular symlink", path))
		}
		return pathReject(ReasonResolve, "", fmt.Sprintf("cannot resolve %s: %v", path, err))
	}

	if restricted, ok := matchRestricted(resolved); ok {
		return pathReject(ReasonRestricted, resolved,
			fmt.Sprintf("%s resolves to restricted system path %s", path, restricted))
	}

	if description, ok := matchSensitive(resolved, op); ok {
		return pathReject(ReasonSensitive, resolved,
			fmt.Sprintf("%s is a protected file (%s)", path, description))
	}

	if !v.contained(resolved) {
		return pathReject(ReasonTraversal, resolved,
			fmt.Sprintf("%s resolves to %s, which is outside the allowed directories (%s)",
				path, resolved, strings.Join(v.roots, ", ")))
	}

	if op == OpWrite {
		if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return pathReject(ReasonSymlinkWrite, resolved,
				fmt.Sprintf("%s is a symbolic link; write to the target path directly", path))
		}
	}

	if !exists && !allowMissing {
		return pathReject(ReasonNotFound, resolved, fmt.Sprintf("%s does not exist", path))
	}

	return PathResult{Valid: true, ResolvedPath: resolved}
}

// ValidateAndOpen validates path and opens the resolved path in the same call.
// O_CREATE in flag implies that a missing path is acceptable. Writes refuse
// to follow a symlink in the final component even if one appeared after the
// check.
func (v *PathValidator) ValidateAndOpen(path string, op Operation, flag int, perm os.FileMode) (*os.File, PathResult) {
	result := v.Validate(path, op, flag&os.O_CREATE != 0)
	if !result.Valid {
		return nil, result
	}

	if op == OpWrite {
		flag |= noFollowFlag
	}

	f, err := os.OpenFile(result.ResolvedPath, flag, perm)
	if err != nil {
		if isLoopError(err) {
			return nil, pathReject(ReasonSymlinkWrite, result.ResolvedPath,
				fmt.Sprintf("%s was replaced by a symbolic link", path))
		}
		return nil, pathReject(ReasonOpenFailed, result.ResolvedPath, fmt.Sprintf("cannot open %s: %v", path, err))
	}
	return f, result
}

func pathReject(reason Reason, resolved, detail string) PathResult {
	return PathResult{Valid: false, Error: detail, Reason: reason, ResolvedPath: resolved}
}

// absolute expands ~ and anchors relative paths on the working directory. The
// result is deliberately not cleaned: ".." after a symlink must be evaluated
// by symlink resolution, not lexically.
func (v *PathValidator) absolute(path string) string {
	if path == "~" {
		return v.homeDir
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return v.homeDir + path[1:]
	}
	if filepath.IsAbs(path) {
		return path
	}
	return v.workDir + string(filepath.Separator) + path
}

func (v *PathValidator) contained(path string) bool {
	return lo.SomeBy(v.roots, func(root string) bool {
		return within(root, path)
	})
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolve returns the real path of abs. When abs does not exist, the nearest
// existing ancestor is resolved and the missing segments are appended to it.
func resolve(abs string) (string, bool, error) {
	real, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return real, true, nil
	}
	if isLoopError(err) {
		return "", false, errSymlinkLoop
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", false, err
	}

	current := filepath.Clean(abs)
	var missing []string
	for {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			if len(missing) == 0 {
				return real, true, nil
			}
			return filepath.Join(append([]string{real}, missing...)...), false, nil
		}
		if isLoopError(err) {
			return "", false, errSymlinkLoop
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", false, err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Clean(abs), false, nil
		}
		missing = append([]string{filepath.Base(current)}, missing...)
		current = parent
	}
}

func isLoopError(err error) bool {
	return errors.Is(err, syscall.ELOOP) || strings.Contains(err.Error(), "too many links")
}
