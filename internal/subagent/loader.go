package subagent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/sahilm/fuzzy"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/atinylittleshell/gsh-agent/internal/core"
)

const definitionExt = ".md"

// ErrNotFound is returned when no search root has a definition for a name.
var ErrNotFound = errors.New("subagent not found")

var aliases = map[string]string{
	"review":  "code-reviewer",
	"test":    "test-runner",
	"explore": "explorer",
	"docs":    "doc-writer",
	"debug":   "debugger",
}

// ResolveAlias maps a convenience alias to its definition name.
func ResolveAlias(name string) string {
	if canonical, ok := aliases[strings.ToLower(name)]; ok {
		return canonical
	}
	return name
}

// Loader finds definitions in a project-local root and then a user-global one.
type Loader struct {
	roots  []string
	logger *zap.Logger
}

// NewLoader searches <workDir>/.gsh/agents, then ~/.gsh/agents.
func NewLoader(workDir string, logger *zap.Logger) *Loader {
	return NewLoaderWithRoots([]string{core.ProjectAgentsDir(workDir), core.UserAgentsDir()}, logger)
}

// NewLoaderWithRoots searches roots in order.
func NewLoaderWithRoots(roots []string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{roots: lo.Compact(roots), logger: logger}
}

// Load resolves aliases and returns the first definition found. A file that
// exists but does not parse is an error; it never falls through to the next
// root.
func (l *Loader) Load(name string) (*Definition, error) {
	canonical := ResolveAlias(strings.TrimSpace(name))
	if !namePattern.MatchString(canonical) {
		return nil, fmt.Errorf("invalid subagent name %q", name)
	}

	for _, root := range l.roots {
		path, err := securejoin.SecureJoin(root, canonical+definitionExt)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve subagent %q in %s: %w", canonical, root, err)
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read subagent definition %s: %w", path, err)
		}

		def, err := Parse(data)
		if err != nil {
			var defErr *DefinitionError
			if errors.As(err, &defErr) {
				defErr.Path = path
			}
			return nil, err
		}
		l.logger.Debug("loaded subagent", zap.String("name", def.Name()), zap.String("path", path))
		return def, nil
	}

	msg := fmt.Sprintf("%q", name)
	if suggestions := l.suggest(canonical); len(suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(suggestions, ", "))
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, msg)
}

// List returns the definition names available across all roots, sorted and
// without duplicates. Missing roots are skipped.
func (l *Loader) List() ([]string, error) {
	var names []string
	for _, root := range l.roots {
		entries, err := os.ReadDir(root)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list subagents in %s: %w", root, err)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != definitionExt {
				continue
			}
			names = append(names, strings.TrimSuffix(e.Name(), definitionExt))
		}
	}
	names = lo.Uniq(names)
	sort.Strings(names)
	return names, nil
}

// suggest returns up to three close matches among known names and aliases.
func (l *Loader) suggest(name string) []string {
	names, err := l.List()
	if err != nil {
		l.logger.Debug("failed to list subagents for suggestions", zap.Error(err))
	}
	candidates := lo.Uniq(append(names, lo.Keys(aliases)...))
	sort.Strings(candidates)

	matches := fuzzy.Find(name, candidates)
	return lo.Map(lo.Subset(matches, 0, 3), func(m fuzzy.Match, _ int) string { return m.Str })
}
