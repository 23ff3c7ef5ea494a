// Package subagent loads subagent definitions and runs them as restricted,
// delegated orchestrator instances.
package subagent

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/atinylittleshell/gsh-agent/internal/tools"
)

// DefaultMaxRounds is the round budget of a definition that does not set one.
const DefaultMaxRounds = 30

const frontmatterDelimiter = "---"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Header keys.
const (
	keyName        = "name"
	keyDescription = "description"
	keyTools       = "tools"
	keyModel       = "model"
	keyMaxRounds   = "max_rounds"
)

var headerKeys = []string{keyName, keyDescription, keyTools, keyModel, keyMaxRounds}

// Definition describes a subagent. It cannot be changed once parsed.
type Definition struct {
	name        string
	description string
	tools       []tools.Name
	model       string
	maxRounds   int
	prompt      string
}

func (d *Definition) Name() string        { return d.name }
func (d *Definition) Description() string { return d.description }
func (d *Definition) Model() string       { return d.model }
func (d *Definition) MaxRounds() int      { return d.maxRounds }
func (d *Definition) Prompt() string      { return d.prompt }

// Tools returns a copy of the tools the subagent may use.
func (d *Definition) Tools() []tools.Name {
	return append([]tools.Name(nil), d.tools...)
}

// DefinitionError lists everything wrong with a definition file.
type DefinitionError struct {
	Path     string
	Problems []string
}

func (e *DefinitionError) Error() string {
	prefix := "invalid subagent definition"
	if e.Path != "" {
		prefix += " " + e.Path
	}
	return prefix + ": " + strings.Join(e.Problems, "; ")
}

func invalid(problems ...string) *DefinitionError {
	return &DefinitionError{Problems: problems}
}

// Parse reads a definition: a header between two "---" lines followed by the
// prompt. Only flat headers are accepted: scalars and lists of scalars.
func Parse(data []byte) (*Definition, error) {
	header, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, err
	}
	values, err := parseHeader(header)
	if err != nil {
		return nil, err
	}
	return build(values, strings.TrimSpace(body))
}

func splitFrontmatter(content string) (string, string, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimPrefix(content, "\ufeff")

	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], " ") != frontmatterDelimiter {
		return "", "", invalid("missing opening --- line")
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " ") == frontmatterDelimiter {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), nil
		}
	}
	return "", "", invalid("missing closing --- line")
}

// headerValue is a scalar or a list of scalars.
type headerValue struct {
	scalar string
	list   []string
	isList bool
}

func parseHeader(header string) (map[string]headerValue, error) {
	if strings.Contains(header, "\t") {
		return nil, invalid("tabs are not allowed in the header")
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(header), &doc); err != nil {
		return nil, invalid(fmt.Sprintf("malformed header: %v", err))
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, invalid("empty header")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, invalid("header must be a list of key: value lines")
	}
	if err := rejectAnchors(root); err != nil {
		return nil, err
	}

	values := make(map[string]headerValue, len(root.Content)/2)
	var problems []string
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valueNode := root.Content[i], root.Content[i+1]
		key := keyNode.Value
		if keyNode.Kind != yaml.ScalarNode {
			problems = append(problems, fmt.Sprintf("line %d: keys must be plain words", keyNode.Line))
			continue
		}
		if !lo.Contains(headerKeys, key) {
			problems = append(problems, fmt.Sprintf("line %d: unknown key %q (allowed: %s)", keyNode.Line, key, strings.Join(headerKeys, ", ")))
			continue
		}
		if _, dup := values[key]; dup {
			problems = append(problems, fmt.Sprintf("line %d: duplicate key %q", keyNode.Line, key))
			continue
		}
		v, problem := headerValueOf(key, valueNode)
		if problem != "" {
			problems = append(problems, problem)
			continue
		}
		values[key] = v
	}
	if len(problems) > 0 {
		return nil, invalid(problems...)
	}
	return values, nil
}

func rejectAnchors(n *yaml.Node) error {
	if n.Kind == yaml.AliasNode || n.Anchor != "" {
		return invalid(fmt.Sprintf("line %d: anchors and aliases are not allowed", n.Line))
	}
	for _, c := range n.Content {
		if err := rejectAnchors(c); err != nil {
			return err
		}
	}
	return nil
}

func headerValueOf(key string, n *yaml.Node) (headerValue, string) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Style&(yaml.LiteralStyle|yaml.FoldedStyle) != 0 {
			return headerValue{}, fmt.Sprintf("line %d: %s: multi-line block values are not allowed", n.Line, key)
		}
		if n.Tag == "!!null" {
			return headerValue{}, ""
		}
		return headerValue{scalar: n.Value}, ""
	case yaml.SequenceNode:
		items := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode || item.Style&(yaml.LiteralStyle|yaml.FoldedStyle) != 0 {
				return headerValue{}, fmt.Sprintf("line %d: %s: list items must be plain values", item.Line, key)
			}
			items = append(items, item.Value)
		}
		return headerValue{list: items, isList: true}, ""
	case yaml.MappingNode:
		return headerValue{}, fmt.Sprintf("line %d: %s: nested mappings are not allowed", n.Line, key)
	default:
		return headerValue{}, fmt.Sprintf("line %d: %s: unsupported value", n.Line, key)
	}
}

func build(values map[string]headerValue, prompt string) (*Definition, error) {
	var problems []string
	scalar := func(key string) string {
		v, ok := values[key]
		if !ok {
			return ""
		}
		if v.isList {
			problems = append(problems, fmt.Sprintf("%s must be a single value", key))
			return ""
		}
		return strings.TrimSpace(v.scalar)
	}

	def := &Definition{
		name:        scalar(keyName),
		description: scalar(keyDescription),
		model:       scalar(keyModel),
		maxRounds:   DefaultMaxRounds,
		prompt:      prompt,
	}

	switch {
	case def.name == "":
		problems = append(problems, "name is required")
	case !namePattern.MatchString(def.name):
		problems = append(problems, fmt.Sprintf("name %q may only contain letters, digits, '-' and '_'", def.name))
	}
	if def.model == "" {
		problems = append(problems, "model is required")
	}

	if raw := scalar(keyMaxRounds); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			problems = append(problems, fmt.Sprintf("max_rounds must be a positive integer, got %q", raw))
		} else {
			def.maxRounds = n
		}
	}

	names := toolNames(values[keyTools])
	if len(names) == 0 {
		problems = append(problems, "at least one tool is required")
	}
	var unknown []string
	for _, n := range names {
		if !tools.IsKnown(n) {
			unknown = append(unknown, n)
			continue
		}
		if tools.Name(n) == tools.NameDelegate {
			problems = append(problems, "subagents cannot use the delegate tool")
			continue
		}
		def.tools = append(def.tools, tools.Name(n))
	}
	if len(unknown) > 0 {
		problems = append(problems, fmt.Sprintf("unknown tools: %s (known tools: %s)",
			strings.Join(unknown, ", "), tools.JoinNames(tools.KnownNames())))
	}
	def.tools = lo.Uniq(def.tools)

	if len(problems) > 0 {
		return nil, invalid(problems...)
	}
	return def, nil
}

// toolNames accepts a list or a comma-separated scalar.
func toolNames(v headerValue) []string {
	raw := v.list
	if !v.isList {
		raw = strings.Split(v.scalar, ",")
	}
	return lo.Filter(lo.Map(raw, func(s string, _ int) string { return strings.TrimSpace(s) }),
		func(s string, _ int) bool { return s != "" })
}

// Marshal renders the definition in the format Parse reads.
func (d *Definition) Marshal() ([]byte, error) {
	scalar := func(v string) *yaml.Node {
		// !!str makes the encoder quote values such as null, ~ or yes
		// that would otherwise read back as another type.
		n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
		if strings.ContainsAny(v, "\n") {
			n.Style = yaml.DoubleQuotedStyle
		}
		return n
	}
	key := func(k string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Value: k}
	}

	toolList := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, t := range d.tools {
		toolList.Content = append(toolList.Content, scalar(string(t)))
	}

	header := &yaml.Node{Kind: yaml.MappingNode}
	header.Content = append(header.Content, key(keyName), scalar(d.name))
	if d.description != "" {
		header.Content = append(header.Content, key(keyDescription), scalar(d.description))
	}
	header.Content = append(header.Content,
		key(keyTools), toolList,
		key(keyModel), scalar(d.model),
		key(keyMaxRounds), &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(d.maxRounds)},
	)

	var buf bytes.Buffer
	buf.WriteString(frontmatterDelimiter + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}
	buf.WriteString(frontmatterDelimiter + "\n")
	if d.prompt != "" {
		buf.WriteString(d.prompt + "\n")
	}
	return buf.Bytes(), nil
}
