package subagent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinylittleshell/gsh-agent/internal/tools"
)

const reviewerDefinition = `---
name: code-reviewer
description: Reviews changes for bugs
tools: [view_file, grep, list_files]
model: gpt-4o-mini
max_rounds: 12
---
You review code. Report problems with file and line.
`

func TestParse(t *testing.T) {
	def, err := Parse([]byte(reviewerDefinition))
	require.NoError(t, err)

	assert.Equal(t, "code-reviewer", def.Name())
	assert.Equal(t, "Reviews changes for bugs", def.Description())
	assert.Equal(t, "gpt-4o-mini", def.Model())
	assert.Equal(t, 12, def.MaxRounds())
	assert.Equal(t, []tools.Name{tools.NameViewFile, tools.NameGrep, tools.NameListFiles}, def.Tools())
	assert.Equal(t, "You review code. Report problems with file and line.", def.Prompt())
}

func TestParse_Defaults(t *testing.T) {
	def, err := Parse([]byte("---\nname: explorer\ntools: view_file, grep, view_file\nmodel: m\n---\nExplore.\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRounds, def.MaxRounds())
	assert.Equal(t, "", def.Description())
	assert.Equal(t, []tools.Name{tools.NameViewFile, tools.NameGrep}, def.Tools())
}

func TestParse_CRLFAndBOM(t *testing.T) {
	def, err := Parse([]byte("\ufeff---\r\nname: a\r\ntools: [grep]\r\nmodel: m\r\n---\r\nprompt\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "a", def.Name())
	assert.Equal(t, "prompt", def.Prompt())
}

func TestDefinition_ToolsIsACopy(t *testing.T) {
	def, err := Parse([]byte(reviewerDefinition))
	require.NoError(t, err)
	got := def.Tools()
	got[0] = tools.NameExec
	assert.Equal(t, tools.NameViewFile, def.Tools()[0])
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		problem string
	}{
		{
			name:    "no opening delimiter",
			content: "name: a\n",
			problem: "missing opening --- line",
		},
		{
			name:    "no closing delimiter",
			content: "---\nname: a\ntools: [grep]\nmodel: m\n",
			problem: "missing closing --- line",
		},
		{
			name:    "empty header",
			content: "---\n---\nprompt\n",
			problem: "empty header",
		},
		{
			name:    "tabs",
			content: "---\nname:\ta\ntools: [grep]\nmodel: m\n---\n",
			problem: "tabs are not allowed",
		},
		{
			name:    "nested mapping",
			content: "---\nname: a\ntools: [grep]\nmodel:\n  id: m\n---\n",
			problem: "nested mappings are not allowed",
		},
		{
			name:    "literal block",
			content: "---\nname: a\ndescription: |\n  two\n  lines\ntools: [grep]\nmodel: m\n---\n",
			problem: "multi-line block values are not allowed",
		},
		{
			name:    "anchor",
			content: "---\nname: &n a\ntools: [grep]\nmodel: m\n---\n",
			problem: "anchors and aliases are not allowed",
		},
		{
			name:    "unknown key",
			content: "---\nname: a\ntools: [grep]\nmodel: m\ncolor: red\n---\n",
			problem: `unknown key "color"`,
		},
		{
			name:    "duplicate key",
			content: "---\nname: a\nname: b\ntools: [grep]\nmodel: m\n---\n",
			problem: "duplicate key",
		},
		{
			name:    "missing name",
			content: "---\ntools: [grep]\nmodel: m\n---\n",
			problem: "name is required",
		},
		{
			name:    "bad name",
			content: "---\nname: ../etc\ntools: [grep]\nmodel: m\n---\n",
			problem: "may only contain",
		},
		{
			name:    "missing model",
			content: "---\nname: a\ntools: [grep]\n---\n",
			problem: "model is required",
		},
		{
			name:    "no tools",
			content: "---\nname: a\nmodel: m\n---\n",
			problem: "at least one tool is required",
		},
		{
			name:    "unknown tool",
			content: "---\nname: a\ntools: [grep, browse]\nmodel: m\n---\n",
			problem: "unknown tools: browse (known tools: view_file, write_file",
		},
		{
			name:    "delegate",
			content: "---\nname: a\ntools: [grep, delegate]\nmodel: m\n---\n",
			problem: "subagents cannot use the delegate tool",
		},
		{
			name:    "zero rounds",
			content: "---\nname: a\ntools: [grep]\nmodel: m\nmax_rounds: 0\n---\n",
			problem: "max_rounds must be a positive integer",
		},
		{
			name:    "list name",
			content: "---\nname: [a, b]\ntools: [grep]\nmodel: m\n---\n",
			problem: "name must be a single value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.Nil(t, def)

			var defErr *DefinitionError
			require.True(t, errors.As(err, &defErr))
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestParse_ReportsEveryProblem(t *testing.T) {
	_, err := Parse([]byte("---\ndescription: x\n---\n"))
	require.Error(t, err)

	var defErr *DefinitionError
	require.True(t, errors.As(err, &defErr))
	assert.ElementsMatch(t, []string{"name is required", "model is required", "at least one tool is required"}, defErr.Problems)
}

func TestDefinition_MarshalRoundTrip(t *testing.T) {
	def, err := Parse([]byte(reviewerDefinition))
	require.NoError(t, err)

	data, err := def.Marshal()
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, def, again)
}

func TestDefinition_MarshalRoundTripKeywordValues(t *testing.T) {
	for _, value := range []string{"null", "~", "yes", "no", "true", "0x10", "1e3", "#tag", "a: b"} {
		t.Run(value, func(t *testing.T) {
			src := "---\nname: yes\ndescription: '" + value + "'\ntools: [view_file]\nmodel: '" + value + "'\n---\nPrompt.\n"
			def, err := Parse([]byte(src))
			require.NoError(t, err)
			require.Equal(t, value, def.Model())

			data, err := def.Marshal()
			require.NoError(t, err)

			again, err := Parse(data)
			require.NoError(t, err, string(data))
			assert.Equal(t, def, again)
			assert.Equal(t, value, again.Model())
			assert.Equal(t, value, again.Description())
		})
	}
}
