// Package security implements the shell-command and filesystem-path validators
// that sit between model-requested tool calls and real side effects.
package security

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"mvdan.cc/sh/v3/syntax"
)

// Layer identifies which validation layer rejected a command.
type Layer int

const (
	LayerNone        Layer = 0
	LayerSyntax      Layer = 1
	LayerBaseCommand Layer = 2
	LayerDenyList    Layer = 3
	LayerAllowList   Layer = 4
	LayerArguments   Layer = 5
)

func (l Layer) String() string {
	switch l {
	case LayerSyntax:
		return "syntax check"
	case LayerBaseCommand:
		return "base command"
	case LayerDenyList:
		return "blocked command"
	case LayerAllowList:
		return "allowed commands"
	case LayerArguments:
		return "argument check"
	default:
		return "none"
	}
}

// Reason is a machine-readable rejection code.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonNullByte            Reason = "null_byte"
	ReasonNewline             Reason = "newline"
	ReasonHeredoc             Reason = "heredoc"
	ReasonSubstitution        Reason = "command_substitution"
	ReasonProcessSubstitution Reason = "process_substitution"
	ReasonChaining            Reason = "chaining"
	ReasonRedirection         Reason = "redirection"
	ReasonObfuscation         Reason = "obfuscation"
	ReasonStructure           Reason = "structure"
	ReasonEmpty               Reason = "empty"
	ReasonSplitCommand        Reason = "split_command"
	ReasonDenied              Reason = "denied"
	ReasonNotAllowed          Reason = "not_allowed"
	ReasonDangerousArguments  Reason = "dangerous_arguments"
)

// CommandResult is the outcome of validating one shell command.
type CommandResult struct {
	Valid       bool
	Error       string
	Layer       Layer
	Reason      Reason
	BaseCommand string
}

// CommandValidator decides whether a model-proposed shell command may run.
type CommandValidator struct {
	logger *zap.Logger
}

// NewCommandValidator creates a validator. A nil logger disables logging.
func NewCommandValidator(logger *zap.Logger) *CommandValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandValidator{logger: logger}
}

var (
	hexEscapePattern = regexp.MustCompile(`\\[xX][0-9a-fA-F]{2}|\\[0-7]{3}|\\u[0-9a-fA-F]{4}`)
	envAssignPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)
)

// Validate runs the five layers in order; the first failure wins.
func (v *CommandValidator) Validate(command string) CommandResult {
	result := v.validate(command)
	if !result.Valid {
		v.logger.Debug("command rejected",
			zap.String("command", command),
			zap.Int("layer", int(result.Layer)),
			zap.String("reason", string(result.Reason)),
		)
	}
	return result
}

func (v *CommandValidator) validate(command string) CommandResult {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return reject(LayerBaseCommand, ReasonEmpty, "", "command is empty")
	}

	if res, ok := checkSyntax(trimmed); !ok {
		return res
	}

	tokens, res, ok := parseSimpleCommand(trimmed)
	if !ok {
		return res
	}

	scan := scanWrappers(tokens)
	if scan.splitFlag != "" {
		return reject(LayerBaseCommand, ReasonSplitCommand, "",
			fmt.Sprintf("env %s runs a second command line; run the command directly", scan.splitFlag))
	}
	idx := scan.index
	if idx < 0 {
		return reject(LayerBaseCommand, ReasonEmpty, "",
			"no command left after removing environment assignments and wrappers (time, nice, timeout, env, ...)")
	}
	if !tokens[idx].plain {
		return reject(LayerSyntax, ReasonObfuscation, "",
			fmt.Sprintf("command name %s uses quoting, escapes or expansions; write it as a plain word", tokens[idx].text))
	}

	base := baseName(tokens[idx].text)

	if why, denied := deniedCommands[base]; denied {
		return reject(LayerDenyList, ReasonDenied, base,
			fmt.Sprintf("%q is blocked (%s)", base, why))
	}

	if _, allowed := allowedCommands[base]; !allowed {
		return reject(LayerAllowList, ReasonNotAllowed, base,
			fmt.Sprintf("%q is not in the allowed command list", base))
	}

	if scan.outputFlag != "" {
		return reject(LayerArguments, ReasonDangerousArguments, base,
			fmt.Sprintf("wrapper output option %s writes to an unchecked path; drop it and read the output directly", scan.outputFlag))
	}

	args := make([]string, 0, len(tokens)-idx-1)
	for _, tok := range tokens[idx+1:] {
		args = append(args, tok.text)
	}
	if rule, ok := argumentRules[base]; ok {
		if why := rule(args); why != "" {
			return reject(LayerArguments, ReasonDangerousArguments, base, why)
		}
	}

	return CommandResult{Valid: true, BaseCommand: base}
}

func reject(layer Layer, reason Reason, base, detail string) CommandResult {
	return CommandResult{
		Valid:       false,
		Error:       fmt.Sprintf("%s failed: %s", layer, detail),
		Layer:       layer,
		Reason:      reason,
		BaseCommand: base,
	}
}

// checkSyntax is layer 1: raw-string checks that apply regardless of which
// command is being run.
func checkSyntax(cmd string) (CommandResult, bool) {
	switch {
	case strings.ContainsRune(cmd, 0):
		return reject(LayerSyntax, ReasonNullByte, "", "null bytes are not allowed"), false
	case strings.ContainsAny(cmd, "\n\r"):
		return reject(LayerSyntax, ReasonNewline, "", "newlines are not allowed; run one command per call"), false
	case strings.Contains(cmd, "<<"):
		return reject(LayerSyntax, ReasonHeredoc, "", "here-documents are not allowed; use write_file to create file content"), false
	case strings.Contains(cmd, "`") || strings.Contains(cmd, "$("):
		return reject(LayerSyntax, ReasonSubstitution, "", "command substitution (backticks or $(...)) is not allowed"), false
	case strings.Contains(cmd, "<(") || strings.Contains(cmd, ">("):
		return reject(LayerSyntax, ReasonProcessSubstitution, "", "process substitution is not allowed"), false
	}

	for _, op := range []string{";", "&", "|"} {
		if strings.Contains(cmd, op) {
			return reject(LayerSyntax, ReasonChaining, "",
				fmt.Sprintf("command chaining operator %q is not allowed; run one command per call", op)), false
		}
	}

	if strings.ContainsAny(cmd, "<>") {
		return reject(LayerSyntax, ReasonRedirection, "",
			"I/O redirection is not allowed; use write_file or view_file for file contents"), false
	}

	if strings.Contains(cmd, "$'") || hexEscapePattern.MatchString(cmd) {
		return reject(LayerSyntax, ReasonObfuscation, "", "escaped character sequences are not allowed"), false
	}

	first := firstCommandToken(cmd)
	if strings.ContainsAny(first, `'"\`) {
		return reject(LayerSyntax, ReasonObfuscation, "",
			fmt.Sprintf("command name %s uses quoting or escapes; write it as a plain word", first)), false
	}

	return CommandResult{}, true
}

// firstCommandToken returns the first whitespace-separated token that is not a
// VAR=value assignment.
func firstCommandToken(cmd string) string {
	for _, field := range strings.Fields(cmd) {
		if envAssignPattern.MatchString(field) {
			continue
		}
		return field
	}
	return ""
}

type token struct {
	text  string
	plain bool
}

// parseSimpleCommand parses cmd with a real shell parser and insists on exactly
// one simple command. Anything else is a structural rejection at layer 1.
func parseSimpleCommand(cmd string) ([]token, CommandResult, bool) {
	file, err := syntax.NewParser().Parse(strings.NewReader(cmd), "")
	if err != nil {
		return nil, reject(LayerSyntax, ReasonStructure, "", fmt.Sprintf("could not parse command: %v", err)), false
	}
	if len(file.Stmts) != 1 {
		return nil, reject(LayerSyntax, ReasonStructure, "", "exactly one command is required"), false
	}

	stmt := file.Stmts[0]
	var tokens []token
	for stmt != nil {
		if stmt.Negated || stmt.Background || stmt.Coprocess || len(stmt.Redirs) > 0 {
			return nil, reject(LayerSyntax, ReasonStructure, "", "negation, background jobs and redirections are not allowed"), false
		}

		switch c := stmt.Cmd.(type) {
		case *syntax.TimeClause:
			// `time` is a shell keyword rather than a binary; treat it as a wrapper.
			tokens = append(tokens, token{text: "time", plain: true})
			if c.PosixFormat {
				tokens = append(tokens, token{text: "-p", plain: true})
			}
			stmt = c.Stmt
			continue
		case *syntax.CallExpr:
			for _, w := range c.Args {
				tokens = append(tokens, wordToken(w))
			}
			return tokens, CommandResult{}, true
		case nil:
			return tokens, CommandResult{}, true
		default:
			return nil, reject(LayerSyntax, ReasonStructure, "",
				fmt.Sprintf("only simple commands are allowed, got a %s", clauseName(c))), false
		}
	}
	return tokens, CommandResult{}, true
}

func wordToken(w *syntax.Word) token {
	if len(w.Parts) == 1 {
		if lit, ok := w.Parts[0].(*syntax.Lit); ok {
			return token{text: lit.Value, plain: !strings.Contains(lit.Value, `\`)}
		}
	}

	var sb strings.Builder
	literal := true
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					literal = false
					break
				}
				sb.WriteString(lit.Value)
			}
		default:
			literal = false
		}
	}
	if literal {
		return token{text: sb.String()}
	}

	var buf bytes.Buffer
	if err := syntax.NewPrinter().Print(&buf, w); err != nil {
		return token{text: sb.String()}
	}
	return token{text: buf.String()}
}

func clauseName(cmd syntax.Command) string {
	switch cmd.(type) {
	case *syntax.Subshell:
		return "subshell"
	case *syntax.Block:
		return "block"
	case *syntax.IfClause:
		return "if clause"
	case *syntax.WhileClause:
		return "loop"
	case *syntax.ForClause:
		return "for loop"
	case *syntax.CaseClause:
		return "case clause"
	case *syntax.BinaryCmd:
		return "compound command"
	case *syntax.FuncDecl:
		return "function declaration"
	case *syntax.ArithmCmd:
		return "arithmetic command"
	case *syntax.TestClause:
		return "test clause"
	case *syntax.DeclClause:
		return "declaration"
	case *syntax.LetClause:
		return "let clause"
	case *syntax.CoprocClause:
		return "coprocess"
	default:
		return fmt.Sprintf("%T", cmd)
	}
}

// wrapperFlags lists the prefix commands that only adjust how the real command
// runs, along with the flags that consume a separate value.
var wrapperFlags = map[string]map[string]bool{
	"time":    {"-f": true, "--format": true, "-o": true, "--output": true},
	"nice":    {"-n": true, "--adjustment": true},
	"ionice":  {"-c": true, "-n": true, "-p": true, "--class": true, "--classdata": true},
	"timeout": {"-s": true, "--signal": true, "-k": true, "--kill-after": true},
	"strace":  {"-o": true, "-e": true, "-p": true, "-s": true, "-u": true, "-E": true, "-P": true},
	"ltrace":  {"-o": true, "-e": true, "-p": true, "-s": true, "-u": true, "-n": true},
	"nohup":   {},
	"stdbuf":  {"-i": true, "-o": true, "-e": true},
	"env":     {"-u": true, "--unset": true, "-C": true, "--chdir": true, "-S": true, "--split-string": true},
}

// wrapperRejects lists wrapper flags that are refused outright. split flags
// make env run a second command line that the other layers never see; output
// flags write a file at a path no validator has checked.
var wrapperRejects = map[string]struct {
	split  []string
	output []string
}{
	"env":    {split: []string{"-S", "--split-string"}},
	"time":   {output: []string{"-o", "--output", "-a", "--append"}},
	"strace": {output: []string{"-o", "--output"}},
	"ltrace": {output: []string{"-o", "--output"}},
}

// wrapperScan is the result of walking the wrapper prefix of a command.
type wrapperScan struct {
	// index of the real command, or -1 when nothing is left.
	index int
	// splitFlag and outputFlag hold the first refused wrapper flag seen.
	splitFlag  string
	outputFlag string
}

// scanWrappers skips VAR=value assignments and wrapper commands with their
// flags and values, and notes any refused wrapper flag on the way.
func scanWrappers(tokens []token) wrapperScan {
	scan := wrapperScan{index: -1}
	i := 0
	for i < len(tokens) {
		name := baseName(tokens[i].text)
		valueFlags, isWrapper := wrapperFlags[name]
		if !isWrapper || !tokens[i].plain {
			scan.index = i
			return scan
		}
		i++

		for i < len(tokens) && strings.HasPrefix(tokens[i].text, "-") && tokens[i].text != "-" {
			flag := tokens[i].text
			i++
			if flag == "--" {
				break
			}
			rejects := wrapperRejects[name]
			if scan.splitFlag == "" && flagMatches(flag, rejects.split, valueFlags) {
				scan.splitFlag = flag
			}
			if scan.outputFlag == "" && flagMatches(flag, rejects.output, valueFlags) {
				scan.outputFlag = flag
			}
			if valueFlags[flag] && i < len(tokens) {
				i++
			}
		}

		switch name {
		case "timeout":
			if i < len(tokens) {
				i++
			}
		case "env":
			for i < len(tokens) && envAssignPattern.MatchString(tokens[i].text) {
				i++
			}
		}
	}
	return scan
}

// flagMatches reports whether flag uses one of targets, in any of the forms
// getopt accepts: exact, long with =value or a unique prefix, short with an
// attached value, or short bundled after flags that take no value.
func flagMatches(flag string, targets []string, valueFlags map[string]bool) bool {
	for _, target := range targets {
		if flag == target {
			return true
		}
		if long, ok := strings.CutPrefix(target, "--"); ok {
			name, _, _ := strings.Cut(strings.TrimPrefix(flag, "--"), "=")
			if strings.HasPrefix(flag, "--") && name != "" && strings.HasPrefix(long, name) {
				return true
			}
			continue
		}
		if strings.HasPrefix(flag, "--") || len(target) != 2 {
			continue
		}
		for _, r := range flag[1:] {
			if byte(r) == target[1] {
				return true
			}
			if valueFlags["-"+string(r)] {
				break
			}
		}
	}
	return false
}

func baseName(word string) string {
	if idx := strings.LastIndex(word, "/"); idx >= 0 {
		word = word[idx+1:]
	}
	return strings.ToLower(word)
}
