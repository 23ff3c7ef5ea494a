package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/atinylittleshell/gsh-agent/internal/permission"
)

// terminalConfirmer asks on the terminal before a tool call runs. Anything
// other than a recognised approval denies.
type terminalConfirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newTerminalConfirmer(in io.Reader, out io.Writer) *terminalConfirmer {
	return &terminalConfirmer{in: bufio.NewReader(in), out: out}
}

func (c *terminalConfirmer) Confirm(ctx context.Context, req permission.Request) (permission.Choice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return permission.ChoiceDeny, err
	}

	fmt.Fprintf(c.out, "\n%s\n", req.Prompt)
	for i, opt := range req.Options {
		fmt.Fprintf(c.out, "  %d) %s\n", i+1, opt.Label)
	}
	fmt.Fprint(c.out, "> ")

	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return permission.ChoiceDeny, fmt.Errorf("failed to read answer: %w", err)
	}
	return parseAnswer(line, req.Options), nil
}

// parseAnswer accepts an option number, y/yes for a single approval and
// a/always for a session approval when one is offered.
func parseAnswer(line string, options []permission.Option) permission.Choice {
	answer := strings.ToLower(strings.TrimSpace(line))
	offered := func(choice permission.Choice) bool {
		for _, o := range options {
			if o.Choice == choice {
				return true
			}
		}
		return false
	}

	switch answer {
	case "y", "yes":
		return permission.ChoiceAllowOnce
	case "a", "always":
		if offered(permission.ChoiceAlwaysAllow) {
			return permission.ChoiceAlwaysAllow
		}
		return permission.ChoiceDeny
	}
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(options) {
		return options[n-1].Choice
	}
	return permission.ChoiceDeny
}

// newConfirmer picks the confirmation channel: auto-approve when asked to,
// the terminal when stdin is one, otherwise deny everything.
func newConfirmer(autoApprove bool, stdin *os.File, out io.Writer) permission.Confirmer {
	switch {
	case autoApprove:
		return permission.AllowAll
	case term.IsTerminal(int(stdin.Fd())):
		return newTerminalConfirmer(stdin, out)
	default:
		return permission.DenyAll
	}
}
