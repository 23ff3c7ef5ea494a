package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/atinylittleshell/gsh-agent/internal/audit"
	"github.com/atinylittleshell/gsh-agent/internal/config"
	"github.com/atinylittleshell/gsh-agent/internal/orchestrator"
	"github.com/atinylittleshell/gsh-agent/internal/permission"
	"github.com/atinylittleshell/gsh-agent/internal/render"
	"github.com/atinylittleshell/gsh-agent/internal/security"
	"github.com/atinylittleshell/gsh-agent/internal/subagent"
	"github.com/atinylittleshell/gsh-agent/internal/tools"
)

// app wires the agent components for one CLI invocation.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	out        io.Writer
	workDir    string
	homeDir    string
	credential string
	confirmer  permission.Confirmer
	// recorder stays nil when auditing is off.
	recorder      orchestrator.Recorder
	audit         *audit.Store
	clientFactory subagent.ClientFactory
	loader        *subagent.Loader
}

func (a *app) pathValidator() (*security.PathValidator, error) {
	var roots []string
	if a.cfg.AllowedRoots != nil {
		roots = append([]string{a.workDir}, a.cfg.AllowedRoots...)
	}
	return security.NewPathValidator(security.PathConfig{
		WorkDir:      a.workDir,
		HomeDir:      a.homeDir,
		AllowedRoots: roots,
		Logger:       a.logger,
	})
}

// runner builds the subagent runner. Its registry never carries the delegate
// tool.
func (a *app) runner(paths *security.PathValidator, commands *security.CommandValidator) (*subagent.Runner, error) {
	timeout, err := a.cfg.Timeout()
	if err != nil {
		return nil, err
	}
	return subagent.NewRunner(subagent.RunnerConfig{
		Loader: a.loader,
		Registry: tools.NewDefaultRegistry(tools.Deps{
			Paths:    paths,
			Commands: commands,
			Logger:   a.logger,
		}),
		ClientFactory: a.clientFactory,
		WorkDir:       paths.WorkDir(),
		Timeout:       timeout,
		Confirmer:     a.confirmer,
		Recorder:      a.recorder,
		Logger:        a.logger,
	}), nil
}

func (a *app) runPrimary(ctx context.Context, prompt string) error {
	paths, err := a.pathValidator()
	if err != nil {
		return err
	}
	commands := security.NewCommandValidator(a.logger)
	runner, err := a.runner(paths, commands)
	if err != nil {
		return err
	}

	client, err := a.clientFactory(a.credential)
	if err != nil {
		return fmt.Errorf("%w (set %s or %s)", err, config.EnvAPIKey, config.EnvOpenAIAPIKey)
	}

	orch := orchestrator.New(orchestrator.Config{
		Client: client,
		Registry: tools.NewDefaultRegistry(tools.Deps{
			Paths:     paths,
			Commands:  commands,
			Delegator: subagent.NewDelegator(runner),
			Logger:    a.logger,
		}),
		Gate:       permission.NewGate(a.confirmer, a.logger),
		Model:      a.cfg.Model,
		MaxRounds:  a.cfg.MaxRounds,
		Mode:       orchestrator.ModePrimary,
		Paths:      paths,
		Credential: a.credential,
		Recorder:   a.recorder,
		Logger:     a.logger,
	})

	r := render.New(a.out)
	r.RenderAgentHeader("gsh", a.cfg.Model)
	start := time.Now()
	res, err := orch.Run(ctx, prompt, r.Handle)
	if res != nil {
		r.RenderAgentFooter(res.Usage, time.Since(start))
	}
	return err
}

func (a *app) runSubagent(ctx context.Context, agent, task string) error {
	paths, err := a.pathValidator()
	if err != nil {
		return err
	}
	runner, err := a.runner(paths, security.NewCommandValidator(a.logger))
	if err != nil {
		return err
	}

	r := render.New(a.out)
	r.RenderAgentHeader(subagent.ResolveAlias(agent), "")
	res := runner.Run(ctx, subagent.Request{Agent: agent, Task: task, Credential: a.credential})
	if res.Output != "" {
		r.RenderAgentText(res.Output + "\n")
	}
	r.Handle(orchestrator.Event{Type: orchestrator.EventEvidence, Summary: res.Evidence.Summary})
	r.RenderSystemMessage(fmt.Sprintf("%s finished in %s", res.Agent, res.Duration.Round(time.Millisecond)))

	if !res.Success {
		if res.Retryable {
			return fmt.Errorf("%s (retryable)", res.Error)
		}
		return errors.New(res.Error)
	}
	return nil
}

func (a *app) listAgents() error {
	names, err := a.loader.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(a.out, "no subagents defined")
		return nil
	}
	for _, name := range names {
		def, err := a.loader.Load(name)
		if err != nil {
			fmt.Fprintf(a.out, "%s  (invalid: %v)\n", name, err)
			continue
		}
		fmt.Fprintf(a.out, "%s  %s\n", def.Name(), def.Description())
		fmt.Fprintf(a.out, "    model: %s  max rounds: %d  tools: %s\n", def.Model(), def.MaxRounds(), tools.JoinNames(def.Tools()))
	}
	return nil
}

// checkCommand reports whether command would be allowed and returns the exit
// code.
func (a *app) checkCommand(command string) int {
	res := security.NewCommandValidator(a.logger).Validate(command)
	render.New(a.out).RenderCommandCheck(command, res)
	if res.Valid {
		return 0
	}
	return 1
}

func (a *app) checkPath(path string, write bool) (int, error) {
	paths, err := a.pathValidator()
	if err != nil {
		return 1, err
	}
	op := security.OpRead
	if write {
		op = security.OpWrite
	}
	res := paths.Validate(path, op, write)
	render.New(a.out).RenderPathCheck(path, op, res)
	if res.Valid {
		return 0, nil
	}
	return 1, nil
}

func (a *app) showRecent(ctx context.Context, limit int) error {
	if a.audit == nil {
		return errors.New("the audit trail is disabled")
	}
	entries, err := a.audit.RecentEntries(ctx, limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		status := "ok"
		if !e.Success {
			status = "failed"
		}
		fmt.Fprintf(a.out, "%-14s %-14s %-12s %-6s %s\n",
			humanize.Time(e.CreatedAt), e.Agent, e.Tool, status, shortID(e.RunID))
	}
	if len(entries) == 0 {
		return nil
	}

	// Evidence of the latest run, recomputed from the whole stored trail.
	latest := entries[len(entries)-1]
	ev, err := a.audit.Evidence(ctx, latest.RunID, latest.Agent != orchestrator.ModePrimary.String())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\nLatest run %s (%s):\n%s\n", shortID(latest.RunID), latest.Agent, ev.Summary)
	return nil
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
