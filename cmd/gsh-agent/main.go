package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atinylittleshell/gsh-agent/internal/audit"
	"github.com/atinylittleshell/gsh-agent/internal/config"
	"github.com/atinylittleshell/gsh-agent/internal/core"
	"github.com/atinylittleshell/gsh-agent/internal/provider"
	"github.com/atinylittleshell/gsh-agent/internal/subagent"
)

var BUILD_VERSION = "dev"

// auditRetention is how long tool call records are kept.
const auditRetention = 30 * 24 * time.Hour

var prompt = flag.String("p", "", "prompt to run")
var agentFlag = flag.String("agent", "", "run the prompt with this subagent instead of the primary agent")
var listAgentsFlag = flag.Bool("list-agents", false, "list the available subagents")
var checkCommandFlag = flag.String("check-command", "", "report whether a shell command would be allowed")
var checkPathFlag = flag.String("check-path", "", "report whether a path may be accessed")
var writeFlag = flag.Bool("write", false, "with -check-path, check write access")
var recentFlag = flag.Int("recent", 0, "show the most recent tool calls from the audit trail")
var yesFlag = flag.Bool("yes", false, "approve every tool call without asking")

var helpFlag = flag.Bool("h", false, "display help information")
var versionFlag = flag.Bool("ver", false, "display build version")

const helpText = `gsh-agent - a coding assistant that runs tools on your behalf

USAGE:
  gsh-agent [options] -p "prompt"
  gsh-agent [options] "prompt"

MODES:
  gsh-agent -p "fix the failing test"          Run the primary agent
  gsh-agent -agent review -p "review main.go"  Run a subagent directly
  gsh-agent -list-agents                       List subagents
  gsh-agent -check-command "go test ./..."     Validate a shell command
  gsh-agent -check-path ~/.ssh/id_rsa          Validate a path

Subagents are read from .gsh/agents/<name>.md in the working directory, then
~/.gsh/agents/<name>.md. The model credential is read from GSH_AGENT_API_KEY
or OPENAI_API_KEY.

OPTIONS:
`

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(BUILD_VERSION)
		return
	}

	if *helpFlag {
		fmt.Print(helpText)
		flag.PrintDefaults()
		return
	}

	cfg, err := config.NewLoader(nil).LoadFromFile(core.ConfigFile())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, _, err := initializeLogger(cfg)
	if err != nil {
		panic(err)
	}

	logger.Info("-------- new gsh-agent session --------", zap.Any("args", os.Args))

	code := run(cfg, logger)
	_ = logger.Sync() // Flush any buffered log entries
	os.Exit(code)
}

func run(cfg *config.Config, logger *zap.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	a := &app{
		cfg:           cfg,
		logger:        logger,
		out:           os.Stdout,
		workDir:       workDir,
		homeDir:       core.HomeDir(),
		credential:    config.Credential(),
		confirmer:     newConfirmer(*yesFlag, os.Stdin, os.Stderr),
		clientFactory: provider.Factory(provider.Config{BaseURL: cfg.BaseURL, Logger: logger}),
		loader:        subagent.NewLoader(workDir, logger),
	}

	if cfg.Audit {
		store, err := initializeAudit(ctx, logger)
		if err != nil {
			logger.Warn("audit trail unavailable", zap.Error(err))
		} else {
			defer store.Close()
			a.audit = store
			a.recorder = store
		}
	}

	switch {
	case *checkCommandFlag != "":
		return a.checkCommand(*checkCommandFlag)
	case *checkPathFlag != "":
		code, err := a.checkPath(*checkPathFlag, *writeFlag)
		return exitCode(code, err, logger)
	case *listAgentsFlag:
		return exitCode(0, a.listAgents(), logger)
	case *recentFlag > 0:
		return exitCode(0, a.showRecent(ctx, *recentFlag), logger)
	}

	text := *prompt
	if text == "" {
		text = strings.Join(flag.Args(), " ")
	}
	if strings.TrimSpace(text) == "" {
		fmt.Fprint(os.Stderr, helpText)
		flag.PrintDefaults()
		return 2
	}

	if *agentFlag != "" {
		return exitCode(0, a.runSubagent(ctx, *agentFlag, text), logger)
	}
	return exitCode(0, a.runPrimary(ctx, text), logger)
}

func exitCode(code int, err error, logger *zap.Logger) int {
	if err != nil {
		logger.Error("unhandled error", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return code
}

func initializeLogger(cfg *config.Config) (*zap.Logger, zap.AtomicLevel, error) {
	logLevel := zap.NewAtomicLevelAt(cfg.Level())
	if BUILD_VERSION == "dev" {
		logLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = logLevel
	loggerConfig.OutputPaths = []string{
		core.LogFile(),
	}

	// Logs only go to file so they never interleave with streamed output.
	// Use `tail -f ~/.gsh/gsh-agent.log` to monitor logs in real-time

	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	return logger, logLevel, nil
}

func initializeAudit(ctx context.Context, logger *zap.Logger) (*audit.Store, error) {
	store, err := audit.Open(core.AuditFile())
	if err != nil {
		return nil, err
	}
	pruned, err := store.Prune(ctx, time.Now().Add(-auditRetention))
	if err != nil {
		logger.Warn("failed to prune audit trail", zap.Error(err))
	} else if pruned > 0 {
		logger.Debug("pruned audit trail", zap.Int64("entries", pruned))
	}
	return store, nil
}
