package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hpungsan/evlens/internal/config"
	"github.com/hpungsan/evlens/internal/controller"
	"github.com/hpungsan/evlens/internal/db"
	"github.com/hpungsan/evlens/internal/feedback"
	"github.com/hpungsan/evlens/internal/logging"
	"github.com/hpungsan/evlens/internal/mcp"
	"github.com/hpungsan/evlens/internal/session"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"inspect": true, "locate": true, "show": true,
	"serve": true, "feedback": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
            _
   _____   _| | ___ _ __  ___
  / _ \ \ / / |/ _ \ '_ \/ __|
 |  __/\ V /| |  __/ | | \__ \
  \___| \_/ |_|\___|_| |_|___/

  Evidence span review for email predictions

  Usage: evlens <command> [options]
         evlens --help

  MCP server mode requires piped input.`)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fail("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fail("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".evlens")

	cwd, err := os.Getwd()
	if err != nil {
		fail("could not determine working directory: %v", err)
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fail("failed to load config: %v", err)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fail("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	// MCP mode owns stdout, so logs always go to stderr.
	logger := logging.New(os.Stderr, cfg.LogLevel)
	env := &cliEnv{
		db:         database,
		cfg:        cfg,
		exportsDir: filepath.Join(baseDir, "exports"),
		logger:     logger,
	}

	// CLI mode: known subcommand
	if isCLIMode() {
		if err := newCLIApp(env).Run(os.Args); err != nil {
			fail("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'evlens --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	sink, err := feedback.Open(cfg, database, env.exportsDir, logger)
	if err != nil {
		fail("%v", err)
	}
	sessions := env.sessions()
	defer sessions.Close()

	if err := mcp.Run(sessions, cfg, sink, logger, Version); err != nil {
		fail("%v", err)
	}
}

// sessions creates the in-memory review session store from config.
func (e *cliEnv) sessions() *session.Manager {
	opts := controller.Options{
		CharWidthPx: e.cfg.CharWidthPx,
		ReadOnly:    e.cfg.ReadOnly,
		Logger:      e.logger,
	}
	return session.NewManager(opts, time.Duration(e.cfg.SessionTTLMinutes)*time.Minute, e.logger)
}
