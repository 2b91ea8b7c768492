package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"replybot/internal/config"
	"replybot/internal/db"
	"replybot/internal/jobs"
	"replybot/internal/queue"
	"replybot/internal/utils"
)

// stdout receives command output; tests swap it.
var stdout io.Writer = os.Stdout

func Run(args []string) int {
	// Support a global --verbose flag anywhere in the argv (before or after the command).
	// This is helpful because the stdlib flag parser stops at the first non-flag argument.
	args, globalVerbose := extractGlobalVerbose(args)
	utils.ConfigureLogging(globalVerbose)

	if len(args) < 2 {
		printUsage()
		return 1
	}
	if args[1] == "-h" || args[1] == "--help" || args[1] == "help" {
		printUsage()
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	utils.SetLogFormat(cfg.LogFormat)
	utils.Logf("replybot: config loaded env=%s hostname=%s output=%s", cfg.AppEnv, cfg.Hostname, cfg.OutputDir)

	cmd := args[1]
	cmdArgs := args[2:]
	utils.Logf("replybot: cmd=%s args=%v", cmd, cmdArgs)

	if cmd == "migrate" {
		if err := runMigrate(ctx, cfg, cmdArgs); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	jctx, closeAll, err := connect(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closeAll()

	var runErr error
	switch cmd {
	case "Comment:Enqueue":
		runErr = runCommentEnqueue(ctx, jctx, cmdArgs)
	case "Discover:Run":
		runErr = runDiscover(ctx, jctx, cmdArgs)
	case "job:GenerateReplies":
		runErr = runGenerateReplies(ctx, jctx, cmdArgs)
	case "job:RenderReplies":
		runErr = runRenderReplies(ctx, jctx, cmdArgs)
	case "Reply:Run":
		runErr = runReplyOnce(ctx, jctx, cmdArgs)
	case "Moderation:List":
		runErr = runModerationList(ctx, jctx, cmdArgs)
	case "Moderation:Approve":
		runErr = runModerationApprove(ctx, jctx, cmdArgs)
	case "Ledger:Status":
		runErr = runLedgerStatus(ctx, jctx, cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		return 1
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		return 1
	}
	return 0
}

// connect opens the ledger and queue only when they are configured. Both are
// optional; the file queue works without either.
func connect(ctx context.Context, cfg config.Config) (jobs.JobContext, func(), error) {
	jctx := jobs.JobContext{Config: cfg}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DBEnabled() {
		store, err := db.NewStore(ctx, cfg.DBConnString())
		if err != nil {
			return jctx, closeAll, fmt.Errorf("db error: %w", err)
		}
		closers = append(closers, store.Close)
		jctx.Store = store
		utils.Logf("replybot: db connected")
	}

	if cfg.RabbitMQEnabled {
		queueClient, err := queue.New(cfg.RabbitMQURL())
		if err != nil {
			closeAll()
			return jctx, func() {}, fmt.Errorf("queue error: %w", err)
		}
		closers = append(closers, queueClient.Close)
		jctx.Queue = queueClient
		utils.Logf("replybot: queue connected")
	}
	return jctx, closeAll, nil
}

func extractGlobalVerbose(args []string) ([]string, bool) {
	if len(args) == 0 {
		return args, false
	}

	verbose := false
	out := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case arg == "--verbose" || arg == "-verbose":
			verbose = true
		case strings.HasPrefix(arg, "--verbose="), strings.HasPrefix(arg, "-verbose="):
			raw := arg[strings.Index(arg, "=")+1:]
			if parsed, err := strconv.ParseBool(raw); err == nil {
				verbose = parsed
			}
		default:
			out = append(out, arg)
		}
	}
	return out, verbose
}

// parseInterleaved parses flags that may appear before, between or after
// positional arguments and returns the positionals in order.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		// Everything after a literal "--" is positional.
		if len(args) > len(rest) && args[len(args)-len(rest)-1] == "--" {
			return append(positional, rest...), nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func logJobStart(name string, opts jobs.JobOptions) {
	utils.Logf("start %s id=%s queue=%t sleep=%d overwrite=%t rerender=%t", name, opts.ID, opts.Queue, opts.Sleep, opts.Overwrite, opts.Rerender)
}

func printUsage() {
	fmt.Fprintln(stdout, "Usage: replybot <command> [args]")
	fmt.Fprintln(stdout, "Global flags:")
	fmt.Fprintln(stdout, "  --verbose   Enable diagnostic logging (can appear before or after the command).")
	fmt.Fprintln(stdout, "Commands:")
	fmt.Fprintln(stdout, `  Comment:Enqueue "<text>" [url] [--out=DIR] [--pattern=manual]`)
	fmt.Fprintln(stdout, "  Discover:Run [--input=FILE|-]")
	fmt.Fprintln(stdout, "  job:GenerateReplies [id] [--tone=T] [--max-words=N] [--overwrite]")
	fmt.Fprintln(stdout, "  job:RenderReplies [id] [--queue] [--once] [--sleep=N] [--rerender] [--overwrite]")
	fmt.Fprintln(stdout, `  Reply:Run "<text>" [url] [--headless=true|false]`)
	fmt.Fprintln(stdout, "  Moderation:List")
	fmt.Fprintln(stdout, "  Moderation:Approve <id>")
	fmt.Fprintln(stdout, "  Ledger:Status [--state=MUXED] [--limit=N]")
	fmt.Fprintln(stdout, "  migrate [up] [--dir=migrations] [--dry-run]")
}
