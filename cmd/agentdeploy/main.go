// Command agentdeploy creates, smoke-tests and deletes the Travel Concierge
// agent on Vertex AI Agent Engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dhamidi/agentdeploy"
	"github.com/dhamidi/agentdeploy/history"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], environment{
		getenv:        os.Getenv,
		stdout:        os.Stdout,
		stderr:        os.Stderr,
		fs:            afero.NewOsFs(),
		now:           time.Now,
		markdown:      true,
		defaultLedger: history.DefaultDatabasePath,
	})
	stop()
	os.Exit(code)
}

type options struct {
	create    bool
	delete    bool
	quicktest bool
	list      bool
	history   bool
	evaluate  bool
	help      bool

	resourceID      string
	projectID       string
	location        string
	bucket          string
	displayName     string
	query           string
	sourceDir       string
	configPath      string
	ledgerPath      string
	evaluationModel string
	logLevel        string
	timeout         time.Duration
}

func newFlagSet(opts *options, defaultLedger string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("agentdeploy", pflag.ContinueOnError)
	// --resource-id and --resource_id are the same flag.
	flagSet.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
	})

	flagSet.BoolVar(&opts.create, "create", false, "Create a new agent deployment")
	flagSet.BoolVar(&opts.delete, "delete", false, "Delete an existing agent deployment")
	flagSet.BoolVar(&opts.quicktest, "quicktest", false, "Quick test of the deployed agent")
	flagSet.BoolVar(&opts.list, "list", false, "List Agent Engines in the project and location")
	flagSet.BoolVar(&opts.history, "history", false, "Show deployments recorded in the local ledger")

	flagSet.StringVar(&opts.resourceID, "resource_id", "", "Resource ID for delete or test operations ('latest' uses the ledger)")
	flagSet.StringVar(&opts.projectID, "project_id", "", "Google Cloud Project ID (overrides "+agentdeploy.EnvProject+")")
	flagSet.StringVar(&opts.location, "location", agentdeploy.DefaultLocation, "Google Cloud location")
	flagSet.StringVar(&opts.bucket, "bucket", "", "GCS bucket name (overrides "+agentdeploy.EnvBucket+")")
	flagSet.StringVar(&opts.displayName, "display_name", agentdeploy.DefaultDisplayName, "Display name for the agent")

	flagSet.StringVar(&opts.query, "query", agentdeploy.DefaultQuery, "Query sent by --quicktest")
	flagSet.BoolVar(&opts.evaluate, "evaluate", false, "Ask Gemini whether the --quicktest reply answers the query")
	flagSet.StringVar(&opts.evaluationModel, "evaluation_model", "", "Model used by --evaluate (default "+defaultEvaluationModel+")")
	flagSet.StringVar(&opts.sourceDir, "source_dir", ".", "Directory containing the agent package")
	flagSet.StringVar(&opts.configPath, "config", "", "TOML file with project_id, location, bucket and display_name")
	flagSet.StringVar(&opts.ledgerPath, "ledger", defaultLedger, "SQLite ledger of deployments (empty disables)")
	flagSet.DurationVar(&opts.timeout, "timeout", 0, "Abort remote operations after this long (0 waits forever)")
	flagSet.StringVar(&opts.logLevel, "log_level", "warn", "Log level (debug, info, warn, error)")
	flagSet.BoolVarP(&opts.help, "help", "h", false, "Show help")

	flagSet.Usage = func() {}
	flagSet.SetOutput(io.Discard)
	return flagSet
}

func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		return zerolog.Nop(), fmt.Errorf("invalid argument %q for \"--log_level\" flag: want one of trace, debug, info, warn, error, fatal, panic, disabled", level)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).
		With().Timestamp().Str("service", "agentdeploy").Logger().
		Level(lvl), nil
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, env environment) int {
	var opts options
	flagSet := newFlagSet(&opts, env.defaultLedger)
	display := agentdeploy.NewDisplay(env.stdout, env.stderr)
	if env.markdown {
		display.WithMarkdown()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(env.stdout, flagSet)
			return 0
		}
		display.Error("Error: %v", err)
		return 1
	}
	if opts.help {
		printHelp(env.stdout, flagSet)
		return 0
	}
	if flagSet.NArg() > 0 {
		display.Error("Error: unexpected argument: %s", flagSet.Arg(0))
		return 1
	}

	logger, err := newLogger(env.stderr, opts.logLevel)
	if err != nil {
		display.Error("Error: %v", err)
		return 1
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	c := &cli{
		opts:    opts,
		flags:   flagSet,
		env:     env,
		display: display,
		log:     logger,
	}
	defer c.closeLedger()

	switch {
	case opts.create:
		return c.create(ctx)
	case opts.quicktest:
		return c.quicktest(ctx)
	case opts.delete:
		return c.delete(ctx)
	case opts.list:
		return c.listEngines(ctx)
	case opts.history:
		return c.showHistory()
	default:
		printHelp(env.stdout, flagSet)
		return 0
	}
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	io.WriteString(w, `agentdeploy: deploy the Travel Concierge agent to Vertex AI Agent Engine.

Packages ./travel_concierge into a zip archive, uploads it to Cloud Storage
and registers a Reasoning Engine. The printed resource ID is what --quicktest
and --delete expect.

Usage:
  agentdeploy --create [--project_id ID] [--bucket NAME] [flags]
  agentdeploy --quicktest --resource_id projects/P/locations/L/reasoningEngines/E
  agentdeploy --delete --resource_id projects/P/locations/L/reasoningEngines/E
  agentdeploy --list [--project_id ID] [--location LOCATION]
  agentdeploy --history

Environment:
  GOOGLE_CLOUD_PROJECT            project ID when --project_id is not given
  GOOGLE_CLOUD_STORAGE_BUCKET     bucket when --bucket is not given
  GOOGLE_APPLICATION_CREDENTIALS  credentials file (default credentials.json,
                                  then Application Default Credentials)

Flags:
`)
	io.WriteString(w, flagSet.FlagUsages())
}
