package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dhamidi/agentdeploy"
	"github.com/dhamidi/agentdeploy/evaluate"
	"github.com/dhamidi/agentdeploy/history"
	"github.com/dhamidi/agentdeploy/platform"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
)

const (
	defaultEvaluationModel = evaluate.DefaultModel
	latestResource         = "latest"
)

// environment is everything run takes from the process. Tests replace the
// connectors with fakes.
type environment struct {
	getenv func(string) string
	stdout io.Writer
	stderr io.Writer
	fs     afero.Fs
	now    func() time.Time

	// markdown renders agent replies with glamour.
	markdown bool

	// connect defaults to Vertex AI when nil.
	connect platform.Connector
	// judge defaults to Gemini on Vertex AI when nil.
	judge   agentdeploy.JudgeConnector

	defaultLedger string
}

type cli struct {
	opts    options
	flags   *pflag.FlagSet
	env     environment
	display *agentdeploy.Display
	log     zerolog.Logger

	creds  platform.CredentialsProvider
	ledger *history.Ledger
}

func (c *cli) credentials() platform.CredentialsProvider {
	if c.creds == nil {
		c.creds = platform.CredentialsFromEnv(c.env.getenv, c.env.fs)
		c.log.Debug().Msgf("using %v", c.creds)
	}
	return c.creds
}

func (c *cli) connector() platform.Connector {
	if c.env.connect != nil {
		return c.env.connect
	}
	return platform.VertexConnector(c.credentials(), c.log)
}

func (c *cli) judge() agentdeploy.JudgeConnector {
	if !c.opts.evaluate {
		return nil
	}
	if c.env.judge != nil {
		return c.env.judge
	}
	return func(ctx context.Context, project, location string) (agentdeploy.Judge, error) {
		return evaluate.NewVertex(ctx, project, location, c.opts.evaluationModel, c.credentials())
	}
}

// openLedger opens the ledger on first use. Unless create is set, a ledger
// that does not exist yet is left alone and nil is returned.
func (c *cli) openLedger(create bool) (*history.Ledger, error) {
	if c.ledger != nil || c.opts.ledgerPath == "" {
		return c.ledger, nil
	}
	if !create {
		if _, err := os.Stat(c.opts.ledgerPath); errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
	}
	ledger, err := history.Open(c.opts.ledgerPath)
	if err != nil {
		return nil, err
	}
	c.ledger = ledger
	return ledger, nil
}

func (c *cli) closeLedger() {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.Close(); err != nil {
		c.log.Warn().Err(err).Msg("could not close deployment ledger")
	}
	c.ledger = nil
}

// ledgerRecorder opens the ledger only when a deployment is recorded or
// marked deleted.
type ledgerRecorder struct {
	c *cli
}

func (r ledgerRecorder) Record(d *history.Deployment) error {
	ledger, err := r.c.openLedger(true)
	if err != nil || ledger == nil {
		return err
	}
	return ledger.Record(d)
}

func (r ledgerRecorder) MarkDeleted(resourceName string, at time.Time) error {
	ledger, err := r.c.openLedger(false)
	if err != nil {
		return err
	}
	if ledger == nil {
		return history.ErrDeploymentNotFound
	}
	return ledger.MarkDeleted(resourceName, at)
}

func (c *cli) deployer(record bool) *agentdeploy.Deployer {
	d := &agentdeploy.Deployer{
		Connect:   c.connector(),
		Display:   c.display,
		Log:       c.log,
		Fs:        c.env.fs,
		SourceDir: c.opts.sourceDir,
		Now:       c.env.now,
		Judge:     c.judge(),
	}
	if record {
		d.Ledger = ledgerRecorder{c: c}
	}
	return d
}

func (c *cli) config() (agentdeploy.Config, error) {
	var file *agentdeploy.FileConfig
	if c.opts.configPath != "" {
		fc, err := agentdeploy.LoadFileConfig(c.opts.configPath)
		if err != nil {
			return agentdeploy.Config{}, err
		}
		file = fc
	}

	overrides := agentdeploy.Overrides{
		ProjectID: c.opts.projectID,
		Bucket:    c.opts.bucket,
	}
	// Defaults for these two are applied by ResolveConfig after the file.
	if c.flags.Changed("location") {
		overrides.Location = c.opts.location
	}
	if c.flags.Changed("display_name") {
		overrides.DisplayName = c.opts.displayName
	}
	return agentdeploy.ResolveConfig(overrides, c.env.getenv, file), nil
}

func (c *cli) create(ctx context.Context) int {
	cfg, err := c.config()
	if err != nil {
		c.display.Error("Error: %v", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		c.display.Error("Error: %v", err)
		return 1
	}
	c.display.Config(cfg)

	res := c.deployer(true).Create(ctx, cfg)
	if !res.OK() {
		return c.failed(res)
	}
	c.display.Println("")
	c.display.Step(agentdeploy.MarkerDone, "Deployment successful!")
	c.display.Step(agentdeploy.MarkerResource, "Resource ID: %s", res.ResourceName)
	c.display.Println("")
	c.display.Println("To test the agent, run:")
	c.display.Detail("agentdeploy --quicktest --resource_id=%s", res.ResourceName)
	return 0
}

func (c *cli) quicktest(ctx context.Context) int {
	handle, ok := c.resourceID("testing")
	if !ok {
		return 1
	}

	res := c.deployer(false).Test(ctx, handle, c.opts.query)
	if !res.OK() {
		return c.failed(res)
	}
	return 0
}

func (c *cli) delete(ctx context.Context) int {
	handle, ok := c.resourceID("deletion")
	if !ok {
		return 1
	}

	res := c.deployer(true).Delete(ctx, handle)
	if !res.OK() {
		return c.failed(res)
	}
	return 0
}

// resourceID returns the handle given by --resource_id, resolving "latest"
// through the ledger.
func (c *cli) resourceID(purpose string) (string, bool) {
	switch c.opts.resourceID {
	case "":
		c.display.Error("Error: --resource_id required for %s", purpose)
		return "", false
	case latestResource:
		if c.opts.ledgerPath == "" {
			c.display.Error("Error: --resource_id=latest needs the deployment ledger")
			return "", false
		}
		ledger, err := c.openLedger(false)
		if err != nil {
			c.display.Error("Error: %v", err)
			return "", false
		}
		if ledger == nil {
			c.display.Error("Error: %v", history.ErrDeploymentNotFound)
			return "", false
		}
		d, err := ledger.Latest()
		if err != nil {
			c.display.Error("Error: %v", err)
			return "", false
		}
		c.log.Info().Str("resource", d.ResourceName).Msg("using latest deployment")
		return d.ResourceName, true
	default:
		return c.opts.resourceID, true
	}
}

func (c *cli) failed(res agentdeploy.Result) int {
	c.display.Error("Error %s agent: %v", res.Operation.Verb(), res.Err)
	return 1
}

func (c *cli) listEngines(ctx context.Context) int {
	cfg, err := c.config()
	if err != nil {
		c.display.Error("Error: %v", err)
		return 1
	}
	engines, err := c.deployer(false).List(ctx, cfg)
	if err != nil {
		c.display.Error("Error listing agents: %v", err)
		return 1
	}
	if len(engines) == 0 {
		c.display.Println("No Agent Engines in %s/%s.", cfg.ProjectID, cfg.Location)
		return 0
	}

	tw := tabwriter.NewWriter(c.env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE ID\tDISPLAY NAME\tCREATED")
	for _, e := range engines {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.DisplayName, formatTime(e.CreateTime))
	}
	tw.Flush()
	return 0
}

func (c *cli) showHistory() int {
	if c.opts.ledgerPath == "" {
		c.display.Error("Error: --history needs a ledger path")
		return 1
	}
	ledger, err := c.openLedger(false)
	if err != nil {
		c.display.Error("Error: %v", err)
		return 1
	}
	if ledger == nil {
		c.display.Println("No deployments recorded.")
		return 0
	}

	deployments, err := ledger.List()
	if err != nil {
		c.display.Error("Error: %v", err)
		return 1
	}
	if len(deployments) == 0 {
		c.display.Println("No deployments recorded.")
		return 0
	}

	tw := tabwriter.NewWriter(c.env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE ID\tDISPLAY NAME\tCREATED\tSTATUS")
	for _, d := range deployments {
		status := "live"
		if !d.Live() {
			status = "deleted " + formatTime(*d.DeletedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ResourceName, d.DisplayName, formatTime(d.CreatedAt), status)
	}
	tw.Flush()
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
