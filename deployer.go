// Package agentdeploy creates, smoke-tests and deletes the Travel Concierge
// agent on Vertex AI Agent Engine.
//
// A Deployer packages the agent sources, uploads them to Cloud Storage and
// registers a Reasoning Engine. Test and Delete take the engine's full
// resource name as printed by Create.
package agentdeploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dhamidi/agentdeploy/evaluate"
	"github.com/dhamidi/agentdeploy/history"
	"github.com/dhamidi/agentdeploy/packager"
	"github.com/dhamidi/agentdeploy/platform"
	"github.com/dhamidi/agentdeploy/resource"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	PythonVersion         = "3.11"
	ExecutorImage         = "us-docker.pkg.dev/vertex-ai/agent-builder/agent-executor:latest"
	EntryPoint            = "travel_concierge.agent.root_agent"
	EngineDescription     = "AI-powered travel concierge system with multi-agent architecture"
	entryPointDescription = "Main travel concierge agent that orchestrates travel planning and assistance"

	// ObjectPrefix is followed by the Unix time and ".zip".
	ObjectPrefix = "agents/travel-concierge-"

	DefaultQuery  = "Looking for inspirations around the Americas"
	TestUserID    = "test_user"
	TestSessionID = "test_session"
)

// ErrEvaluationFailed is returned by Test when the evaluator rejects the reply.
var ErrEvaluationFailed = errors.New("agent reply failed evaluation")

// Recorder keeps track of created and deleted engines.
type Recorder interface {
	Record(d *history.Deployment) error
	MarkDeleted(resourceName string, at time.Time) error
}

// Judge decides whether a quicktest transcript answers the query.
type Judge interface {
	Evaluate(ctx context.Context, query, transcript string) (evaluate.Verdict, error)
	Model() string
}

// JudgeConnector opens a Judge in the engine's project and location.
type JudgeConnector func(ctx context.Context, project, location string) (Judge, error)

// Deployer runs the remote operations. Connect and Display are required.
type Deployer struct {
	Connect platform.Connector
	Display *Display
	Log     zerolog.Logger

	// Fs holds sources and the temporary archive; defaults to the OS.
	Fs        afero.Fs
	SourceDir string
	Layout    packager.Layout
	Now       func() time.Time

	// Ledger, when set, records successful creates and deletes.
	Ledger Recorder
	// Judge, when set, evaluates quicktest replies.
	Judge JudgeConnector
}

func (d *Deployer) fs() afero.Fs {
	if d.Fs == nil {
		return afero.NewOsFs()
	}
	return d.Fs
}

func (d *Deployer) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Deployer) layout() packager.Layout {
	if d.Layout.PackageDir == "" {
		return packager.DefaultLayout
	}
	return d.Layout
}

func (d *Deployer) sourceDir() string {
	if d.SourceDir == "" {
		return "."
	}
	return d.SourceDir
}

// Create packages and uploads the agent, then registers a new engine and
// waits for it. Nothing is contacted if cfg is incomplete.
//
// An archive that was uploaded before a failed create is left in the bucket.
func (d *Deployer) Create(ctx context.Context, cfg Config) Result {
	res := Result{Operation: OpCreate}
	if err := cfg.Validate(); err != nil {
		res.Err = err
		return res
	}
	res.ResourceName, res.Err = d.create(ctx, cfg)
	return res
}

func (d *Deployer) create(ctx context.Context, cfg Config) (string, error) {
	p, err := d.Connect(ctx, cfg.ProjectID, cfg.Location)
	if err != nil {
		return "", err
	}
	defer p.Close()

	d.Display.Step(MarkerPackage, "Uploading agent code to Google Cloud Storage...")
	uri, err := d.stage(ctx, p, cfg.Bucket)
	if err != nil {
		return "", err
	}
	d.Display.Step(MarkerSuccess, "Agent code uploaded to: %s", uri)

	d.Display.Step(MarkerLaunch, "Creating Agent Engine resource...")
	d.Display.Step(MarkerWait, "Waiting for deployment to complete...")
	name, err := p.CreateEngine(ctx, platform.CreateEngineRequest{
		Parent:        resource.Parent(cfg.ProjectID, cfg.Location),
		DisplayName:   cfg.DisplayName,
		Description:   EngineDescription,
		PackageURI:    uri,
		PythonVersion: PythonVersion,
		ExecutorImage: ExecutorImage,
		ClassMethods: []platform.ClassMethod{
			{Name: EntryPoint, Description: entryPointDescription, APIMode: "stream"},
		},
	})
	if err != nil {
		return "", err
	}
	d.Display.Step(MarkerSuccess, "Agent Engine created successfully!")
	d.Display.Step(MarkerResource, "Resource ID: %s", name)

	if d.Ledger != nil {
		err := d.Ledger.Record(&history.Deployment{
			ResourceName: name,
			DisplayName:  cfg.DisplayName,
			Project:      cfg.ProjectID,
			Location:     cfg.Location,
			PackageURI:   uri,
			CreatedAt:    d.now(),
		})
		if err != nil {
			d.Log.Warn().Err(err).Str("resource", name).Msg("could not record deployment")
		}
	}
	return name, nil
}

// stage builds the archive, uploads it and removes the local copy on every
// path once it exists.
func (d *Deployer) stage(ctx context.Context, p platform.Platform, bucket string) (string, error) {
	fsys := d.fs()
	archive, err := packager.Build(fsys, d.sourceDir(), d.layout(), d.Log)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := fsys.Remove(archive.Path); err != nil {
			d.Log.Warn().Err(err).Str("path", archive.Path).Msg("could not remove temporary archive")
		}
	}()
	d.Log.Debug().Strs("entries", archive.Entries).Msg("packaged agent")

	f, err := fsys.Open(archive.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	object := fmt.Sprintf("%s%d.zip", ObjectPrefix, d.now().Unix())
	return p.Upload(ctx, bucket, object, f)
}

// Test sends query to the engine named by handle and prints every response
// chunk as it arrives. An empty query uses DefaultQuery.
func (d *Deployer) Test(ctx context.Context, handle, query string) Result {
	return Result{Operation: OpTest, ResourceName: handle, Err: d.test(ctx, handle, query)}
}

func (d *Deployer) test(ctx context.Context, handle, query string) error {
	if query == "" {
		query = DefaultQuery
	}
	d.Display.Step(MarkerTest, "Testing agent with query: '%s'", query)

	name, err := resource.Parse(handle)
	if err != nil {
		return err
	}
	p, err := d.Connect(ctx, name.Project, name.Location)
	if err != nil {
		return err
	}
	defer p.Close()

	stream, err := p.QueryEngine(ctx, platform.QueryRequest{
		Name: name.String(),
		Input: map[string]any{
			"input": query,
			"context": map[string]any{
				"user_id":    TestUserID,
				"session_id": TestSessionID,
			},
		},
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	d.Display.Step(MarkerSuccess, "Agent response received:")
	var transcript strings.Builder
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if chunk.Content != "" {
			d.Display.Content(chunk.Content)
			transcript.WriteString(chunk.Content)
			transcript.WriteString("\n")
		}
		if len(chunk.Metadata) > 0 {
			d.Display.Step(MarkerMetadata, "Metadata: %s", formatMetadata(chunk.Metadata))
		}
	}

	if d.Judge == nil {
		return nil
	}
	return d.evaluate(ctx, name, query, transcript.String())
}

func (d *Deployer) evaluate(ctx context.Context, name resource.Name, query, transcript string) error {
	judge, err := d.Judge(ctx, name.Project, name.Location)
	if err != nil {
		return err
	}
	verdict, err := judge.Evaluate(ctx, query, transcript)
	if err != nil {
		return err
	}

	outcome := "PASS"
	if !verdict.Pass {
		outcome = "FAIL"
	}
	d.Display.Step(MarkerVerdict, "Evaluation (%s): %s %s", judge.Model(), outcome, verdict.Reason)
	if !verdict.Pass {
		return fmt.Errorf("%w: %s", ErrEvaluationFailed, verdict.Reason)
	}
	return nil
}

func formatMetadata(m map[string]any) string {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprint(m)
	}
	return string(data)
}

// Delete removes the engine named by handle and waits for the operation.
func (d *Deployer) Delete(ctx context.Context, handle string) Result {
	return Result{Operation: OpDelete, ResourceName: handle, Err: d.delete(ctx, handle)}
}

func (d *Deployer) delete(ctx context.Context, handle string) error {
	d.Display.Step(MarkerDelete, "Deleting Agent Engine: %s", handle)

	name, err := resource.Parse(handle)
	if err != nil {
		return err
	}
	p, err := d.Connect(ctx, name.Project, name.Location)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.DeleteEngine(ctx, name.String()); err != nil {
		return err
	}
	d.Display.Step(MarkerSuccess, "Agent Engine deleted successfully!")

	if d.Ledger != nil {
		err := d.Ledger.MarkDeleted(name.String(), d.now())
		if err != nil && !errors.Is(err, history.ErrDeploymentNotFound) {
			d.Log.Warn().Err(err).Str("resource", name.String()).Msg("could not update deployment record")
		}
	}
	return nil
}

// List returns the engines in cfg's project and location.
func (d *Deployer) List(ctx context.Context, cfg Config) ([]platform.Engine, error) {
	if err := cfg.requireProject(); err != nil {
		return nil, err
	}
	p, err := d.Connect(ctx, cfg.ProjectID, cfg.Location)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return p.ListEngines(ctx, resource.Parent(cfg.ProjectID, cfg.Location))
}
