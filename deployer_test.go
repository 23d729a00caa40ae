package agentdeploy

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dhamidi/agentdeploy/evaluate"
	"github.com/dhamidi/agentdeploy/history"
	"github.com/dhamidi/agentdeploy/platform"
	"github.com/dhamidi/agentdeploy/platform/platformtest"
	"github.com/dhamidi/agentdeploy/resource"
	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEngine = "projects/p1/locations/us-central1/reasoningEngines/abc123"

var testNow = time.Unix(1760000000, 0)

type harness struct {
	fake     *platformtest.Fake
	fs       afero.Fs
	out      *bytes.Buffer
	errOut   *bytes.Buffer
	deployer *Deployer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for path, body := range map[string]string{
		"/src/travel_concierge/__init__.py":           "",
		"/src/travel_concierge/agent.py":              "root_agent = None",
		"/src/travel_concierge/sub_agents/booking.py": "# booking",
		"/src/pyproject.toml":                         "[project]",
	} {
		require.NoError(t, afero.WriteFile(fsys, path, []byte(body), 0644))
	}

	h := &harness{
		fake:   &platformtest.Fake{EngineName: testEngine},
		fs:     fsys,
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
	}
	h.deployer = &Deployer{
		Connect:   h.fake.Connector(),
		Display:   NewDisplay(h.out, h.errOut),
		Log:       zerolog.Nop(),
		Fs:        fsys,
		SourceDir: "/src",
		Now:       func() time.Time { return testNow },
	}
	return h
}

// tempArchives lists archives left in the temp dir of the in-memory fs.
func (h *harness) tempArchives(t *testing.T) []string {
	t.Helper()
	matches, err := afero.Glob(h.fs, filepath.Join(os.TempDir(), "agentdeploy-*.zip"))
	require.NoError(t, err)
	return matches
}

var validConfig = Config{ProjectID: "p1", Location: "us-central1", Bucket: "b1", DisplayName: DefaultDisplayName}

func TestCreate(t *testing.T) {
	h := newHarness(t)

	res := h.deployer.Create(context.Background(), validConfig)
	require.True(t, res.OK(), "create failed: %v", res.Err)
	assert.Equal(t, OpCreate, res.Operation)
	assert.Equal(t, testEngine, res.ResourceName)

	assert.Equal(t, []platformtest.Connection{{Project: "p1", Location: "us-central1"}}, h.fake.Connections)
	require.Len(t, h.fake.Uploads, 1)
	assert.Equal(t, "b1", h.fake.Uploads[0].Bucket)
	assert.Equal(t, "agents/travel-concierge-1760000000.zip", h.fake.Uploads[0].Object)

	want := []platform.CreateEngineRequest{{
		Parent:        "projects/p1/locations/us-central1",
		DisplayName:   DefaultDisplayName,
		Description:   EngineDescription,
		PackageURI:    "gs://b1/agents/travel-concierge-1760000000.zip",
		PythonVersion: "3.11",
		ExecutorImage: ExecutorImage,
		ClassMethods: []platform.ClassMethod{
			{Name: "travel_concierge.agent.root_agent", Description: entryPointDescription, APIMode: "stream"},
		},
	}}
	if diff := cmp.Diff(want, h.fake.Created); diff != "" {
		t.Errorf("create request mismatch (-want +got):\n%s", diff)
	}

	assert.Contains(t, h.out.String(), "Resource ID: "+testEngine)
	assert.Empty(t, h.tempArchives(t), "temporary archive should be removed")
	assert.Equal(t, 1, h.fake.Closed)
}

func TestCreate_UploadsArchiveWithSourcesAndMetadata(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.deployer.Create(context.Background(), validConfig).OK())

	data := h.fake.Uploads[0].Data
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{
		"travel_concierge/__init__.py",
		"travel_concierge/agent.py",
		"travel_concierge/sub_agents/booking.py",
		"pyproject.toml",
	}, names)
}

func TestCreate_MissingConfigurationMakesNoCalls(t *testing.T) {
	for desc, cfg := range map[string]Config{
		"no project": {Location: "us-central1", Bucket: "b1"},
		"no bucket":  {ProjectID: "p1", Location: "us-central1"},
	} {
		t.Run(desc, func(t *testing.T) {
			h := newHarness(t)
			res := h.deployer.Create(context.Background(), cfg)

			var missing *MissingConfigurationError
			assert.True(t, errors.As(res.Err, &missing), "got %v", res.Err)
			assert.Zero(t, h.fake.Calls())
			assert.Empty(t, h.tempArchives(t))
		})
	}
}

func TestCreate_RemovesArchiveWhenCreateFails(t *testing.T) {
	h := newHarness(t)
	h.fake.CreateErr = errors.New("permission denied")

	var duringUpload []string
	h.fake.OnUpload = func(bucket, object string) { duringUpload = h.tempArchives(t) }

	res := h.deployer.Create(context.Background(), validConfig)
	assert.ErrorIs(t, res.Err, h.fake.CreateErr)
	assert.Len(t, duringUpload, 1, "archive should exist while uploading")
	assert.Empty(t, h.tempArchives(t))
}

func TestCreate_RemovesArchiveWhenUploadFails(t *testing.T) {
	h := newHarness(t)
	h.fake.UploadErr = errors.New("bucket does not exist")

	res := h.deployer.Create(context.Background(), validConfig)
	assert.ErrorIs(t, res.Err, h.fake.UploadErr)
	assert.Empty(t, h.fake.Created, "no engine is created after a failed upload")
	assert.Empty(t, h.tempArchives(t))
}

func TestCreate_ConnectError(t *testing.T) {
	h := newHarness(t)
	h.fake.ConnectErr = errors.New("no credentials")

	res := h.deployer.Create(context.Background(), validConfig)
	assert.ErrorIs(t, res.Err, h.fake.ConnectErr)
	assert.Empty(t, h.fake.Uploads)
}

type fakeLedger struct {
	recorded []history.Deployment
	deleted  []string
	err      error
}

func (l *fakeLedger) Record(d *history.Deployment) error {
	l.recorded = append(l.recorded, *d)
	return l.err
}

func (l *fakeLedger) MarkDeleted(name string, at time.Time) error {
	l.deleted = append(l.deleted, name)
	return l.err
}

func TestCreate_RecordsDeployment(t *testing.T) {
	h := newHarness(t)
	ledger := &fakeLedger{}
	h.deployer.Ledger = ledger

	require.True(t, h.deployer.Create(context.Background(), validConfig).OK())
	require.Len(t, ledger.recorded, 1)
	got := ledger.recorded[0]
	assert.Equal(t, testEngine, got.ResourceName)
	assert.Equal(t, "p1", got.Project)
	assert.Equal(t, "gs://b1/agents/travel-concierge-1760000000.zip", got.PackageURI)
	assert.True(t, testNow.Equal(got.CreatedAt))
}

func TestCreate_LedgerFailureDoesNotFailCreate(t *testing.T) {
	h := newHarness(t)
	h.deployer.Ledger = &fakeLedger{err: errors.New("disk full")}

	res := h.deployer.Create(context.Background(), validConfig)
	assert.True(t, res.OK())
	assert.Equal(t, testEngine, res.ResourceName)
}

func TestTest(t *testing.T) {
	h := newHarness(t)
	h.fake.Chunks = []platform.QueryChunk{
		{Content: "Consider Patagonia."},
		{Metadata: map[string]any{"author": "inspiration_agent"}},
		{Content: "Or Oaxaca.", Metadata: map[string]any{"final": true}},
	}

	res := h.deployer.Test(context.Background(), testEngine, "")
	require.True(t, res.OK(), "test failed: %v", res.Err)

	assert.Equal(t, []platformtest.Connection{{Project: "p1", Location: "us-central1"}}, h.fake.Connections)
	require.Len(t, h.fake.Queries, 1)
	assert.Equal(t, platform.QueryRequest{
		Name: testEngine,
		Input: map[string]any{
			"input": DefaultQuery,
			"context": map[string]any{
				"user_id":    "test_user",
				"session_id": "test_session",
			},
		},
	}, h.fake.Queries[0])

	out := h.out.String()
	assert.Contains(t, out, "Testing agent with query: 'Looking for inspirations around the Americas'")
	assert.Contains(t, out, MarkerContent+" Consider Patagonia.")
	assert.Contains(t, out, MarkerContent+" Or Oaxaca.")
	assert.Contains(t, out, `Metadata: {"author":"inspiration_agent"}`)
	assert.Contains(t, out, `Metadata: {"final":true}`)
}

func TestTest_NeverPanicsOnRemoteErrors(t *testing.T) {
	cases := map[string]func(f *platformtest.Fake){
		"connect": func(f *platformtest.Fake) { f.ConnectErr = errors.New("dial tcp: connection refused") },
		"query":   func(f *platformtest.Fake) { f.QueryErr = errors.New("connection reset by peer") },
		"stream": func(f *platformtest.Fake) {
			f.Chunks = []platform.QueryChunk{{Content: "partial"}}
			f.StreamErr = errors.New("stream closed")
		},
	}
	for desc, setup := range cases {
		t.Run(desc, func(t *testing.T) {
			h := newHarness(t)
			setup(h.fake)

			var res Result
			assert.NotPanics(t, func() { res = h.deployer.Test(context.Background(), testEngine, "hi") })
			assert.False(t, res.OK())
			assert.Equal(t, OpTest, res.Operation)
		})
	}
}

func TestTest_MalformedHandle(t *testing.T) {
	h := newHarness(t)
	res := h.deployer.Test(context.Background(), "abc123", "")

	assert.ErrorIs(t, res.Err, resource.ErrMalformedName)
	assert.Zero(t, h.fake.Calls())
}

type fakeJudge struct {
	verdict    evaluate.Verdict
	transcript string
}

func (j *fakeJudge) Evaluate(ctx context.Context, query, transcript string) (evaluate.Verdict, error) {
	j.transcript = transcript
	return j.verdict, nil
}

func (j *fakeJudge) Model() string { return "judge-model" }

func TestTest_Evaluation(t *testing.T) {
	for desc, pass := range map[string]bool{"pass": true, "fail": false} {
		t.Run(desc, func(t *testing.T) {
			h := newHarness(t)
			h.fake.Chunks = []platform.QueryChunk{{Content: "line one"}, {Content: "line two"}}
			judge := &fakeJudge{verdict: evaluate.Verdict{Pass: pass, Reason: "because"}}
			h.deployer.Judge = func(ctx context.Context, project, location string) (Judge, error) {
				assert.Equal(t, "p1", project)
				assert.Equal(t, "us-central1", location)
				return judge, nil
			}

			res := h.deployer.Test(context.Background(), testEngine, "q")
			assert.Equal(t, "line one\nline two\n", judge.transcript)
			assert.Contains(t, h.out.String(), "Evaluation (judge-model)")
			if pass {
				assert.True(t, res.OK())
			} else {
				assert.ErrorIs(t, res.Err, ErrEvaluationFailed)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	ledger := &fakeLedger{}
	h.deployer.Ledger = ledger

	res := h.deployer.Delete(context.Background(), testEngine)
	require.True(t, res.OK(), "delete failed: %v", res.Err)

	assert.Equal(t, []string{testEngine}, h.fake.Deleted)
	assert.Equal(t, []string{testEngine}, ledger.deleted)
	assert.Contains(t, h.out.String(), "Agent Engine deleted successfully!")
}

func TestDelete_Failures(t *testing.T) {
	h := newHarness(t)
	h.fake.DeleteErr = errors.New("not found")

	res := h.deployer.Delete(context.Background(), testEngine)
	assert.ErrorIs(t, res.Err, h.fake.DeleteErr)
	assert.NotContains(t, h.out.String(), "deleted successfully")

	h = newHarness(t)
	res = h.deployer.Delete(context.Background(), "projects/p1/locations/us-central1")
	assert.ErrorIs(t, res.Err, resource.ErrMalformedName)
	assert.Zero(t, h.fake.Calls())
}

func TestList(t *testing.T) {
	h := newHarness(t)
	h.fake.Engines = []platform.Engine{{Name: testEngine, DisplayName: DefaultDisplayName}}

	engines, err := h.deployer.List(context.Background(), Config{ProjectID: "p1", Location: "us-central1"})
	require.NoError(t, err)
	assert.Equal(t, h.fake.Engines, engines)
	assert.Equal(t, []string{"projects/p1/locations/us-central1"}, h.fake.Listed)

	_, err = h.deployer.List(context.Background(), Config{Location: "us-central1"})
	var missing *MissingConfigurationError
	assert.True(t, errors.As(err, &missing))
}
