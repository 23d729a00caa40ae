package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"cloud.google.com/go/storage"
	"github.com/dhamidi/agentdeploy/resource"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

// Vertex implements Platform with the Vertex AI Reasoning Engine services and
// Cloud Storage.
type Vertex struct {
	engines *aiplatform.ReasoningEngineClient
	exec    *aiplatform.ReasoningEngineExecutionClient
	storage *storage.Client
	log     zerolog.Logger
}

// Endpoint returns the regional Vertex AI endpoint for location.
func Endpoint(location string) string {
	if location == "global" {
		return "aiplatform.googleapis.com:443"
	}
	return fmt.Sprintf("%s-aiplatform.googleapis.com:443", location)
}

// VertexConnector returns a Connector that opens Vertex clients with creds.
func VertexConnector(creds CredentialsProvider, log zerolog.Logger) Connector {
	return func(ctx context.Context, project, location string) (Platform, error) {
		return NewVertex(ctx, location, creds, log.With().Str("project", project).Str("location", location).Logger())
	}
}

// NewVertex dials the regional Reasoning Engine services for location and a
// Cloud Storage client.
func NewVertex(ctx context.Context, location string, creds CredentialsProvider, log zerolog.Logger) (*Vertex, error) {
	authCreds, err := creds.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	common := []option.ClientOption{option.WithAuthCredentials(authCreds)}
	regional := append([]option.ClientOption{option.WithEndpoint(Endpoint(location))}, common...)

	v := &Vertex{log: log}
	v.engines, err = aiplatform.NewReasoningEngineClient(ctx, regional...)
	if err != nil {
		return nil, fmt.Errorf("platform: failed to create reasoning engine client: %w", err)
	}
	v.exec, err = aiplatform.NewReasoningEngineExecutionClient(ctx, regional...)
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("platform: failed to create reasoning engine execution client: %w", err)
	}
	v.storage, err = storage.NewClient(ctx, common...)
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("platform: failed to create storage client: %w", err)
	}

	log.Debug().Str("endpoint", Endpoint(location)).Msg("vertex clients ready")
	return v, nil
}

func (v *Vertex) Upload(ctx context.Context, bucket, object string, content io.Reader) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := v.storage.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/zip"
	if _, err := io.Copy(w, content); err != nil {
		// Cancelling before Close discards the partial object.
		cancel()
		w.Close()
		return "", fmt.Errorf("platform: failed to upload gs://%s/%s: %w", bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("platform: failed to upload gs://%s/%s: %w", bucket, object, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", bucket, object)
	v.log.Debug().Str("uri", uri).Int64("bytes", w.Attrs().Size).Msg("uploaded")
	return uri, nil
}

func (v *Vertex) CreateEngine(ctx context.Context, req CreateEngineRequest) (string, error) {
	methods := make([]*structpb.Struct, 0, len(req.ClassMethods))
	for _, m := range req.ClassMethods {
		method, err := structpb.NewStruct(map[string]any{
			"name":        m.Name,
			"description": m.Description,
			"api_mode":    m.APIMode,
		})
		if err != nil {
			return "", fmt.Errorf("platform: invalid class method %s: %w", m.Name, err)
		}
		methods = append(methods, method)
	}

	// The v1 PackageSpec has no executor image field; the runtime picks the
	// executor from the Python version.
	v.log.Debug().Str("executor_image", req.ExecutorImage).Msg("executor image is informational for the v1 API")

	op, err := v.engines.CreateReasoningEngine(ctx, &aiplatformpb.CreateReasoningEngineRequest{
		Parent: req.Parent,
		ReasoningEngine: &aiplatformpb.ReasoningEngine{
			DisplayName: req.DisplayName,
			Description: req.Description,
			Spec: &aiplatformpb.ReasoningEngineSpec{
				PackageSpec: &aiplatformpb.ReasoningEngineSpec_PackageSpec{
					DependencyFilesGcsUri: req.PackageURI,
					PythonVersion:         req.PythonVersion,
				},
				ClassMethods: methods,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("platform: create reasoning engine: %w", err)
	}
	v.log.Debug().Str("operation", op.Name()).Msg("waiting for create operation")

	engine, err := op.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("platform: create operation %s: %w", op.Name(), err)
	}
	if name := engine.GetName(); name != "" {
		return name, nil
	}
	return engineFromOperation(op.Name())
}

// engineFromOperation recovers the engine name from an operation name of the
// form {engine}/operations/{id}.
func engineFromOperation(operation string) (string, error) {
	prefix, _, found := strings.Cut(operation, "/operations/")
	if !found || prefix == "" {
		return "", fmt.Errorf("platform: operation %q did not report a resource name", operation)
	}
	name, err := resource.Parse(prefix)
	if err != nil {
		return "", fmt.Errorf("platform: operation %q does not belong to a reasoning engine: %w", operation, err)
	}
	return name.String(), nil
}

func (v *Vertex) QueryEngine(ctx context.Context, req QueryRequest) (ChunkStream, error) {
	input, err := structpb.NewStruct(req.Input)
	if err != nil {
		return nil, fmt.Errorf("platform: invalid query input: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := v.exec.StreamQueryReasoningEngine(ctx, &aiplatformpb.StreamQueryReasoningEngineRequest{
		Name:  req.Name,
		Input: input,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("platform: query %s: %w", req.Name, err)
	}

	return newBodyStream(func() ([]byte, error) {
		body, err := stream.Recv()
		if err != nil {
			return nil, err
		}
		return body.GetData(), nil
	}, cancel), nil
}

func (v *Vertex) DeleteEngine(ctx context.Context, name string) error {
	op, err := v.engines.DeleteReasoningEngine(ctx, &aiplatformpb.DeleteReasoningEngineRequest{Name: name})
	if err != nil {
		return fmt.Errorf("platform: delete %s: %w", name, err)
	}
	v.log.Debug().Str("operation", op.Name()).Msg("waiting for delete operation")
	if err := op.Wait(ctx); err != nil {
		return fmt.Errorf("platform: delete operation %s: %w", op.Name(), err)
	}
	return nil
}

func (v *Vertex) ListEngines(ctx context.Context, parent string) ([]Engine, error) {
	var engines []Engine
	it := v.engines.ListReasoningEngines(ctx, &aiplatformpb.ListReasoningEnginesRequest{Parent: parent})
	for {
		e, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("platform: list engines in %s: %w", parent, err)
		}
		engines = append(engines, Engine{
			Name:        e.GetName(),
			DisplayName: e.GetDisplayName(),
			CreateTime:  e.GetCreateTime().AsTime(),
			UpdateTime:  e.GetUpdateTime().AsTime(),
		})
	}
	return engines, nil
}

func (v *Vertex) Close() error {
	var errs []error
	if v.engines != nil {
		errs = append(errs, v.engines.Close())
	}
	if v.exec != nil {
		errs = append(errs, v.exec.Close())
	}
	if v.storage != nil {
		errs = append(errs, v.storage.Close())
	}
	return errors.Join(errs...)
}
