// Package platform is the narrow surface agentdeploy needs from Google Cloud:
// object upload plus the Reasoning Engine create, query, delete and list calls.
//
// The Vertex type talks to the real services. Tests use platformtest.Fake.
package platform

import (
	"context"
	"io"
	"time"
)

// Platform performs remote operations. Every method blocks until the remote
// side has finished, including waiting on long-running operations.
type Platform interface {
	// Upload stores content as bucket/object and returns its gs:// URI.
	Upload(ctx context.Context, bucket, object string, content io.Reader) (string, error)
	// CreateEngine registers an engine and returns its full resource name.
	CreateEngine(ctx context.Context, req CreateEngineRequest) (string, error)
	// QueryEngine starts a streaming query. The stream ends with io.EOF.
	QueryEngine(ctx context.Context, req QueryRequest) (ChunkStream, error)
	// DeleteEngine removes the named engine.
	DeleteEngine(ctx context.Context, name string) error
	// ListEngines returns the engines below parent (projects/P/locations/L).
	ListEngines(ctx context.Context, parent string) ([]Engine, error)
	Close() error
}

// Connector opens a Platform for a project and location. Locations map to
// regional endpoints, so a new Platform is needed per location.
type Connector func(ctx context.Context, project, location string) (Platform, error)

// ClassMethod is an entry point the deployed agent exposes.
type ClassMethod struct {
	Name        string
	Description string
	APIMode     string
}

// CreateEngineRequest describes a new Reasoning Engine.
type CreateEngineRequest struct {
	Parent        string
	DisplayName   string
	Description   string
	PackageURI    string
	PythonVersion string
	ExecutorImage string
	ClassMethods  []ClassMethod
}

// QueryRequest is sent to a deployed engine.
type QueryRequest struct {
	Name  string
	Input map[string]any
}

// QueryChunk is one piece of a streamed response. Either field may be empty.
type QueryChunk struct {
	Content  string
	Metadata map[string]any
}

// ChunkStream yields response chunks until io.EOF. It cannot be restarted.
type ChunkStream interface {
	Next() (QueryChunk, error)
	Close() error
}

// Engine summarizes a deployed Reasoning Engine.
type Engine struct {
	Name        string
	DisplayName string
	CreateTime  time.Time
	UpdateTime  time.Time
}
