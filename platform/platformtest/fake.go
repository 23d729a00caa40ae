// Package platformtest provides an in-memory platform.Platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"io"

	"github.com/dhamidi/agentdeploy/platform"
)

// Upload records one call to Upload.
type Upload struct {
	Bucket string
	Object string
	Data   []byte
}

// Connection records one call to the connector.
type Connection struct {
	Project  string
	Location string
}

// Fake records calls and returns canned results. Set the *Err fields to make
// the corresponding call fail.
type Fake struct {
	ConnectErr  error
	Connections []Connection

	UploadErr error
	Uploads   []Upload
	// OnUpload runs inside Upload before the error check.
	OnUpload func(bucket, object string)

	CreateErr  error
	EngineName string
	Created    []platform.CreateEngineRequest

	QueryErr  error
	Chunks    []platform.QueryChunk
	StreamErr error
	Queries   []platform.QueryRequest

	DeleteErr error
	Deleted   []string

	ListErr error
	Engines []platform.Engine
	Listed  []string

	Closed int
}

// Connector returns a platform.Connector that always hands out f.
func (f *Fake) Connector() platform.Connector {
	return func(ctx context.Context, project, location string) (platform.Platform, error) {
		f.Connections = append(f.Connections, Connection{Project: project, Location: location})
		if f.ConnectErr != nil {
			return nil, f.ConnectErr
		}
		return f, nil
	}
}

// Calls counts every remote call made, connections included.
func (f *Fake) Calls() int {
	return len(f.Connections) + len(f.Uploads) + len(f.Created) + len(f.Queries) + len(f.Deleted) + len(f.Listed)
}

func (f *Fake) Upload(ctx context.Context, bucket, object string, content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	f.Uploads = append(f.Uploads, Upload{Bucket: bucket, Object: object, Data: data})
	if f.OnUpload != nil {
		f.OnUpload(bucket, object)
	}
	if f.UploadErr != nil {
		return "", f.UploadErr
	}
	return fmt.Sprintf("gs://%s/%s", bucket, object), nil
}

func (f *Fake) CreateEngine(ctx context.Context, req platform.CreateEngineRequest) (string, error) {
	f.Created = append(f.Created, req)
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	return f.EngineName, nil
}

func (f *Fake) QueryEngine(ctx context.Context, req platform.QueryRequest) (platform.ChunkStream, error) {
	f.Queries = append(f.Queries, req)
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	return &stream{chunks: append([]platform.QueryChunk(nil), f.Chunks...), err: f.StreamErr}, nil
}

func (f *Fake) DeleteEngine(ctx context.Context, name string) error {
	f.Deleted = append(f.Deleted, name)
	return f.DeleteErr
}

func (f *Fake) ListEngines(ctx context.Context, parent string) ([]platform.Engine, error) {
	f.Listed = append(f.Listed, parent)
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return f.Engines, nil
}

func (f *Fake) Close() error {
	f.Closed++
	return nil
}

type stream struct {
	chunks []platform.QueryChunk
	err    error
}

func (s *stream) Next() (platform.QueryChunk, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return platform.QueryChunk{}, s.err
		}
		return platform.QueryChunk{}, io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *stream) Close() error { return nil }
