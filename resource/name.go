// Package resource parses the hierarchical names Vertex AI hands out for
// Reasoning Engines, e.g.
//
//	projects/my-project/locations/us-central1/reasoningEngines/1234567890
package resource

import (
	"errors"
	"fmt"
	"strings"
)

// EngineCollection is the collection segment used for Reasoning Engines.
const EngineCollection = "reasoningEngines"

// ErrMalformedName is matched by every error Parse returns.
var ErrMalformedName = errors.New("resource: malformed name")

// MalformedNameError describes why a name could not be parsed.
type MalformedNameError struct {
	Name   string
	Reason string
}

func (e *MalformedNameError) Error() string {
	return fmt.Sprintf("resource: malformed name %q: %s", e.Name, e.Reason)
}

func (e *MalformedNameError) Is(target error) bool {
	return target == ErrMalformedName
}

// Name is a parsed Reasoning Engine resource name.
type Name struct {
	Project    string
	Location   string
	Collection string
	EngineID   string
}

// Parse splits a full engine name into its parts. It requires exactly
// projects/{project}/locations/{location}/reasoningEngines/{id}.
func Parse(name string) (Name, error) {
	malformed := func(format string, args ...any) (Name, error) {
		return Name{}, &MalformedNameError{Name: name, Reason: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(name) == "" {
		return malformed("name is empty")
	}

	segments := strings.Split(name, "/")
	if len(segments) != 6 {
		return malformed("expected 6 segments (projects/P/locations/L/%s/ID), got %d", EngineCollection, len(segments))
	}

	keywords := []struct {
		index int
		want  string
	}{
		{0, "projects"},
		{2, "locations"},
		{4, EngineCollection},
	}
	for _, kw := range keywords {
		if segments[kw.index] != kw.want {
			return malformed("segment %d is %q, want %q", kw.index, segments[kw.index], kw.want)
		}
	}

	for _, i := range []int{1, 3, 5} {
		if segments[i] == "" {
			return malformed("empty value after %q", segments[i-1])
		}
	}

	return Name{
		Project:    segments[1],
		Location:   segments[3],
		Collection: segments[4],
		EngineID:   segments[5],
	}, nil
}

// String renders the canonical name.
func (n Name) String() string {
	return fmt.Sprintf("%s/%s/%s", Parent(n.Project, n.Location), n.Collection, n.EngineID)
}

// Parent returns the location-level parent used for create and list calls.
func Parent(project, location string) string {
	return fmt.Sprintf("projects/%s/locations/%s", project, location)
}
