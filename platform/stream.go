package platform

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// bodyStream turns raw HTTP body frames from a streaming query into chunks.
// A frame may hold several newline-delimited JSON events, and an event may be
// split across frames.
type bodyStream struct {
	recv    func() ([]byte, error)
	cancel  func()
	pending []QueryChunk
	// partial holds an incomplete trailing line until the next frame.
	partial []byte
	done    bool
}

func newBodyStream(recv func() ([]byte, error), cancel func()) *bodyStream {
	return &bodyStream{recv: recv, cancel: cancel}
}

func (s *bodyStream) Next() (QueryChunk, error) {
	for len(s.pending) == 0 {
		if s.done {
			return QueryChunk{}, io.EOF
		}
		data, err := s.recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			s.pending = decodeChunks(s.partial)
			s.partial = nil
			continue
		}
		if err != nil {
			return QueryChunk{}, err
		}
		s.pending = decodeChunks(s.split(data))
	}
	chunk := s.pending[0]
	s.pending = s.pending[1:]
	return chunk, nil
}

// split returns the complete lines of the buffered data plus frame. A
// trailing line without a newline is complete only if it is valid JSON.
func (s *bodyStream) split(frame []byte) []byte {
	data := append(s.partial, frame...)
	s.partial = nil

	cut := bytes.LastIndexByte(data, '\n') + 1
	rest := data[cut:]
	if len(bytes.TrimSpace(rest)) == 0 || json.Valid(rest) {
		return data
	}
	s.partial = append([]byte(nil), rest...)
	return data[:cut]
}

func (s *bodyStream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// decodeChunks parses one frame. JSON objects contribute their "content"
// (a string, or an object with text parts) as Content and every other key as
// Metadata. A content object without text, such as a function call, stays in
// Metadata. Lines that are not JSON objects are passed through as Content.
func decodeChunks(data []byte) []QueryChunk {
	var chunks []QueryChunk
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var event map[string]any
		if err := json.Unmarshal(line, &event); err != nil {
			chunks = append(chunks, QueryChunk{Content: string(line)})
			continue
		}

		chunk := QueryChunk{Content: contentText(event["content"])}
		if chunk.Content != "" || !hasNonTextParts(event["content"]) {
			delete(event, "content")
		}
		if len(event) > 0 {
			chunk.Metadata = event
		}
		if chunk.Content == "" && chunk.Metadata == nil {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func contentText(v any) string {
	switch content := v.(type) {
	case string:
		return content
	case map[string]any:
		parts, _ := content["parts"].([]any)
		var texts []string
		for _, p := range parts {
			part, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := part["text"].(string); ok && text != "" {
				texts = append(texts, text)
			}
		}
		return strings.Join(texts, "")
	}
	return ""
}

// hasNonTextParts reports whether a content object carries parts other than
// text, such as function calls.
func hasNonTextParts(v any) bool {
	content, ok := v.(map[string]any)
	if !ok {
		return false
	}
	parts, _ := content["parts"].([]any)
	for _, p := range parts {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		for key, value := range part {
			if key != "text" && value != nil {
				return true
			}
		}
	}
	return false
}
