package glab

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrAbsent is returned when decoding a response that had no body.
var ErrAbsent = errors.New("response has no body")

// Response is the decoded stdout of a successful glab api call. A nil
// *Response means the call succeeded with an empty body.
type Response struct {
	body []byte
	raw  bool
}

func newJSONResponse(body []byte) *Response {
	return &Response{body: body}
}

// newRawResponse wraps non-JSON output as {"raw": text}.
func newRawResponse(text string) *Response {
	body, _ := json.Marshal(map[string]string{"raw": text})
	return &Response{body: body, raw: true}
}

// IsAbsent reports whether the call returned no body at all.
func (r *Response) IsAbsent() bool {
	return r == nil || len(r.body) == 0
}

// IsRaw reports whether stdout was not JSON.
func (r *Response) IsRaw() bool {
	return r != nil && r.raw
}

// Raw returns the original text for non-JSON output.
func (r *Response) Raw() (string, bool) {
	if !r.IsRaw() {
		return "", false
	}
	var v map[string]string
	if err := json.Unmarshal(r.body, &v); err != nil {
		return "", false
	}
	return v["raw"], true
}

func (r *Response) Bytes() []byte {
	if r == nil {
		return nil
	}
	return r.body
}

func (r *Response) Decode(v any) error {
	if r.IsAbsent() {
		return ErrAbsent
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Object decodes the body as a JSON object.
func (r *Response) Object() (map[string]any, error) {
	var v map[string]any
	if err := r.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// List decodes the body as a JSON array.
func (r *Response) List() ([]any, error) {
	var v []any
	if err := r.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Value decodes the body into a generic value: map, slice or scalar.
func (r *Response) Value() (any, error) {
	var v any
	if err := r.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
