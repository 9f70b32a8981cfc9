// Package requester defines the single capability every reconciliation
// component uses to talk to the server, plus its HTTP implementation.
package requester

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fusionctl/fusionctl/pkg/engine"
)

// ContentTypeJSON is set on requests whose body is encoded from a structured value.
const ContentTypeJSON = "application/json"

// Requester sends one request and returns the server's response.
//
// Implementations return *engine.TransportError when the status is outside
// the 2xx range, when Request.Validate rejects the response, or when the
// server cannot be reached.
type Requester interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Credentials is implemented by requesters that know connection-derived
// defaults. The HTTP requester reads both from its connection URL.
type Credentials interface {
	// AdminPassword returns the password to set during bootstrap, or "".
	AdminPassword() string

	// DefaultCollection returns the collection named by the connection, or "".
	DefaultCollection() string
}

// Request describes one API call.
type Request struct {
	// Method is the HTTP method.
	Method string

	// Path is relative to the API root, or host-relative when it starts with "/".
	Path string

	// Header holds extra request headers.
	Header http.Header

	// Query holds query parameters.
	Query url.Values

	// Body is nil, a string, a []byte, or any value encoded as JSON.
	Body interface{}

	// Validate is an optional extra acceptance check run on 2xx responses.
	Validate func(*Response) bool
}

// Response is a fully read server response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	URL    string
}

// JSON decodes the response body into v.
func (r *Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", r.URL, err)
	}
	return nil
}

// Descriptor decodes the response body as a single JSON object.
func (r *Response) Descriptor() (engine.Descriptor, error) {
	var d engine.Descriptor
	if err := r.JSON(&d); err != nil {
		return nil, err
	}
	return d, nil
}

// Descriptors decodes the response body as a JSON array of objects.
func (r *Response) Descriptors() ([]engine.Descriptor, error) {
	var ds []engine.Descriptor
	if err := r.JSON(&ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// EncodeBody converts a request body to bytes. Strings and byte slices pass
// through unchanged with an empty content type; everything else is encoded as
// JSON and reported as ContentTypeJSON.
func EncodeBody(body interface{}) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "", nil
	case json.RawMessage:
		return b, ContentTypeJSON, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, ContentTypeJSON, nil
	}
}

// RejectErrors is a Validate function that fails any response whose JSON body
// is an object carrying an "errors" attribute. The schema and config-file
// endpoints report some failures this way with a 2xx status.
func RejectErrors(resp *Response) bool {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return true
	}
	_, hasErrors := body["errors"]
	return !hasErrors
}

// Success reports whether status is in the 2xx range.
func Success(status int) bool {
	return status >= 200 && status <= 299
}
