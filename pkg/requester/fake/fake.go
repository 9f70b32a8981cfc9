// Package fake provides a scripted, in-memory Requester for tests.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/fusionctl/fusionctl/pkg/engine"
	"github.com/fusionctl/fusionctl/pkg/requester"
)

// Call is one request received by the fake.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// JSON decodes the recorded request body.
func (c Call) JSON() (interface{}, error) {
	var v interface{}
	err := json.Unmarshal(c.Body, &v)
	return v, err
}

// Key returns "METHOD path".
func (c Call) Key() string {
	return c.Method + " " + c.Path
}

// Reply is a scripted response.
type Reply struct {
	Status int
	Body   interface{}
	Header http.Header
	Err    error
}

// Requester replays scripted replies keyed by method and path. Replies queued
// for the same key are served in order; the last one repeats. Unscripted
// requests answer 404. Safe for concurrent use.
type Requester struct {
	mu      sync.Mutex
	replies map[string][]Reply
	calls   []Call

	Password   string
	Collection string
}

var (
	_ requester.Requester   = (*Requester)(nil)
	_ requester.Credentials = (*Requester)(nil)
)

// New creates an empty fake.
func New() *Requester {
	return &Requester{replies: make(map[string][]Reply)}
}

// On queues a reply for method and path.
func (f *Requester) On(method, path string, reply Reply) *Requester {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + " " + path
	f.replies[key] = append(f.replies[key], reply)
	return f
}

// OnJSON queues a 200 reply with a JSON body.
func (f *Requester) OnJSON(method, path string, body interface{}) *Requester {
	return f.On(method, path, Reply{Status: http.StatusOK, Body: body})
}

// OnStatus queues a reply with the given status and no body.
func (f *Requester) OnStatus(method, path string, status int) *Requester {
	return f.On(method, path, Reply{Status: status})
}

// Do records the call and answers with the next scripted reply.
func (f *Requester) Do(_ context.Context, req *requester.Request) (*requester.Response, error) {
	body, _, err := requester.EncodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	call := Call{Method: req.Method, Path: req.Path, Query: req.Query, Header: req.Header, Body: body}
	f.calls = append(f.calls, call)
	reply := Reply{Status: http.StatusNotFound, Body: map[string]string{"code": "not-found"}}
	if queue := f.replies[call.Key()]; len(queue) > 0 {
		reply = queue[0]
		if len(queue) > 1 {
			f.replies[call.Key()] = queue[1:]
		}
	}
	f.mu.Unlock()

	target := "fake://" + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	if reply.Err != nil {
		return nil, &engine.TransportError{Method: req.Method, URL: target, RequestBody: body, Err: reply.Err}
	}

	data, _, err := requester.EncodeBody(reply.Body)
	if err != nil {
		return nil, fmt.Errorf("fake reply for %s: %w", call.Key(), err)
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	resp := &requester.Response{Status: status, Header: reply.Header, Body: data, URL: target}
	if !requester.Success(status) || (req.Validate != nil && !req.Validate(resp)) {
		return nil, &engine.TransportError{Method: req.Method, URL: target, Status: status, Body: data, RequestBody: body}
	}
	return resp, nil
}

// AdminPassword implements requester.Credentials.
func (f *Requester) AdminPassword() string { return f.Password }

// DefaultCollection implements requester.Credentials.
func (f *Requester) DefaultCollection() string { return f.Collection }

// Calls returns every recorded call in order.
func (f *Requester) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Writes returns the recorded calls whose method is not GET.
func (f *Requester) Writes() []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method != http.MethodGet {
			out = append(out, c)
		}
	}
	return out
}

// Keys returns "METHOD path" for every recorded call.
func (f *Requester) Keys() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Key()
	}
	return out
}

// Reset forgets recorded calls but keeps scripted replies.
func (f *Requester) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
