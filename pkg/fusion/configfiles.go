package fusion

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fusionctl/fusionctl/pkg/engine"
	"github.com/fusionctl/fusionctl/pkg/requester"
)

// DefaultConfigContentType is used for files without a known extension.
const DefaultConfigContentType = "application/xml"

var contentTypes = map[string]string{
	".xml":  "application/xml",
	".json": "application/json",
	".txt":  "text/plain",
}

// ContentTypeFor returns the content type used to upload a config file.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return DefaultConfigContentType
}

// ConfigFiles synchronizes a collection's solr-config files.
type ConfigFiles struct {
	collection *Collection
}

func (f *ConfigFiles) filePath(name string) string {
	return f.collection.path("collections/%s/solr-config/%s", escape(name))
}

// List returns the solr-config listing. A body carrying "errors" is a failure.
func (f *ConfigFiles) List(ctx context.Context) ([]engine.Descriptor, error) {
	resp, err := f.collection.do(ctx, &requester.Request{
		Method:   http.MethodGet,
		Path:     f.collection.path("collections/%s/solr-config"),
		Validate: requester.RejectErrors,
	})
	if err != nil {
		return nil, err
	}
	return resp.Descriptors()
}

// Get returns the raw contents of one file.
func (f *ConfigFiles) Get(ctx context.Context, name string) ([]byte, error) {
	resp, err := f.collection.do(ctx, &requester.Request{Method: http.MethodGet, Path: f.filePath(name)})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Set creates or updates one file and reports whether the remote file was
// missing or different. Identical contents cause no request. In check mode
// the difference is reported but nothing is written.
func (f *ConfigFiles) Set(ctx context.Context, name string, contents []byte, contentType string, reload bool, mode engine.Mode) (bool, error) {
	action := engine.ActionReplace
	method := http.MethodPut

	existing, err := f.Get(ctx, name)
	switch {
	case engine.IsNotFound(err):
		action = engine.ActionAdd
		method = http.MethodPost
	case err != nil:
		return false, err
	case bytes.Equal(existing, contents):
		return false, nil
	}

	change := engine.Change{Kind: "config-file", Scope: f.collection.name, Identity: name, Action: action}
	if !mode.Writes() {
		f.collection.client.record(change)
		return true, nil
	}

	if contentType == "" {
		contentType = ContentTypeFor(name)
	}
	_, err = f.collection.do(ctx, &requester.Request{
		Method: method,
		Path:   f.filePath(name),
		Header: http.Header{"Content-Type": {contentType}},
		Query:  url.Values{"reload": {strconv.FormatBool(reload)}},
		Body:   contents,
	})
	if err != nil {
		return true, fmt.Errorf("failed to %s config file %s: %w", action, name, err)
	}

	change.Applied = true
	f.collection.client.record(change)
	f.collection.client.logger.Info().
		Str("collection", f.collection.name).
		Str("file", name).
		Str("action", string(action)).
		Msg("Config file written")
	return true, nil
}

// Ensure syncs every regular file of dir, symlinks included, in name order, requesting a reload
// for each write. It returns false in check mode as soon as one file differs;
// otherwise it returns true.
func (f *ConfigFiles) Ensure(ctx context.Context, dir string, mode engine.Mode) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, engine.NewConfigurationError(fmt.Sprintf("cannot read config directory %s", dir), err).
			WithResource(f.collection.name)
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		// Stat follows symlinks; mounted config maps link every file.
		info, err := os.Stat(path)
		if err != nil {
			return false, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return false, err
		}
		differs, err := f.Set(ctx, entry.Name(), contents, ContentTypeFor(entry.Name()), true, mode)
		if err != nil {
			return false, err
		}
		if differs && !mode.Writes() {
			return false, nil
		}
	}
	return true, nil
}
