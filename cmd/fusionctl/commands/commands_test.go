package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer serves just enough of the API for pipeline-only declarations.
type fakeServer struct {
	*httptest.Server

	mu        sync.Mutex
	pipelines string
	writes    []string
}

func newFakeServer(t *testing.T, pipelines string) *fakeServer {
	t.Helper()
	fs := &fakeServer{pipelines: pipelines}

	mux := http.NewServeMux()
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":{"solr":{"ping":true},"proxy":{"ping":true}},"initMeta":{"initializedAt":"now"}}`)
	})
	mux.HandleFunc("/api/apollo/query-pipelines", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		fmt.Fprint(w, fs.pipelines)
	})
	mux.HandleFunc("/api/apollo/index-pipelines", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/api/apollo/collections", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"mycollection"}]`)
	})
	mux.HandleFunc("/api/apollo/collections/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			fs.record(r)
			if strings.HasSuffix(r.URL.Path, "/gone") {
				http.NotFound(w, r)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/apollo/query-pipelines/", func(w http.ResponseWriter, r *http.Request) {
		fs.record(r)
		fmt.Fprint(w, `{}`)
	})

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) record(r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.writes = append(fs.writes, r.Method+" "+r.URL.Path)
}

func (fs *fakeServer) Writes() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.writes...)
}

func (fs *fakeServer) connectionURL() string {
	return "http://admin:topSecret5@" + strings.TrimPrefix(fs.URL, "http://") + "/api/apollo/collections/mycollection"
}

// run executes the CLI and returns stdout and the exit code.
func run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand("test", "none", "today")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env"), "--log-level", "error"}, args...))

	err := root.ExecuteContext(context.Background())
	var ee *exitError
	if errors.As(err, &ee) {
		out.WriteString(ee.msg)
	}
	return out.String(), ExitCode(err)
}

func writeDeclaration(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fusion.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const pipelineDecl = `{"queryPipelines": [{"id": "products-default", "stages": [{"type": "solr-query"}]}]}`

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitError, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitUsage, ExitCode(usageError("bad")))
	assert.Equal(t, ExitDiffers, ExitCode(fmt.Errorf("wrapped: %w", &exitError{code: ExitDiffers})))
}

func TestConfigure_Matches(t *testing.T) {
	srv := newFakeServer(t, `[{"id":"products-default","stages":[{"type":"solr-query"}]}]`)

	out, code := run(t, "--url", srv.connectionURL(), "configure", writeDeclaration(t, pipelineDecl))
	assert.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, msgMatches)
	assert.Empty(t, srv.Writes())
}

func TestConfigure_DiffersWithoutOverwrite(t *testing.T) {
	srv := newFakeServer(t, `[{"id":"products-default","stages":[]}]`)

	out, code := run(t, "--url", srv.connectionURL(), "configure", writeDeclaration(t, pipelineDecl))
	assert.Equal(t, ExitDiffers, code, out)
	assert.Contains(t, out, msgDiffers)
	assert.Empty(t, srv.Writes())
}

func TestConfigure_Overwrite(t *testing.T) {
	srv := newFakeServer(t, `[{"id":"products-default","stages":[]}]`)

	out, code := run(t, "--url", srv.connectionURL(), "configure", "--overwrite", writeDeclaration(t, pipelineDecl))
	assert.Equal(t, ExitOK, code, out)
	assert.Equal(t, []string{
		"PUT /api/apollo/query-pipelines/products-default",
		"PUT /api/apollo/query-pipelines/products-default/refresh",
	}, srv.Writes())
}

func TestConfigure_DryRunNeverWrites(t *testing.T) {
	srv := newFakeServer(t, `[{"id":"products-default","stages":[]}]`)

	_, code := run(t, "--url", srv.connectionURL(), "configure", "--overwrite", "--dry-run", writeDeclaration(t, pipelineDecl))
	assert.Equal(t, ExitDiffers, code)
	assert.Empty(t, srv.Writes())
}

func TestConfigure_PolicyDenied(t *testing.T) {
	srv := newFakeServer(t, `[]`)

	out, code := run(t, "--url", srv.connectionURL(), "configure",
		writeDeclaration(t, `{"queryPipelines": [{"id": "system_metrics"}]}`))
	assert.Equal(t, ExitError, code, out)
	assert.Empty(t, srv.Writes())
}

func TestConfigure_UsageErrors(t *testing.T) {
	_, code := run(t, "configure")
	assert.Equal(t, ExitUsage, code)

	_, code = run(t, "configure", "--no-such-flag", "x.json")
	assert.Equal(t, ExitUsage, code)
}

func TestConfigure_RecordsHistory(t *testing.T) {
	srv := newFakeServer(t, `[{"id":"products-default","stages":[]}]`)
	db := filepath.Join(t.TempDir(), "history.db")

	_, code := run(t, "--url", srv.connectionURL(), "--history-db", db, "configure", "--overwrite", writeDeclaration(t, pipelineDecl))
	require.Equal(t, ExitOK, code)

	out, code := run(t, "--history-db", db, "--json", "history")
	require.Equal(t, ExitOK, code, out)

	var runs []struct {
		ID      string
		Mode    string
		Outcome string
	}
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "write", runs[0].Mode)
	assert.Equal(t, "ready", runs[0].Outcome)

	out, code = run(t, "--history-db", db, "history", runs[0].ID)
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "replace")
	assert.Contains(t, out, "products-default")
}

func TestHistory_RequiresDatabase(t *testing.T) {
	_, code := run(t, "history")
	assert.Equal(t, ExitUsage, code)
}

func TestDelete(t *testing.T) {
	srv := newFakeServer(t, `[]`)

	_, code := run(t, "--url", srv.connectionURL(), "delete", "a", "b")
	assert.Equal(t, ExitUsage, code)

	out, code := run(t, "--url", srv.connectionURL(), "delete")
	assert.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "mycollection")

	out, code = run(t, "--url", srv.connectionURL(), "delete", "gone")
	assert.Equal(t, ExitOK, code, out)

	assert.Equal(t, []string{
		"DELETE /api/apollo/collections/mycollection",
		"DELETE /api/apollo/collections/gone",
	}, srv.Writes())
}

func TestDelete_NoCollectionInURL(t *testing.T) {
	srv := newFakeServer(t, `[]`)
	rootURL := strings.TrimSuffix(srv.connectionURL(), "/collections/mycollection")

	out, code := run(t, "--url", rootURL, "delete")
	assert.Equal(t, ExitError, code, out)
	assert.Empty(t, srv.Writes())
}

func TestDir(t *testing.T) {
	srv := newFakeServer(t, `[{"id":"products-default"},{"id":"system_metrics"}]`)

	out, code := run(t, "--url", srv.connectionURL(), "dir")
	require.Equal(t, ExitOK, code, out)

	var dir struct {
		Collections    []string `json:"collections"`
		QueryPipelines []string `json:"queryPipelines"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &dir))
	assert.Equal(t, []string{"mycollection"}, dir.Collections)
	assert.Equal(t, []string{"products-default", "system_metrics"}, dir.QueryPipelines)
}

func TestStatus(t *testing.T) {
	srv := newFakeServer(t, `[]`)

	out, code := run(t, "--url", srv.connectionURL(), "status")
	assert.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "initialized: true")
	assert.Contains(t, out, "solr")
}

func TestValidate(t *testing.T) {
	out, code := run(t, "validate", writeDeclaration(t, pipelineDecl))
	assert.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "1 query pipeline(s)")

	_, code = run(t, "validate", writeDeclaration(t, `{"queryPipelines": [{"id": "p"}, {"id": "p"}]}`))
	assert.Equal(t, ExitError, code)
}

func TestValidate_Policies(t *testing.T) {
	duplicates := writeDeclaration(t, `{"queryPipelines": [{"id": "p"}, {"id": "p"}]}`)

	out, code := run(t, "validate", writeDeclaration(t, pipelineDecl))
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "policy reserved-pipelines: checked")
	assert.Contains(t, out, "policy unique-identities: checked")

	out, code = run(t, "--disable-policy", "unique-identities", "validate", duplicates)
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "policy unique-identities: disabled")

	_, code = run(t, "--disable-policy", "no-such-policy", "validate", duplicates)
	assert.Equal(t, ExitError, code)
}

func TestValidate_PolicyDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "no-index.rego"), []byte(`package custom.noindex

import rego.v1

deny contains "index pipelines are managed elsewhere" if {
	count(input.declaration.indexPipelines) > 0
}
`), 0o644))

	out, code := run(t, "--policy-dir", dir, "validate", writeDeclaration(t, `{"indexPipelines": [{"id": "i"}]}`))
	assert.Equal(t, ExitError, code, out)

	out, code = run(t, "--policy-dir", dir, "validate", writeDeclaration(t, pipelineDecl))
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "policy no-index: checked")
}

func TestPolicyDirs(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "team", "search")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.rego"), []byte("package a\n"), 0o644))

	dirs, err := policyDirs(root)
	require.NoError(t, err)
	assert.Equal(t, []string{root, filepath.Join(root, "team"), nested}, dirs)

	_, err = policyDirs(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, code := run(t, "version")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "fusionctl test")
}
