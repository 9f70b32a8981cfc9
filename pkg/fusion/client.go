package fusion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fusionctl/fusionctl/pkg/config"
	"github.com/fusionctl/fusionctl/pkg/engine"
	"github.com/fusionctl/fusionctl/pkg/requester"
	"github.com/fusionctl/fusionctl/pkg/telemetry"
)

// DefaultCollectionAlias selects the connection's default collection.
const DefaultCollectionAlias = "__default"

// ChangeRecorder receives every change detected or applied by reconciliation.
// Implementations must be safe for concurrent use.
type ChangeRecorder interface {
	RecordChange(change engine.Change)
}

// Client manages one search platform instance through a Requester.
type Client struct {
	req           requester.Requester
	logger        zerolog.Logger
	metrics       *telemetry.Metrics
	tracer        *telemetry.Tracer
	recorder      ChangeRecorder
	concurrency   int
	adminPassword string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records change and run metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer traces reconciliation steps.
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithRecorder forwards every change to r.
func WithRecorder(r ChangeRecorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithConcurrency reconciles up to n collections at once. Values below 2
// keep reconciliation sequential.
func WithConcurrency(n int) Option {
	return func(c *Client) { c.concurrency = n }
}

// WithAdminPassword sets the password used to initialize the system,
// overriding the one derived from the connection.
func WithAdminPassword(password string) Option {
	return func(c *Client) { c.adminPassword = password }
}

// New creates a client.
func New(req requester.Requester, opts ...Option) *Client {
	c := &Client{
		req:         req,
		logger:      zerolog.Nop(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "fusion").Logger()
	return c
}

// Status is the interpreted system status.
type Status struct {
	// Initialized is true once the admin password has been set.
	Initialized bool `json:"initialized"`

	// Services maps each subsystem to its ping result.
	Services map[string]bool `json:"services"`

	// Unhealthy lists the subsystems whose ping failed, sorted.
	Unhealthy []string `json:"unhealthy,omitempty"`
}

// Status fetches and interprets the system status without failing on
// unhealthy subsystems.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	resp, err := c.req.Do(ctx, &requester.Request{Method: http.MethodGet, Path: "/api"})
	if err != nil {
		var te *engine.TransportError
		if errors.As(err, &te) && te.Status > http.StatusOK {
			cp := *te
			cp.Message = "Fusion is not responding to status checks"
			return nil, &cp
		}
		return nil, err
	}

	var body struct {
		Status   map[string]map[string]interface{} `json:"status"`
		InitMeta interface{}                       `json:"initMeta"`
	}
	if err := resp.JSON(&body); err != nil {
		return nil, engine.NewConfigurationError("unreadable status response", err).WithCode(engine.ErrCodeBadResponse)
	}

	st := &Status{
		Initialized: body.InitMeta != nil,
		Services:    make(map[string]bool, len(body.Status)),
	}
	for name, stats := range body.Status {
		ping, ok := stats["ping"].(bool)
		if !ok {
			continue
		}
		st.Services[name] = ping
		if !ping {
			st.Unhealthy = append(st.Unhealthy, name)
		}
	}
	sort.Strings(st.Unhealthy)
	return st, nil
}

// Ping reports whether the system is initialized. It fails when the server
// does not answer or when any subsystem reports an unsuccessful ping.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	if len(st.Unhealthy) > 0 {
		return false, engine.NewUnhealthyError(st.Unhealthy)
	}
	return st.Initialized, nil
}

// SetAdminPassword initializes the system. An empty password falls back to
// WithAdminPassword, then to the password of an "admin" connection URL.
func (c *Client) SetAdminPassword(ctx context.Context, password string) error {
	if password == "" {
		password = c.adminPassword
	}
	if password == "" {
		if creds, ok := c.req.(requester.Credentials); ok {
			password = creds.AdminPassword()
		}
	}
	if password == "" {
		return engine.NewConfigurationError("No admin password supplied", nil).WithCode(engine.ErrCodeNoAdminPassword)
	}

	resp, err := c.req.Do(ctx, &requester.Request{
		Method: http.MethodPost,
		Path:   "/api",
		Body:   map[string]string{"password": password},
	})
	if err != nil {
		return err
	}
	if resp.Status != http.StatusCreated {
		return &engine.TransportError{
			Method:  http.MethodPost,
			URL:     resp.URL,
			Status:  resp.Status,
			Body:    resp.Body,
			Message: "setting the admin password did not create it",
		}
	}
	c.logger.Info().Msg("Admin password set")
	return nil
}

// Collection returns a handle on the named collection. An empty name or
// DefaultCollectionAlias selects the connection's default collection.
func (c *Client) Collection(name string) *Collection {
	if name == "" || name == DefaultCollectionAlias {
		if creds, ok := c.req.(requester.Credentials); ok {
			name = creds.DefaultCollection()
		}
	}
	return &Collection{client: c, name: name}
}

// Collections returns the names of every collection on the server.
func (c *Client) Collections(ctx context.Context) ([]string, error) {
	resp, err := c.req.Do(ctx, &requester.Request{Method: http.MethodGet, Path: "collections"})
	if err != nil {
		return nil, err
	}
	list, err := resp.Descriptors()
	if err != nil {
		return nil, err
	}
	return identities(list, "id"), nil
}

// QueryPipelines returns the query pipeline reconciler.
func (c *Client) QueryPipelines() *Pipelines {
	return &Pipelines{client: c, kind: QueryPipeline}
}

// IndexPipelines returns the index pipeline reconciler.
func (c *Client) IndexPipelines() *Pipelines {
	return &Pipelines{client: c, kind: IndexPipeline}
}

// Directory lists the discoverable identities on the server.
type Directory struct {
	Collections    []string `json:"collections"`
	QueryPipelines []string `json:"queryPipelines"`
	IndexPipelines []string `json:"indexPipelines"`
}

// Dir lists collections and all pipelines, system pipelines included.
func (c *Client) Dir(ctx context.Context) (*Directory, error) {
	collections, err := c.Collections(ctx)
	if err != nil {
		return nil, err
	}
	query, err := c.QueryPipelines().List(ctx, true)
	if err != nil {
		return nil, err
	}
	index, err := c.IndexPipelines().List(ctx, true)
	if err != nil {
		return nil, err
	}
	return &Directory{
		Collections:    collections,
		QueryPipelines: identities(query, "id"),
		IndexPipelines: identities(index, "id"),
	}, nil
}

// notReady aborts a concurrent collection pass on the first check-mode
// discrepancy.
type notReady struct {
	collection string
	outcome    engine.Outcome
}

func (e *notReady) Error() string {
	return fmt.Sprintf("collection %s is %s", e.collection, e.outcome)
}

// EnsureConfig converges the server to decl.
//
// In write mode it initializes the system if needed, then creates missing
// collections and adds or replaces schema elements, config files and
// pipelines; it returns OutcomeReady or an error. In check mode nothing is
// written: the first non-ready finding is returned as OutcomeAbsent (system
// uninitialized or a collection missing) or OutcomeDiffers.
func (c *Client) EnsureConfig(ctx context.Context, decl *config.Declaration, mode engine.Mode) (outcome engine.Outcome, err error) {
	ctx, span := c.tracer.StartSpan(ctx, "fusion.ensure_config", telemetry.AttrRunMode.String(mode.String()))
	timer := telemetry.NewTimer()
	defer func() {
		telemetry.End(span, err)
		label := outcome.String()
		if err != nil {
			label = "error"
			var ee *engine.EngineError
			if errors.As(err, &ee) {
				c.metrics.RecordError(string(ee.Class))
			} else {
				c.metrics.RecordError("transport")
			}
		}
		c.metrics.RecordRun(mode.String(), label, timer.Duration())
	}()
	ctx = c.logger.WithContext(ctx)

	initialized, err := c.Ping(ctx)
	if err != nil {
		return engine.OutcomeAbsent, err
	}
	if !initialized {
		if !mode.Writes() {
			c.logger.Info().Msg("System is not initialized")
			return engine.OutcomeAbsent, nil
		}
		if err := c.SetAdminPassword(ctx, ""); err != nil {
			return engine.OutcomeAbsent, err
		}
		initialized, err = c.Ping(ctx)
		if err != nil {
			return engine.OutcomeAbsent, err
		}
		if !initialized {
			return engine.OutcomeAbsent, engine.NewConfigurationError("Configure the admin password", nil).
				WithCode(engine.ErrCodeUninitialized)
		}
	}

	if decl == nil {
		return engine.OutcomeReady, nil
	}

	if outcome, err := c.ensureCollections(ctx, decl, mode); err != nil || !outcome.Ready() {
		return outcome, err
	}

	if decl.QueryPipelines != nil {
		ok, err := c.QueryPipelines().EnsureConfig(ctx, decl.QueryPipelines, mode)
		if err != nil {
			return engine.OutcomeDiffers, err
		}
		if !ok && !mode.Writes() {
			return engine.OutcomeDiffers, nil
		}
	}

	if decl.IndexPipelines != nil {
		ok, err := c.IndexPipelines().EnsureConfig(ctx, decl.IndexPipelines, mode)
		if err != nil {
			return engine.OutcomeDiffers, err
		}
		if !ok && !mode.Writes() {
			return engine.OutcomeDiffers, nil
		}
	}

	return engine.OutcomeReady, nil
}

// ensureCollections runs the collection orchestrator for every declared
// collection in name order, on a bounded pool when concurrency allows.
func (c *Client) ensureCollections(ctx context.Context, decl *config.Declaration, mode engine.Mode) (engine.Outcome, error) {
	names := decl.CollectionNames()

	if c.concurrency < 2 || len(names) < 2 {
		for _, name := range names {
			outcome, err := c.Collection(name).Ensure(ctx, decl.Collections[name], mode)
			if err != nil || !outcome.Ready() {
				return outcome, err
			}
		}
		return engine.OutcomeReady, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, name := range names {
		cfg := decl.Collections[name]
		coll := c.Collection(name)
		g.Go(func() error {
			outcome, err := coll.Ensure(gctx, cfg, mode)
			if err != nil {
				return err
			}
			if !outcome.Ready() {
				return &notReady{collection: coll.Name(), outcome: outcome}
			}
			return nil
		})
	}

	err := g.Wait()
	var nr *notReady
	if errors.As(err, &nr) {
		return nr.outcome, nil
	}
	if err != nil {
		return engine.OutcomeDiffers, err
	}
	return engine.OutcomeReady, nil
}

// ensure runs one reconciliation pass and reports its changes.
func (c *Client) ensure(ctx context.Context, spec engine.EnsureSpec, mode engine.Mode) (bool, error) {
	ctx, span := c.tracer.StartReconcileSpan(ctx, spec.Kind, spec.Scope)
	res, err := engine.Ensure(ctx, spec, mode)
	if res != nil {
		for _, change := range res.Changes {
			c.record(change)
		}
	}
	telemetry.End(span, err)
	if err != nil {
		return false, err
	}
	return res.Configured, nil
}

func (c *Client) record(change engine.Change) {
	c.metrics.RecordChange(change.Kind, string(change.Action), change.Applied)
	if c.recorder != nil {
		c.recorder.RecordChange(change)
	}
}

// do sends a request.
func (c *Client) do(ctx context.Context, req *requester.Request) (*requester.Response, error) {
	return c.req.Do(ctx, req)
}

// identities extracts attr from every descriptor, in order.
func identities(list []engine.Descriptor, attr string) []string {
	out := make([]string, 0, len(list))
	for _, d := range list {
		if id := d.String(attr); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// escape escapes one path segment.
func escape(segment string) string {
	return url.PathEscape(segment)
}
