// Package fusion reconciles a search platform's REST-configured resources
// against a declaration.
//
// A Client wraps a requester.Requester and exposes one reconciler per
// resource kind:
//
//   - Pipelines: query and index pipelines, keyed by id. System pipelines
//     are never compared.
//   - SchemaSet: fields and field types of a collection, keyed by name.
//   - ConfigFiles: solr-config files, compared byte for byte.
//   - Collection: existence, then config files, field types and fields.
//
// Client.EnsureConfig sequences them: it checks system health, sets the
// admin password when the system is uninitialized, converges every declared
// collection and then the pipelines.
//
// Every reconciler runs in engine.ModeWrite or engine.ModeCheck. Check mode
// never writes and stops at the first discrepancy. Reconciliation only adds
// and replaces; resources that are not declared are left alone.
//
//	c := fusion.New(req, fusion.WithLogger(logger))
//	outcome, err := c.EnsureConfig(ctx, decl, engine.ModeCheck)
//	if err == nil && outcome == engine.OutcomeAbsent {
//		outcome, err = c.EnsureConfig(ctx, decl, engine.ModeWrite)
//	}
package fusion
