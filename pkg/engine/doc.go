// Package engine provides the reconciliation core shared by every resource kind.
//
// # Overview
//
// Reconciliation compares a desired declaration against the state currently
// held by the server and issues the minimal corrective writes:
//
//  1. Fetch - read the live resources of one kind, once per pass
//  2. Compare - index live resources by identity and compare each desired one
//  3. Converge - add missing resources, replace differing ones
//
// Resources present on the server but absent from the declaration are never
// deleted. Every pass is stateless and safe to re-run.
//
// # Modes
//
// A pass runs in ModeWrite or ModeCheck. ModeCheck stops at the first
// discrepancy and performs no writes, so
//
//	res, err := engine.Ensure(ctx, spec, engine.ModeCheck)
//
// reports res.Configured == false exactly when the same call in ModeWrite
// would have written something.
//
// # Equality
//
// Descriptors are compared with Equal after normalizing both sides to plain
// JSON data. Objects are compared without regard to key order, arrays in order,
// so a pipeline whose stages were reordered is reported as changed.
//
// # Errors
//
// Transport failures surface as *TransportError; IsNotFound identifies 404
// responses, which existence checks treat as a negative answer. Logical
// failures are *EngineError values classified as configuration,
// inconsistent-write or unhealthy.
package engine
