// Package policy provides Open Policy Agent (OPA) guardrails for declarations.
//
// Before a declaration reaches the server it is evaluated against Rego
// policies. Each policy defines a "deny" set in its package; every entry is a
// violation, either a plain message or an object:
//
//	deny contains {"message": msg, "resource": id, "severity": "warning"} if { ... }
//
// Violations with severity "error" or "critical" block the operation; others
// are reported as warnings. Policies see this input:
//
//	{
//	  "declaration": { "collections": {...}, "queryPipelines": [...], "indexPipelines": [...] },
//	  "context": { "operation": "configure", "mode": "check", "source": "fusion.yaml" }
//	}
//
// # Built-in Policies
//
//   - reserved-pipelines: pipeline ids must not use system prefixes
//     ("system_" for query pipelines; "_aggr", "_signals_ingest" and
//     "_system" for index pipelines).
//   - unique-identities: pipeline ids and field or field-type names must be
//     unique within their list.
//   - collection-naming: collection names must be acceptable to the server.
//
// # Custom Policies
//
// Engine.LoadPolicies reads .rego files (named after the file, blocking by
// default) and .json policy definitions from files or directories. Both Rego
// v1 and legacy v0 syntax are accepted. Engine.DisablePolicy skips a policy
// by name, built-in ones included.
package policy
