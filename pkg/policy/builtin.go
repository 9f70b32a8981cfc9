package policy

// BuiltinPolicies returns the guardrails every declaration is checked against.
func BuiltinPolicies() []Policy {
	return []Policy{
		reservedPipelinesPolicy(),
		uniqueIdentitiesPolicy(),
		collectionNamingPolicy(),
	}
}

// reservedPipelinesPolicy rejects declared pipelines that reuse the id
// prefixes of server-managed pipelines. Those are filtered out of the live
// state, so declaring one would add it again on every run.
func reservedPipelinesPolicy() Policy {
	return Policy{
		Name:        "reserved-pipelines",
		Description: "Pipelines must not use the id prefixes reserved for system pipelines",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package fusionctl.policies.reserved

import rego.v1

query_prefixes := ["system_"]

index_prefixes := ["_aggr", "_signals_ingest", "_system"]

deny contains violation if {
	some p in input.declaration.queryPipelines
	some prefix in query_prefixes
	startswith(p.id, prefix)
	violation := {
		"message": sprintf("query pipeline '%s' uses the reserved prefix '%s'", [p.id, prefix]),
		"resource": p.id,
	}
}

deny contains violation if {
	some p in input.declaration.indexPipelines
	some prefix in index_prefixes
	startswith(p.id, prefix)
	violation := {
		"message": sprintf("index pipeline '%s' uses the reserved prefix '%s'", [p.id, prefix]),
		"resource": p.id,
	}
}
`,
	}
}

// uniqueIdentitiesPolicy rejects duplicate identities within one resource
// collection; the later declaration would silently win.
func uniqueIdentitiesPolicy() Policy {
	return Policy{
		Name:        "unique-identities",
		Description: "Pipeline ids and schema element names must be unique",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package fusionctl.policies.unique

import rego.v1

pipeline_kinds := {"queryPipelines": "query pipeline", "indexPipelines": "index pipeline"}

deny contains violation if {
	some key, label in pipeline_kinds
	ids := [p.id | some p in input.declaration[key]]
	some id in ids
	count([x | some x in ids; x == id]) > 1
	violation := {
		"message": sprintf("%s '%s' is declared more than once", [label, id]),
		"resource": id,
	}
}

deny contains violation if {
	some name, collection in input.declaration.collections
	some kind in ["fields", "fieldTypes"]
	names := [e.name | some e in collection.schema[kind]]
	some n in names
	count([x | some x in names; x == n]) > 1
	violation := {
		"message": sprintf("%s entry '%s' of collection '%s' is declared more than once", [kind, n, name]),
		"resource": name,
	}
}
`,
	}
}

// collectionNamingPolicy enforces the names the search server accepts.
func collectionNamingPolicy() Policy {
	return Policy{
		Name:        "collection-naming",
		Description: "Collection names use letters, digits, periods, hyphens and underscores and do not start with a hyphen",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package fusionctl.policies.naming

import rego.v1

deny contains violation if {
	some name, _ in input.declaration.collections
	not regex.match("^[A-Za-z0-9_.][A-Za-z0-9_.-]*$", name)
	violation := {
		"message": sprintf("collection name '%s' contains characters the server rejects", [name]),
		"resource": name,
	}
}

deny contains violation if {
	some name, _ in input.declaration.collections
	count(name) > 100
	violation := {
		"message": sprintf("collection name '%s' is longer than 100 characters", [name]),
		"resource": name,
		"severity": "warning",
	}
}
`,
	}
}
