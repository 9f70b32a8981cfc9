// Package config loads the declarations that describe a server's desired
// state and the runtime settings of the CLI.
//
// # Declarations
//
// A declaration lists collections (with their creation parameters, schema
// elements and config-file directory) and query and index pipelines:
//
//	collections:
//	  products:
//	    collection:
//	      solrParams: {replicationFactor: 1, numShards: 1}
//	    schema:
//	      fieldTypes:
//	        - {name: text_en, class: solr.TextField}
//	      fields:
//	        - {name: title, type: text_en, stored: true}
//	    files: conf/products
//	queryPipelines:
//	  - id: products-default
//	    stages: [...]
//
// Loader reads JSON, YAML, TOML and CUE. Whatever the format, the document is
// normalized to plain JSON data, checked against the embedded JSON Schema
// (see DeclarationSchema), decoded into a Declaration and checked again with
// struct validation. Every failure is an engine configuration error wrapping
// ValidationErrors with file and path information.
//
// # Settings
//
// LoadSettings layers struct-tag defaults, an optional .env file and FUSION_*
// environment variables. The connection URL comes from
// FUSION_API_COLLECTION_URL.
package config
