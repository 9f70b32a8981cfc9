// Package stores keeps a local history of configure runs in SQLite. Each run
// records the declaration it applied, the mode, its outcome and every change
// the reconcilers reported, in order.
package stores
