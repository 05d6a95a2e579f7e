// Package diff provides the public types and interfaces for snapshot-based
// change detection between successive reads of a database table.
//
// The package defines the core data model (Row, Key, Digest, ChangeSet),
// the RowSource interface implemented by database adapters, and the error
// taxonomy shared by the detection strategies. These types are meant to be
// used by external applications that consume change sets or plug in their
// own row sources.
//
// Key Components:
//   - Row: a single fetched row as a column name to value mapping
//   - Key: the canonical primary-key value identifying a row across runs
//   - Digest: deterministic content hash of a row's selected columns
//   - ChangeSet: classified added/modified/deleted result of one run
//   - RowSource: interface for fetching rows from a source database
package diff
