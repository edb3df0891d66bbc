// Package migrations holds the schema for documents, chunks, embeddings,
// index metadata and evaluation runs.
package migrations

import "embed"

// FS holds the numbered migration files. The store applies the .up.sql
// files in order when it opens.
//
//go:embed *.sql
var FS embed.FS
