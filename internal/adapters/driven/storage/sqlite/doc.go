// Package sqlite provides a unified SQLite-based implementation of driven port interfaces.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. It implements three ports through a
// single database connection:
//
//   - DocumentStore: document versions and their chunks
//   - EmbeddingIndex: chunk vectors with exact cosine search
//   - ReportStore: evaluation runs
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files;
// applied versions are recorded in schema_migrations.
//
// # Data Location
//
// By default, the database is stored at ~/.covera/data/covera.db
//
// # Thread Safety
//
// All operations are safe for concurrent use. Index writes are serialized per
// document and run in one transaction; WAL mode gives each query a snapshot.
package sqlite
