// Package domain defines the core business entities for Covera.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: A versioned, structured source document
//   - Chunk: A retrieval unit aligned to document structure
//   - RetrievedPassage and Citation: Query-time evidence
//   - Answer: Claim segments with citations, or a fallback
//   - EvaluationRecord and Report: Scoring output
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
