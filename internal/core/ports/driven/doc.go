// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - Normaliser / NormaliserRegistry: Parse raw corpus files into structured documents
//   - PostProcessor: Chunking pipeline stages
//   - DocumentStore: Document and chunk persistence (all versions)
//   - EmbeddingIndex: Chunk vectors and nearest-neighbour queries
//   - EmbeddingService: Question and chunk embeddings
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the pipeline degrades to deterministic behaviour:
//
//   - LLMService: Answer drafting. Without it, answers are extractive.
//   - ClaimExtractor: Splits drafted answers into claims. Without it, sentences are claims.
//   - EntailmentJudge: Confirms lexical grounding decisions.
//   - RelevancyJudge: Scores answer relevancy. Without it, embedding similarity is used.
//   - ReportStore: Evaluation run history.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or normaliser package
package driven
