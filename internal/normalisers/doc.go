// Package normalisers provides implementations of the Normaliser interface
// for the corpus formats. Each normaliser turns one MIME type into an
// ordered sequence of structural nodes (headings, paragraphs, tables,
// clauses, list items).
//
// Normalisers are registered with the Registry at startup.
package normalisers
