// Package html provides a Normaliser implementation for HTML documents.
// It walks headings, paragraphs, list items and tables in document order
// and turns them into structural nodes, dropping scripts, styles and
// page chrome.
package html
