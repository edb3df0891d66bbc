// Package connectors provides implementations of the Connector interface
// for corpus locations. Each connector knows how to read raw documents
// from one kind of location and how to watch it for changes.
package connectors
