// Package store defines the persistence contracts for the publication graph.
// Implementations live in subpackages; this package must not import database
// drivers or concrete clients.
package store
