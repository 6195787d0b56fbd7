// Package id abstracts run identifier generation.
package id

// Generator produces run IDs.
type Generator interface {
	NewID() (string, error)
}
