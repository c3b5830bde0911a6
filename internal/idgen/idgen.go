// Package idgen mints short, URL-safe identifiers for queued actions
// and diagnostics.
package idgen

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Lowercase alphanumerics only: the IDs show up in CLI output and logs
// and should be easy to read aloud.
const (
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	size     = 12
)

// New returns a fresh ID with the given prefix, e.g. New("act") ->
// "act-x7k9m2q04jfz".
func New(prefix string) string {
	id, err := gonanoid.Generate(alphabet, size)
	if err != nil {
		// Generate only fails when the system entropy source is
		// broken, which is not recoverable here.
		panic(err)
	}
	return prefix + "-" + id
}
