package uuid

import (
	"errors"

	gonanoid "github.com/matoous/go-nanoid"
)

// Generator UUID generator interface
type Generator interface {
	Generate() (string, error)
}

// ErrInvalidLength generated id would be empty
var ErrInvalidLength = errors.New("id length must be positive")

// NanoIDGenerator UUID implementation using NanoID
type NanoIDGenerator struct {
	length   int
	alphabet string // empty means the nanoid default url-safe alphabet
}

var _ Generator = &NanoIDGenerator{}

// NanoIDOption generator option
type NanoIDOption func(g *NanoIDGenerator)

// WithAlphabet restrict generated ids to alphabet
func WithAlphabet(alphabet string) NanoIDOption {
	return func(g *NanoIDGenerator) {
		g.alphabet = alphabet
	}
}

// NewNanoIDGenerator create a new `NanoIDGenerator` instance
func NewNanoIDGenerator(length int, options ...NanoIDOption) (*NanoIDGenerator, error) {
	if length < 1 {
		return nil, ErrInvalidLength
	}
	g := &NanoIDGenerator{length: length}
	for _, option := range options {
		option(g)
	}
	return g, nil
}

// Generate generate UUID
func (ns *NanoIDGenerator) Generate() (string, error) {
	if ns.alphabet != "" {
		return gonanoid.Generate(ns.alphabet, ns.length)
	}
	return gonanoid.Nanoid(ns.length)
}
