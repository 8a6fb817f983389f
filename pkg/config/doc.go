// Package config assembles the immutable run configuration.
//
// Layering order: built-in defaults, then the CUE document, then environment
// variable overrides, then tokens emitted by an optional Starlark profile
// script. The resulting Config is validated (struct constraints plus network
// range overlap) and never mutated afterwards; every component receives the
// same value by reference.
package config
