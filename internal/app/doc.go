// Package app wires the key-agreement subsystem for the CLI.
//
// It builds the concrete stores, crypto engine, group coordinator and
// session controller from Config, exposing them via the Wire struct.
package app
