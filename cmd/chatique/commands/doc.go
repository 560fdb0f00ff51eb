// Package commands defines the chatique CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - listen       Run the session and print channels as keys arrive
//   - start-chat   Begin key agreement for a new 1:1 or group chat
//   - request-key  Ask other group members for the shared key
//   - key          Print a channel's key (current or explicit version)
//   - version      Print a channel's current key version
//   - logout       Wipe all key material
//
// # Implementation
//
// The root command builds the dependency graph (stores, engine,
// coordinator, controller) before any subcommand runs, so handlers share
// one session context.
package commands
