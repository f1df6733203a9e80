// Package cli builds the actionqueue command tree: running the daemon,
// checking a config, reading the journal and steering a running daemon
// through its diagnostics endpoint.
package cli
