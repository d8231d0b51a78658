// Package cli provides the interactive ChatKeeper command-line client.
//
// It wires configuration, the conversation store, the file mirror, and the
// credential store behind an interactive REPL. Typical flow: restore any
// persisted mirror handle, import a legacy settings token if present, and
// execute user commands until exit.
//
// Key features:
//   - Unlock / enable encryption with a passphrase shared by all stores
//   - List / Show / Pin / Unpin / Delete / New chats
//   - Sync chats to the mirror directory, reload chats from it
//   - Grant or reconnect the mirror directory
//   - Store a gateway token and inspect its rotation status
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli
