package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	needsUnlock() bool
	Unlock(ctx context.Context) error
	SetPassphrase(ctx context.Context) error
	Status(ctx context.Context) error
	List(ctx context.Context) error
	Show(ctx context.Context) error
	NewChat(ctx context.Context) error
	Pin(ctx context.Context) error
	Unpin(ctx context.Context) error
	Delete(ctx context.Context) error
	Sync(ctx context.Context) error
	ReloadMirror(ctx context.Context) error
	GrantDir(ctx context.Context) error
	Reconnect(ctx context.Context) error
	TokenStatus(ctx context.Context) error
	SetToken(ctx context.Context) error
}

// runREPL starts a simple read–eval–print loop for the ChatKeeper CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	Locked (encrypted stores present, no key yet):
//	  - help           — show available commands
//	  - unlock         — derive the key from a passphrase
//	  - status         — show store and mirror state
//	  - exit | quit    — leave the program
//
//	Unlocked (or encryption never enabled):
//	  - help           — show available commands
//	  - (l)ist         — list chats, pinned first
//	  - show           — print one chat (interactive ID prompt)
//	  - new            — create a chat
//	  - pin | unpin    — toggle pin state
//	  - delete         — delete a chat
//	  - sync           — mirror every chat to the granted directory
//	  - reload-mirror  — import chats reconstructed from mirror files
//	  - grantdir       — grant a mirror directory
//	  - reconnect      — re-probe a parked mirror directory
//	  - token          — show gateway token status
//	  - settoken       — store a gateway token
//	  - setpass        — enable encryption
//	  - status         — show store and mirror state
//	  - exit | quit    — leave the program
//
// Any errors returned by command handlers are ignored here; handlers should
// log their own errors. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("ck> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		switch cmd {
		case "help":
			if a.needsUnlock() {
				printlnFn("Available commands: unlock, status, exit")
			} else {
				printlnFn("Available commands: (l)ist, show, new, pin, unpin, delete, sync, reload-mirror, grantdir, reconnect, token, settoken, setpass, status, exit")
			}

		case "unlock":
			_ = a.Unlock(ctx)

		case "setpass":
			_ = a.SetPassphrase(ctx)

		case "status":
			_ = a.Status(ctx)

		case "l", "list":
			_ = a.List(ctx)

		case "show":
			_ = a.Show(ctx)

		case "new":
			_ = a.NewChat(ctx)

		case "pin":
			_ = a.Pin(ctx)

		case "unpin":
			_ = a.Unpin(ctx)

		case "delete":
			_ = a.Delete(ctx)

		case "sync":
			_ = a.Sync(ctx)

		case "reload-mirror":
			_ = a.ReloadMirror(ctx)

		case "grantdir":
			_ = a.GrantDir(ctx)

		case "reconnect":
			_ = a.Reconnect(ctx)

		case "token":
			_ = a.TokenStatus(ctx)

		case "settoken":
			_ = a.SetToken(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
