package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
)

func (a *App) statusLine() string {
	s := ""
	if a.chats.Fallback() {
		s = "fallback "
	}
	if a.needsUnlock() {
		s = s + "locked"
	} else if a.chats.Encrypted() {
		s = s + "unlocked"
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// Unlock derives the key for every store that has encryption enabled.
// One passphrase covers all three; each store verifies it against its
// own probe.
func (a *App) Unlock(ctx context.Context) error {
	if !a.needsUnlock() {
		printlnFn("Nothing to unlock")
		return nil
	}

	pw, err := GetPassword(os.Stdout)
	if err != nil {
		a.log.Error(ctx, "reading passphrase", "error", err.Error())
		return err
	}
	defer wipe(pw)

	ok := true
	if a.chats.NeedsUnlock() && !a.chats.Unlock(pw) {
		ok = false
	}
	if a.mirror.NeedsUnlock() && !a.mirror.Unlock(pw) {
		ok = false
	}
	if a.creds.NeedsUnlock() && !a.creds.Unlock(pw) {
		ok = false
	}

	if !ok {
		printlnFn("Wrong passphrase")
		return nil
	}
	printlnFn("Unlocked")
	return nil
}

// SetPassphrase enables encryption on all three stores and re-saves the
// chat collection so existing message lists get enveloped.
func (a *App) SetPassphrase(ctx context.Context) error {
	pw, err := GetPassword(os.Stdout)
	if err != nil {
		a.log.Error(ctx, "reading passphrase", "error", err.Error())
		return err
	}
	defer wipe(pw)
	if len(pw) == 0 {
		printlnFn("Empty passphrase, nothing changed")
		return nil
	}

	confirm, err := GetPassword(os.Stdout)
	if err != nil {
		a.log.Error(ctx, "reading passphrase", "error", err.Error())
		return err
	}
	defer wipe(confirm)
	if string(pw) != string(confirm) {
		printlnFn("Passphrases do not match")
		return nil
	}

	for _, enable := range []struct {
		name string
		fn   func([]byte) error
	}{
		{"chat", a.chats.EnableEncryption},
		{"mirror", a.mirror.EnableEncryption},
		{"credential", a.creds.EnableEncryption},
	} {
		if err := enable.fn(pw); err != nil {
			if errors.Is(err, common.ErrAuthentication) {
				printlnFn("Passphrase does not match the existing key; use unlock instead")
				return nil
			}
			a.log.Error(ctx, "enabling "+enable.name+" encryption", "error", err.Error())
			return err
		}
	}

	// re-save so records written before the switch get enveloped
	records, err := a.chats.LoadAll(ctx)
	if err != nil {
		a.log.Error(ctx, "loading chats", "error", err.Error())
		return err
	}
	if err := a.chats.SaveAll(ctx, records); err != nil {
		a.log.Error(ctx, "re-saving chats", "error", err.Error())
		return err
	}

	printlnFn("Encryption enabled")
	return nil
}

// Status prints the state of every store.
func (a *App) Status(ctx context.Context) error {
	backend := "sqlite"
	if a.chats.Fallback() {
		backend = "fallback (json blob)"
	}
	printlnFn("Chat backend:", backend)

	enc := "disabled"
	switch {
	case a.needsUnlock():
		enc = "enabled (locked)"
	case a.chats.Encrypted():
		enc = "enabled (unlocked)"
	}
	printlnFn("Encryption:", enc)

	printlnFn("Mirror:", string(a.mirror.State()), "pending:", a.mirror.PendingCount())

	tok, err := a.creds.Token(ctx)
	if err != nil || tok == "" {
		printlnFn("Gateway token: not set")
		return nil
	}
	status, err := a.creds.RotationStatus(ctx)
	if err != nil {
		printlnFn("Gateway token: set")
		return nil
	}
	printlnFn("Gateway token: set, rotation", string(status))
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
