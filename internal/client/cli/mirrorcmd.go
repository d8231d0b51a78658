package cli

import (
	"context"
	"fmt"
	"os"
)

// Sync mirrors every chat into the granted directory.
func (a *App) Sync(ctx context.Context) error {
	records, err := a.chats.LoadAll(ctx)
	if err != nil {
		a.log.Error(ctx, "loading chats", "error", err.Error())
		return err
	}

	n, err := a.mirror.SyncAll(ctx, records)
	if err != nil {
		a.log.Error(ctx, "mirror sync", "error", err.Error())
		printlnFn("Sync failed:", err.Error())
		return err
	}
	printlnFn(fmt.Sprintf("Synced %d messages from %d chats", n, len(records)))
	return nil
}

// ReloadMirror reconstructs chats from the mirror files and imports the
// ones the primary store does not hold. Existing chats always win.
func (a *App) ReloadMirror(ctx context.Context) error {
	mirrored, err := a.mirror.LoadFromMirror(ctx)
	if err != nil {
		a.log.Error(ctx, "loading mirror", "error", err.Error())
		printlnFn("Reload failed:", err.Error())
		return err
	}

	records, err := a.chats.LoadAll(ctx)
	if err != nil {
		a.log.Error(ctx, "loading chats", "error", err.Error())
		return err
	}

	imported := 0
	for id, rec := range mirrored {
		if _, exists := records[id]; exists {
			continue
		}
		if err := a.chats.SaveOne(ctx, rec); err != nil {
			a.log.Error(ctx, "importing mirrored chat", "id", id, "error", err.Error())
			return err
		}
		imported++
	}

	printlnFn(fmt.Sprintf("Reconstructed %d chats, imported %d new", len(mirrored), imported))
	return nil
}

// GrantDir binds the mirror to a directory.
func (a *App) GrantDir(ctx context.Context) error {
	path, err := GetSimpleText(a.reader, "Enter mirror directory path", os.Stdout)
	if err != nil {
		a.log.Error(ctx, "reading path", "error", err.Error())
		return err
	}

	if err := a.mirror.GrantDirectory(path); err != nil {
		printlnFn("Grant failed:", err.Error())
		return err
	}
	printlnFn("Mirror directory granted:", path)
	return nil
}

// Reconnect re-probes a previously granted mirror directory.
func (a *App) Reconnect(ctx context.Context) error {
	if err := a.mirror.Reconnect(); err != nil {
		printlnFn("Reconnect failed:", err.Error())
		return err
	}
	printlnFn("Mirror directory reconnected")
	return nil
}
