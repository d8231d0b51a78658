package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/chatkeeper/internal/models"
)

// List prints every chat, pinned ones first in pin order, the rest by
// last update, newest first.
func (a *App) List(ctx context.Context) error {
	records, err := a.chats.LoadAll(ctx)
	if err != nil {
		a.log.Error(ctx, "loading chats", "error", err.Error())
		return err
	}
	if len(records) == 0 {
		printlnFn("No chats")
		return nil
	}

	ordered := make([]models.ChatRecord, 0, len(records))
	for _, rec := range records {
		ordered = append(ordered, rec)
	}
	sort.Slice(ordered, func(i, j int) bool {
		x, y := ordered[i], ordered[j]
		if x.Pinned != y.Pinned {
			return x.Pinned
		}
		if x.Pinned {
			return x.PinOrder < y.PinOrder
		}
		return x.UpdatedAt > y.UpdatedAt
	})

	for _, rec := range ordered {
		marker := " "
		switch {
		case rec.DecryptionFailed:
			marker = "!"
		case rec.Pinned:
			marker = "*"
		}
		printlnFn(fmt.Sprintf("%s %s  %s (%d messages)", marker, rec.ID, rec.Title, len(rec.Messages)))
	}
	return nil
}

// Show prints one chat's messages.
func (a *App) Show(ctx context.Context) error {
	id, err := GetSimpleText(a.reader, "Enter chat id to show", os.Stdout)
	if err != nil {
		a.log.Error(ctx, "reading chat id", "error", err.Error())
		return err
	}

	records, err := a.chats.LoadAll(ctx)
	if err != nil {
		a.log.Error(ctx, "loading chats", "error", err.Error())
		return err
	}
	rec, ok := records[id]
	if !ok {
		printlnFn("No such chat:", id)
		return nil
	}

	printlnFn(rec.Title)
	if rec.DecryptionFailed {
		printlnFn("(messages could not be decrypted)")
		return nil
	}
	for _, m := range rec.Messages {
		ts := time.UnixMilli(m.Timestamp).Format(time.RFC3339)
		printlnFn(fmt.Sprintf("[%s] %s: %s", ts, m.Role, m.Content))
	}
	return nil
}

// NewChat creates a chat with one user message and mirrors it.
func (a *App) NewChat(ctx context.Context) error {
	title, err := GetSimpleText(a.reader, "Enter chat title", os.Stdout)
	if err != nil {
		a.log.Error(ctx, "reading title", "error", err.Error())
		return err
	}
	content, err := GetMultiline(a.reader, "Enter the first message", os.Stdout)
	if err != nil {
		a.log.Error(ctx, "reading message", "error", err.Error())
		return err
	}

	now := time.Now().UnixMilli()
	rec := models.ChatRecord{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: content, Timestamp: now},
		},
	}

	if err := a.chats.SaveOne(ctx, rec); err != nil {
		a.log.Error(ctx, "saving chat", "error", err.Error())
		return err
	}
	a.mirror.WriteChat(rec)

	printlnFn("Created chat", rec.ID)
	return nil
}

func (a *App) setPinned(ctx context.Context, pinned bool) error {
	id, err := GetSimpleText(a.reader, "Enter chat id", os.Stdout)
	if err != nil {
		a.log.Error(ctx, "reading chat id", "error", err.Error())
		return err
	}

	records, err := a.chats.LoadAll(ctx)
	if err != nil {
		a.log.Error(ctx, "loading chats", "error", err.Error())
		return err
	}
	rec, ok := records[id]
	if !ok {
		printlnFn("No such chat:", id)
		return nil
	}

	if pinned {
		maxOrder := 0
		for _, r := range records {
			if r.Pinned && r.PinOrder > maxOrder {
				maxOrder = r.PinOrder
			}
		}
		rec.Pinned = true
		rec.PinOrder = maxOrder + 1
	} else {
		rec.Pinned = false
		rec.PinOrder = 0
	}
	rec.UpdatedAt = time.Now().UnixMilli()

	if err := a.chats.SaveOne(ctx, rec); err != nil {
		a.log.Error(ctx, "saving chat", "error", err.Error())
		return err
	}
	return nil
}

func (a *App) Pin(ctx context.Context) error   { return a.setPinned(ctx, true) }
func (a *App) Unpin(ctx context.Context) error { return a.setPinned(ctx, false) }

// Delete removes a chat from the primary store. Mirror files keep their
// lines; the mirror is append-only by design.
func (a *App) Delete(ctx context.Context) error {
	id, err := GetSimpleText(a.reader, "Enter chat id to delete", os.Stdout)
	if err != nil {
		a.log.Error(ctx, "reading chat id", "error", err.Error())
		return err
	}

	if err := a.chats.DeleteOne(ctx, id); err != nil {
		a.log.Error(ctx, "deleting chat", "id", id, "error", err.Error())
		printlnFn("Delete failed:", err.Error())
		return err
	}
	printlnFn("Deleted", id)
	return nil
}
