package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/credstore"
)

// TokenStatus prints the gateway token's age, rotation advice and, when
// the token is a JWT, its embedded timestamps.
func (a *App) TokenStatus(ctx context.Context) error {
	tok, err := a.creds.Token(ctx)
	if err != nil {
		a.log.Error(ctx, "reading token", "error", err.Error())
		printlnFn("Token unavailable:", err.Error())
		return err
	}
	if tok == "" {
		printlnFn("No gateway token stored")
		return nil
	}

	addr, _ := a.creds.GatewayAddr(ctx)
	label, _ := a.creds.SessionLabel(ctx)
	printlnFn("Gateway:", addr, "session:", label)

	days, err := a.creds.TokenAgeDays(ctx)
	if err == nil {
		status, serr := a.creds.RotationStatus(ctx)
		if serr == nil {
			printlnFn(fmt.Sprintf("Token age: %d days, rotation: %s", days, status))
		}
	}

	if info, err := credstore.TokenClaims(tok); err == nil {
		if info.IssuedAt != nil {
			printlnFn("Issued:", info.IssuedAt.Format(time.RFC3339))
		}
		if info.ExpiresAt != nil {
			printlnFn("Expires:", info.ExpiresAt.Format(time.RFC3339))
		}
	}
	return nil
}

// SetToken stores a gateway token together with its connection
// settings, flagging reuse of a previously stored token.
func (a *App) SetToken(ctx context.Context) error {
	token, err := GetSimpleText(a.reader, "Enter gateway token", os.Stdout)
	if err != nil {
		a.log.Error(ctx, "reading token", "error", err.Error())
		return err
	}
	if token == "" {
		printlnFn("Empty token, nothing stored")
		return nil
	}

	addr, err := GetSimpleText(a.reader, "Enter gateway address (empty for default)", os.Stdout)
	if err != nil {
		return err
	}
	label, err := GetSimpleText(a.reader, "Enter session label (empty for default)", os.Stdout)
	if err != nil {
		return err
	}

	if err := a.creds.StoreToken(ctx, token, addr, label); err != nil {
		a.log.Error(ctx, "storing token", "error", err.Error())
		printlnFn("Store failed:", err.Error())
		return err
	}

	reused, err := a.creds.IsTokenReused(ctx, token)
	if err == nil && reused {
		printlnFn("Warning: this token was stored before, consider requesting a fresh one")
	}
	printlnFn("Token stored")
	return nil
}
