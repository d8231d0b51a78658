package credstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
)

// RotationStatus is the age-based advice for the stored token.
type RotationStatus string

const (
	RotationOK          RotationStatus = "ok"
	RotationWarning     RotationStatus = "warning"
	RotationRecommended RotationStatus = "recommended"
)

type tokenHistoryEntry struct {
	Hash      string `json:"hash"`
	CreatedAt int64  `json:"createdAt"`
}

// hashToken produces the fingerprint kept in the history: SHA-256 over
// the token with a fixed suffix salt, hex encoded. The token itself is
// never written to the history.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token + common.TokenHashSuffix))
	return hex.EncodeToString(sum[:])
}

// StoreToken saves the auth token (sensitive) along with its connection
// settings (cleartext) and appends the token's fingerprint to the
// rotation history.
func (s *Store) StoreToken(ctx context.Context, token, gatewayAddr, sessionLabel string) error {
	if err := s.Set(ctx, keyAuthToken, token, true); err != nil {
		return err
	}
	if gatewayAddr == "" {
		gatewayAddr = defaultGatewayAddr
	}
	if sessionLabel == "" {
		sessionLabel = defaultSessionLabel
	}
	if err := s.Set(ctx, keyGatewayAddr, gatewayAddr, false); err != nil {
		return err
	}
	if err := s.Set(ctx, keySessionLabel, sessionLabel, false); err != nil {
		return err
	}
	createdAt := s.now().UnixMilli()
	if err := s.Set(ctx, keyTokenCreatedAt, strconv.FormatInt(createdAt, 10), false); err != nil {
		return err
	}
	return s.appendTokenHistory(ctx, token, createdAt)
}

// Token returns the stored auth token, or an empty string when none is set.
func (s *Store) Token(ctx context.Context) (string, error) {
	return s.Get(ctx, keyAuthToken)
}

// GatewayAddr returns the configured gateway address or its default.
func (s *Store) GatewayAddr(ctx context.Context) (string, error) {
	v, err := s.Get(ctx, keyGatewayAddr)
	if err != nil {
		return "", err
	}
	if v == "" {
		v = defaultGatewayAddr
	}
	return v, nil
}

// SessionLabel returns the configured session label or its default.
func (s *Store) SessionLabel(ctx context.Context) (string, error) {
	v, err := s.Get(ctx, keySessionLabel)
	if err != nil {
		return "", err
	}
	if v == "" {
		v = defaultSessionLabel
	}
	return v, nil
}

func (s *Store) tokenHistory(ctx context.Context) ([]tokenHistoryEntry, error) {
	raw, err := s.Get(ctx, keyTokenHistory)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var entries []tokenHistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("parsing token history: %w", err)
	}
	return entries, nil
}

func (s *Store) appendTokenHistory(ctx context.Context, token string, createdAt int64) error {
	entries, err := s.tokenHistory(ctx)
	if err != nil {
		return err
	}

	hash := hashToken(token)
	for _, e := range entries {
		if e.Hash == hash {
			s.log.Warn(ctx, "token was used before, consider requesting a fresh one")
			break
		}
	}

	entries = append(entries, tokenHistoryEntry{Hash: hash, CreatedAt: createdAt})
	if len(entries) > common.TokenHistoryLimit {
		entries = entries[len(entries)-common.TokenHistoryLimit:]
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding token history: %w", err)
	}
	return s.Set(ctx, keyTokenHistory, string(raw), false)
}

// IsTokenReused reports whether the fingerprint of token appears more
// than once in the history, i.e. a token that was stored before has
// been stored again.
func (s *Store) IsTokenReused(ctx context.Context, token string) (bool, error) {
	entries, err := s.tokenHistory(ctx)
	if err != nil {
		return false, err
	}
	hash := hashToken(token)
	matches := 0
	for _, e := range entries {
		if e.Hash == hash {
			matches++
		}
	}
	return matches > 1, nil
}

// TokenAgeDays returns whole days since the current token was stored.
// A store without a token fails with common.ErrNotFound.
func (s *Store) TokenAgeDays(ctx context.Context) (int, error) {
	raw, err := s.Get(ctx, keyTokenCreatedAt)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, fmt.Errorf("token creation time: %w", common.ErrNotFound)
	}
	createdAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing token creation time: %w", err)
	}
	age := s.now().UnixMilli() - createdAt
	if age < 0 {
		age = 0
	}
	return int(age / (24 * time.Hour).Milliseconds()), nil
}

// RotationStatus maps the token's age onto the configured warning and
// recommendation thresholds.
func (s *Store) RotationStatus(ctx context.Context) (RotationStatus, error) {
	days, err := s.TokenAgeDays(ctx)
	if err != nil {
		return "", err
	}
	switch {
	case days >= s.cfg.RotationRecommendDays:
		return RotationRecommended, nil
	case days >= s.cfg.RotationWarnDays:
		return RotationWarning, nil
	default:
		return RotationOK, nil
	}
}

// ShouldRotate reports whether the token has reached the recommendation
// threshold.
func (s *Store) ShouldRotate(ctx context.Context) (bool, error) {
	status, err := s.RotationStatus(ctx)
	if err != nil {
		return false, err
	}
	return status == RotationRecommended, nil
}

// TokenInfo holds the timestamps extracted from a JWT-shaped token.
type TokenInfo struct {
	IssuedAt  *time.Time
	ExpiresAt *time.Time
}

// TokenClaims parses the token as a JWT without verifying its signature
// and returns the issued-at and expiry claims. Verification belongs to
// the gateway; locally the claims only inform the status display.
func TokenClaims(token string) (*TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parsing token claims: %w", err)
	}

	info := &TokenInfo{}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = &iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = &exp.Time
	}
	return info, nil
}
