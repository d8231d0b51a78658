// Package common defines shared constants and sentinel errors used across
// chatkeeper storage components. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// ErrBackendUnavailable means the transactional backend could not be
	// opened; stores fall back to the blob backend for the rest of their
	// lifetime.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrAuthentication means an envelope failed authenticated decryption:
	// wrong passphrase, tampered or truncated ciphertext.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotUnlocked means an encryption operation was attempted before the
	// store's key was derived from a passphrase.
	ErrNotUnlocked = errors.New("encryption not unlocked")

	// ErrPermissionDenied means the mirror directory handle is revoked or
	// was never granted.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrQuotaExceeded means local storage usage crossed the warning
	// threshold. Surfaced alongside the triggering write error.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrPartialWrite means a multi-file or multi-record write was
	// interrupted partway. No automatic rollback; the caller may retry.
	ErrPartialWrite = errors.New("partial write")
)
