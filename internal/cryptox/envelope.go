// Package cryptox implements the envelope-encryption primitive shared by
// all chatkeeper stores: passphrase-based key derivation, authenticated
// encryption of opaque payloads, and password verification via a stored
// probe ciphertext. The password itself is never persisted.
//
// Each store owns an independent Envelope with its own salt, probe and
// keyfile namespace, so compromising one store's key material does not
// expose another's.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
)

const (
	// Iterations is the PBKDF2 cost. Fixed at design time so a single
	// stored probe can validate a password for every record in the store.
	Iterations = 100_000

	saltLength  = 16
	nonceLength = 12
	keyLength   = 32
)

// keyfile is the persisted key-derivation material for one store: the
// random salt and, once encryption has been enabled, the verification
// probe ciphertext.
type keyfile struct {
	Salt  string `json:"salt"`
	Probe string `json:"probe,omitempty"`
}

// Envelope derives a symmetric key from a passphrase and performs
// AES-256-GCM encryption of string payloads. The envelope wire form is
// base64(nonce || ciphertext || tag).
type Envelope struct {
	namespace string
	path      string
	key       []byte
}

// NewEnvelope returns an Envelope for the given store namespace, keeping
// its key material under dir as <namespace>.keys.json. The returned
// instance is locked until Unlock is called.
func NewEnvelope(namespace, dir string) *Envelope {
	return &Envelope{
		namespace: namespace,
		path:      filepath.Join(dir, namespace+".keys.json"),
	}
}

// Configured reports whether key material (a salt) has been persisted for
// this namespace, i.e. encryption was enabled at some point.
func (e *Envelope) Configured() bool {
	kf, err := e.loadKeyfile()
	return err == nil && kf.Salt != ""
}

// Unlocked reports whether a key has been derived.
func (e *Envelope) Unlocked() bool {
	return e.key != nil
}

// Unlock loads the persisted salt (creating one on first use) and derives
// the encryption key from the passphrase. Idempotent with respect to the
// salt: unlocking twice with the same passphrase yields the same key.
//
// Unlock does not check the passphrase for correctness; use
// VerifyPassword before unlocking an existing store.
func (e *Envelope) Unlock(passphrase []byte) error {
	kf, err := e.loadKeyfile()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading keyfile: %w", err)
	}

	var salt []byte
	if kf.Salt != "" {
		salt, err = base64.StdEncoding.DecodeString(kf.Salt)
		if err != nil {
			return fmt.Errorf("decoding salt: %w", err)
		}
	} else {
		salt = make([]byte, saltLength)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("generating salt: %w", err)
		}
		kf.Salt = base64.StdEncoding.EncodeToString(salt)
		if err := e.saveKeyfile(kf); err != nil {
			return err
		}
	}

	e.key = deriveKey(passphrase, salt)
	return nil
}

// Lock wipes the derived key from memory.
func (e *Envelope) Lock() {
	wipe(e.key)
	e.key = nil
}

// Clear removes the persisted salt and probe and locks the envelope.
// Used when the user disables encryption for a store.
func (e *Envelope) Clear() error {
	e.Lock()
	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing keyfile: %w", err)
	}
	return nil
}

// Encrypt seals plaintext under the derived key with a fresh random nonce
// and returns the envelope string.
func (e *Envelope) Encrypt(plaintext string) (string, error) {
	if e.key == nil {
		return "", common.ErrNotUnlocked
	}
	return encryptWithKey(e.key, plaintext)
}

// Decrypt opens an envelope string. Tampered, truncated or wrong-key
// envelopes fail with common.ErrAuthentication; this failure is how wrong
// passwords and data corruption are told apart from an empty result.
func (e *Envelope) Decrypt(envelope string) (string, error) {
	if e.key == nil {
		return "", common.ErrNotUnlocked
	}
	return decryptWithKey(e.key, envelope)
}

// CreateProbe encrypts a sentinel plaintext under the current key and
// persists it for later password verification. A no-op if a probe already
// exists: overwriting would make an old password appear valid against new
// data.
func (e *Envelope) CreateProbe() error {
	if e.key == nil {
		return common.ErrNotUnlocked
	}

	kf, err := e.loadKeyfile()
	if err != nil {
		return fmt.Errorf("loading keyfile: %w", err)
	}
	if kf.Probe != "" {
		return nil
	}

	probe := fmt.Sprintf("%s-verify-%d", e.namespace, time.Now().UnixMilli())
	enc, err := encryptWithKey(e.key, probe)
	if err != nil {
		return err
	}

	kf.Probe = enc
	return e.saveKeyfile(kf)
}

// VerifyPassword derives a key from the candidate passphrase and attempts
// to open the stored probe. Returns true iff decryption succeeds. Never
// mutates persisted state. With a salt but no probe it returns true,
// matching first-enable flows where no probe exists yet.
func (e *Envelope) VerifyPassword(candidate []byte) bool {
	kf, err := e.loadKeyfile()
	if err != nil || kf.Salt == "" {
		return false
	}
	if kf.Probe == "" {
		return true
	}

	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return false
	}

	key := deriveKey(candidate, salt)
	defer wipe(key)

	_, err = decryptWithKey(key, kf.Probe)
	return err == nil
}

func deriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, Iterations, keyLength, sha256.New)
}

func encryptWithKey(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aesgcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func decryptWithKey(key []byte, envelope string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("decoding envelope: %w", common.ErrAuthentication)
	}
	if len(raw) < nonceLength {
		return "", fmt.Errorf("envelope too short: %w", common.ErrAuthentication)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	plaintext, err := aesgcm.Open(nil, raw[:nonceLength], raw[nonceLength:], nil)
	if err != nil {
		return "", fmt.Errorf("opening envelope: %w", common.ErrAuthentication)
	}
	return string(plaintext), nil
}

func (e *Envelope) loadKeyfile() (keyfile, error) {
	var kf keyfile
	data, err := os.ReadFile(e.path)
	if err != nil {
		return kf, err
	}
	if err := json.Unmarshal(data, &kf); err != nil {
		return kf, fmt.Errorf("parsing keyfile: %w", err)
	}
	return kf, nil
}

func (e *Envelope) saveKeyfile(kf keyfile) error {
	data, err := json.Marshal(kf)
	if err != nil {
		return err
	}
	if err := os.WriteFile(e.path, data, 0o600); err != nil {
		return fmt.Errorf("writing keyfile: %w", err)
	}
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
