// Package mirror maintains a best-effort secondary copy of every chat
// message as per-day append-only JSONL files inside a user-granted
// directory. Writes are debounced and coalesced; appends are preceded
// by a full read of the day's file so re-mirroring the same messages
// never duplicates lines.
package mirror

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/config"
	"github.com/dmitrijs2005/chatkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chatkeeper/internal/filex"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/models"
)

const (
	cryptoNamespace = "mirror"

	plainSuffix     = ".jsonl"
	encryptedSuffix = ".enc.jsonl"
	dateLayout      = "2006-01-02"
)

// fileHeader is the first line of an encrypted mirror file. Plain files
// carry no header.
type fileHeader struct {
	Encrypted bool `json:"_encrypted"`
	Version   int  `json:"_version"`
}

const formatVersion = 1

// Store is the file mirror.
type Store struct {
	cfg     *config.Config
	log     logging.Logger
	crypto  *cryptox.Envelope
	dataDir string

	mu      sync.Mutex
	pending []models.MirrorMessage
	timer   *time.Timer
	handle  handleRef
	state   HandleState

	// flushMu serializes flushes; enqueues during a flush land in the
	// next batch.
	flushMu sync.Mutex
}

// New creates the mirror store. A handle persisted by a previous
// session is restored as stale; it is probed before first use.
func New(cfg *config.Config, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}

	dir, err := filex.EnsureDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("preparing data dir: %w", err)
	}

	s := &Store{
		cfg:     cfg,
		log:     log.With("component", "mirror"),
		crypto:  cryptox.NewEnvelope(cryptoNamespace, dir),
		dataDir: dir,
		state:   HandleUnbound,
	}
	s.loadHandle()
	return s, nil
}

// Close stops the debounce timer and flushes whatever is still queued.
func (s *Store) Close() error {
	return s.Flush(context.Background())
}

// Encrypted reports whether encryption has ever been enabled for the mirror.
func (s *Store) Encrypted() bool { return s.crypto.Configured() }

// NeedsUnlock reports whether encrypted mirror files exist but no key
// has been derived yet this session.
func (s *Store) NeedsUnlock() bool { return s.crypto.Configured() && !s.crypto.Unlocked() }

// EnableEncryption derives a key for the mirror namespace; subsequent
// flushes write `<date>.enc.jsonl` files. Once a key exists, the
// passphrase must open the existing probe.
func (s *Store) EnableEncryption(passphrase []byte) error {
	if s.crypto.Configured() && !s.crypto.VerifyPassword(passphrase) {
		return fmt.Errorf("enabling mirror encryption: passphrase does not match existing key: %w", common.ErrAuthentication)
	}
	if err := s.crypto.Unlock(passphrase); err != nil {
		return fmt.Errorf("enabling mirror encryption: %w", err)
	}
	if err := s.crypto.CreateProbe(); err != nil {
		return fmt.Errorf("creating verification probe: %w", err)
	}
	return nil
}

// Unlock verifies the passphrase against the stored probe and derives
// the key on success.
func (s *Store) Unlock(passphrase []byte) bool {
	if !s.crypto.Configured() {
		return false
	}
	if !s.crypto.VerifyPassword(passphrase) {
		return false
	}
	return s.crypto.Unlock(passphrase) == nil
}

// WriteMessage enqueues one message and (re)arms the debounce timer.
// Nothing touches the filesystem until the timer fires or Flush is
// called explicitly.
func (s *Store) WriteMessage(rec models.MirrorMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, rec)
	s.armTimerLocked()
}

// WriteChat enqueues every message of a chat, stamping each with its
// position so replay can restore order even across interleaved files.
func (s *Store) WriteChat(chat models.ChatRecord) {
	for i, m := range chat.Messages {
		s.WriteMessage(models.MirrorMessage{
			ID:        models.MirrorMessageID(chat.ID, i),
			ChatID:    chat.ID,
			ChatTitle: chat.Title,
			Order:     i,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
}

// SyncAll enqueues every message of every chat and forces a synchronous
// flush. Because appends are deduplicated against file content, calling
// it twice leaves the file set byte-identical. Returns the number of
// messages enqueued.
func (s *Store) SyncAll(ctx context.Context, records map[string]models.ChatRecord) (int, error) {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	n := 0
	for _, id := range ids {
		s.WriteChat(records[id])
		n += len(records[id].Messages)
	}
	if err := s.Flush(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// PendingCount returns the number of queued, unflushed messages.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// armTimerLocked resets the single debounce timer. Caller holds mu.
func (s *Store) armTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.MirrorDebounce, func() {
		ctx := context.Background()
		if err := s.Flush(ctx); err != nil {
			s.log.Warn(ctx, "mirror flush failed", "error", err.Error())
		}
	})
}

// Flush empties the queue atomically and appends each message to its
// calendar day's file. On a mid-flush failure the failed day's batch
// and every untried day are requeued; days already written stay
// written.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	dir, err := s.ensureLive()
	if err != nil {
		s.requeue(batch)
		return err
	}

	groups := make(map[string][]models.MirrorMessage)
	var dates []string
	for _, m := range batch {
		d := time.UnixMilli(m.Timestamp).UTC().Format(dateLayout)
		if _, ok := groups[d]; !ok {
			dates = append(dates, d)
		}
		groups[d] = append(groups[d], m)
	}
	sort.Strings(dates)

	for i, d := range dates {
		if err := s.appendDateFile(ctx, dir, d, groups[d]); err != nil {
			var left []models.MirrorMessage
			for _, rest := range dates[i:] {
				left = append(left, groups[rest]...)
			}
			s.requeue(left)
			return fmt.Errorf("appending mirror file for %s: %w: %w", d, common.ErrPartialWrite, err)
		}
	}
	return nil
}

// requeue pushes messages back to the front of the queue. The debounce
// timer is re-armed only while the handle can still serve a retry; a
// revoked or unbound handle parks the queue until GrantDirectory or
// Reconnect, which re-arm it themselves.
func (s *Store) requeue(batch []models.MirrorMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(batch, s.pending...)
	switch s.state {
	case HandleRevoked, HandleUnbound:
	default:
		s.armTimerLocked()
	}
}

func (s *Store) fileName(date string) string {
	if s.crypto.Unlocked() {
		return date + encryptedSuffix
	}
	return date + plainSuffix
}

// appendDateFile reads the day's file to collect identifiers already
// present, filters the batch down to new messages and appends only
// those. Cost is linear in existing file size, acceptable because files
// are bounded per day.
func (s *Store) appendDateFile(ctx context.Context, dir, date string, batch []models.MirrorMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encrypted := s.crypto.Unlocked()
	path := filepath.Join(dir, s.fileName(date))

	seen, existed, err := s.existingIDs(ctx, path, encrypted)
	if err != nil {
		return err
	}

	var fresh []models.MirrorMessage
	for _, m := range batch {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if encrypted && !existed {
		header, err := json.Marshal(fileHeader{Encrypted: true, Version: formatVersion})
		if err != nil {
			return err
		}
		if _, err := w.Write(append(header, '\n')); err != nil {
			return err
		}
	}

	for _, m := range fresh {
		line, err := json.Marshal(m)
		if err != nil {
			return err
		}
		out := string(line)
		if encrypted {
			out, err = s.crypto.Encrypt(out)
			if err != nil {
				return err
			}
		}
		if _, err := w.WriteString(out + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

// existingIDs parses the day's file (decrypting lines when the file is
// the encrypted variant) and returns the set of message identifiers it
// already holds.
func (s *Store) existingIDs(ctx context.Context, path string, encrypted bool) (map[string]bool, bool, error) {
	seen := make(map[string]bool)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return seen, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if encrypted && first {
			first = false
			var h fileHeader
			if err := json.Unmarshal([]byte(line), &h); err == nil && h.Encrypted {
				continue
			}
			// no header: fall through and treat the line as a record
		}
		first = false

		raw := line
		if encrypted {
			raw, err = s.crypto.Decrypt(line)
			if err != nil {
				s.log.Warn(ctx, "skipping undecryptable mirror line", "file", filepath.Base(path))
				continue
			}
		}
		var m models.MirrorMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			s.log.Warn(ctx, "skipping malformed mirror line", "file", filepath.Base(path))
			continue
		}
		if m.ID != "" {
			seen[m.ID] = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, true, err
	}
	return seen, true, nil
}
