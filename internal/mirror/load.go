package mirror

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dmitrijs2005/chatkeeper/internal/models"
)

// loadedMessage carries an optional replay position. Messages from
// line-log files always have one; messages merged from whole-export
// documents do not and fall back to timestamp ordering.
type loadedMessage struct {
	msg      models.Message
	order    int
	hasOrder bool
}

type chatBuilder struct {
	title    string
	messages []loadedMessage
}

// exportDocument is the whole-export JSON format this mirror can
// import but never writes.
type exportDocument struct {
	Chats map[string]models.ChatRecord `json:"chats"`
}

// LoadFromMirror reconstructs chat records by replaying every file in
// the granted directory: line-log files first, then whole-export JSON
// documents for any chat id not already seen. Messages are ordered by
// their replay position when present, else by timestamp, and
// deduplicated by role, timestamp and a fixed-length content prefix.
func (s *Store) LoadFromMirror(ctx context.Context) (map[string]models.ChatRecord, error) {
	dir, err := s.ensureLive()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading mirror directory: %w", err)
	}

	var logFiles, exportFiles []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, plainSuffix): // covers .enc.jsonl too
			logFiles = append(logFiles, name)
		case strings.HasSuffix(name, ".json"):
			exportFiles = append(exportFiles, name)
		}
	}
	sort.Strings(logFiles)
	sort.Strings(exportFiles)

	chats := make(map[string]*chatBuilder)

	for _, name := range logFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.replayLogFile(ctx, filepath.Join(dir, name), chats); err != nil {
			return nil, fmt.Errorf("replaying %s: %w", name, err)
		}
	}

	for _, name := range exportFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.mergeExportFile(filepath.Join(dir, name), chats); err != nil {
			s.log.Warn(ctx, "skipping unreadable export file", "file", name, "error", err.Error())
		}
	}

	result := make(map[string]models.ChatRecord, len(chats))
	for id, b := range chats {
		result[id] = b.build(id)
	}
	return result, nil
}

func (s *Store) replayLogFile(ctx context.Context, path string, chats map[string]*chatBuilder) error {
	encrypted := strings.HasSuffix(path, encryptedSuffix)
	if encrypted && !s.crypto.Unlocked() {
		s.log.Warn(ctx, "skipping encrypted mirror file while locked", "file", filepath.Base(path))
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
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
		if err := json.Unmarshal([]byte(raw), &m); err != nil || m.ChatID == "" {
			s.log.Warn(ctx, "skipping malformed mirror line", "file", filepath.Base(path))
			continue
		}

		b := chats[m.ChatID]
		if b == nil {
			b = &chatBuilder{}
			chats[m.ChatID] = b
		}
		if m.ChatTitle != "" {
			b.title = m.ChatTitle
		}
		b.messages = append(b.messages, loadedMessage{
			msg:      models.Message{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp},
			order:    m.Order,
			hasOrder: true,
		})
	}
	return sc.Err()
}

// mergeExportFile imports chats from a whole-export document, but only
// ids the line logs have not produced already.
func (s *Store) mergeExportFile(path string, chats map[string]*chatBuilder) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc exportDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	for id, rec := range doc.Chats {
		if id == "" {
			continue
		}
		if _, exists := chats[id]; exists {
			continue
		}
		b := &chatBuilder{title: rec.Title}
		for _, m := range rec.Messages {
			b.messages = append(b.messages, loadedMessage{msg: m})
		}
		chats[id] = b
	}
	return nil
}

// contentPrefixLen bounds the content part of the dedupe key.
const contentPrefixLen = 100

func dedupeKey(m models.Message) string {
	content := m.Content
	if len(content) > contentPrefixLen {
		content = content[:contentPrefixLen]
	}
	return fmt.Sprintf("%s:%d:%s", m.Role, m.Timestamp, content)
}

func (b *chatBuilder) build(id string) models.ChatRecord {
	sort.SliceStable(b.messages, func(i, j int) bool {
		a, c := b.messages[i], b.messages[j]
		if a.hasOrder && c.hasOrder {
			return a.order < c.order
		}
		return a.msg.Timestamp < c.msg.Timestamp
	})

	seen := make(map[string]bool)
	var msgs []models.Message
	var minTS, maxTS int64
	for _, lm := range b.messages {
		key := dedupeKey(lm.msg)
		if seen[key] {
			continue
		}
		seen[key] = true
		msgs = append(msgs, lm.msg)

		ts := lm.msg.Timestamp
		if minTS == 0 || ts < minTS {
			minTS = ts
		}
		if ts > maxTS {
			maxTS = ts
		}
	}

	return models.ChatRecord{
		ID:        id,
		Title:     b.title,
		Messages:  msgs,
		CreatedAt: minTS,
		UpdatedAt: maxTS,
	}
}
