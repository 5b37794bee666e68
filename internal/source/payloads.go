package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/kiji/internal/models"
)

// maxLineBytes bounds a single JSON Lines record.
const maxLineBytes = 16 << 20

// ReadPayloads decodes fetch output: either one JSON array of payloads or JSON Lines.
func ReadPayloads(r io.Reader) ([]*models.RawPayload, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read payloads: %w", err)
	}

	if first == '[' {
		var payloads []*models.RawPayload
		if err := json.NewDecoder(br).Decode(&payloads); err != nil {
			return nil, fmt.Errorf("decode payload array: %w", err)
		}
		return payloads, nil
	}

	var payloads []*models.RawPayload
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var p models.RawPayload
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, fmt.Errorf("decode payload on line %d: %w", line, err)
		}
		payloads = append(payloads, &p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read payloads: %w", err)
	}
	return payloads, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// ReadPayloadFile reads payloads from a .json or .jsonl file.
func ReadPayloadFile(path string) ([]*models.RawPayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	payloads, err := ReadPayloads(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return payloads, nil
}

// IsPayloadFile reports whether path has a payload file extension.
func IsPayloadFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl", ".ndjson":
		return true
	}
	return false
}

// SpoolFetcher reads the current day's payload files from a directory the fetch job writes to.
// A file is picked up when its name contains the date (YYYY-MM-DD). Files returned by Fetch
// are only marked as read by Commit, so a batch that fails is fetched again on the next run.
type SpoolFetcher struct {
	Dir string
	Now func() time.Time

	mu      sync.Mutex
	seen    map[string]time.Time
	pending map[string]time.Time
}

// NewSpoolFetcher returns a SpoolFetcher over dir.
func NewSpoolFetcher(dir string) *SpoolFetcher {
	return &SpoolFetcher{Dir: dir, Now: time.Now, seen: make(map[string]time.Time)}
}

// Fetch returns the payloads of today's spool files that are new or changed since they
// were last committed. It replaces any uncommitted previous fetch.
func (s *SpoolFetcher) Fetch(ctx context.Context) ([]*models.RawPayload, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read spool dir: %w", err)
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	day := now().Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string]time.Time)
	}
	s.pending = make(map[string]time.Time)
	var payloads []*models.RawPayload
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			s.pending = nil
			return nil, err
		}
		if e.IsDir() || !IsPayloadFile(e.Name()) || !strings.Contains(e.Name(), day) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(s.Dir, e.Name())
		if mod, ok := s.seen[path]; ok && mod.Equal(info.ModTime()) {
			continue
		}
		batch, err := ReadPayloadFile(path)
		if err != nil {
			s.pending = nil
			return nil, err
		}
		s.pending[path] = info.ModTime()
		payloads = append(payloads, batch...)
	}
	return payloads, nil
}

// Commit marks the files returned by the last Fetch as read.
func (s *SpoolFetcher) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, mod := range s.pending {
		s.seen[path] = mod
	}
	s.pending = nil
}

// ReadPayloadDir walks dir recursively and reads every payload file in it. It returns the
// payloads and the number of files read.
func ReadPayloadDir(dir string) ([]*models.RawPayload, int, error) {
	var (
		payloads []*models.RawPayload
		files    int
	)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !IsPayloadFile(path) {
			return nil
		}
		// Resolve symlinks so only regular files are read.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		batch, err := ReadPayloadFile(path)
		if err != nil {
			return err
		}
		payloads = append(payloads, batch...)
		files++
		return nil
	})
	if err != nil {
		return nil, files, err
	}
	return payloads, files, nil
}
