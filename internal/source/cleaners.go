package source

import (
	"regexp"
	"strings"
	"sync"
)

// Cleaner strips outlet-specific boilerplate from extracted article text.
type Cleaner func(text string) string

func identity(text string) string { return text }

// CleanerRegistry maps outlet host suffixes to cleaners.
type CleanerRegistry struct {
	mu       sync.RWMutex
	cleaners map[string]Cleaner
}

// NewCleanerRegistry returns an empty registry.
func NewCleanerRegistry() *CleanerRegistry {
	return &CleanerRegistry{cleaners: make(map[string]Cleaner)}
}

// Register installs c for host and all of its subdomains.
func (r *CleanerRegistry) Register(host string, c Cleaner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleaners[strings.ToLower(host)] = c
}

// For returns the cleaner registered for host, matching the longest registered suffix.
// Hosts with no cleaner get the identity function.
func (r *CleanerRegistry) For(host string) Cleaner {
	host = strings.ToLower(host)
	r.mu.RLock()
	defer r.mu.RUnlock()
	best, bestLen := Cleaner(identity), 0
	for suffix, c := range r.cleaners {
		if (host == suffix || strings.HasSuffix(host, "."+suffix)) && len(suffix) > bestLen {
			best, bestLen = c, len(suffix)
		}
	}
	return best
}

var abcTopic = regexp.MustCompile(`(?s)Topic:(\w+)\s+(.*?)(?:Topic:|$)`)

// cleanABC keeps the first topic label and the text that follows it, dropping
// the related-topics footer. Text without a topic marker is left alone.
func cleanABC(text string) string {
	m := abcTopic.FindStringSubmatch(text)
	if m == nil {
		return text
	}
	return strings.TrimSpace(m[1]) + " " + strings.TrimSpace(m[2])
}

func removeAll(phrases ...string) Cleaner {
	return func(text string) string {
		for _, p := range phrases {
			text = strings.ReplaceAll(text, p, "")
		}
		return text
	}
}

var copyrightLine = regexp.MustCompile(`(?:Reuters )?Copyright ©\d{4}|©\d{4}\s*Nine Entertainment Co`)

func stripCopyright(c Cleaner) Cleaner {
	return func(text string) string {
		return copyrightLine.ReplaceAllString(c(text), "")
	}
}

// DefaultCleaners returns a registry with cleaners for the outlets the fetcher covers.
func DefaultCleaners() *CleanerRegistry {
	r := NewCleanerRegistry()
	r.Register("abc.net.au", cleanABC)
	r.Register("smh.com.au", stripCopyright(removeAll(
		"We’re sorry, this feature is currently unavailable. We’re working to restore it. Please try again later.",
		"Add articles to your saved list and come back to them any time.",
	)))
	r.Register("nine.com.au", stripCopyright(removeAll("Nine’s Wide World of Sports")))
	return r
}
