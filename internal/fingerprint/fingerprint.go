// Package fingerprint provides content-derived article IDs and URL keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/hyperjump/kiji/pkg/utils"
)

const prefix = "art:"

// Normalize lowercases text and reduces it to space-separated words, so that
// markup, punctuation, and whitespace differences do not change the fingerprint.
func Normalize(text string) string {
	return strings.Join(utils.Words(text), " ")
}

// ArticleID returns the stable ID for an article: a hash of the source and normalized text.
// The same story from two outlets yields two IDs; the same page fetched twice yields one.
func ArticleID(source, text string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(source))))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(text)))
	return prefix + hex.EncodeToString(h.Sum(nil))
}

// URLKey canonicalizes an article URL for duplicate lookup: lowercase host, no fragment,
// no tracking parameters, no trailing slash. Unparseable input is returned trimmed.
func URLKey(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") || k == "fbclid" || k == "gclid" {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
