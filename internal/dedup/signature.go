// Package dedup drops articles that are already stored or that nearly duplicate
// an article seen in the current batch or the trailing window.
package dedup

import (
	"hash/fnv"
	"sort"
	"strings"

	"github.com/hyperjump/kiji/pkg/utils"
)

// Signature is the sorted set of hashed word shingles of a text.
type Signature []uint64

// NewSignature builds the shingle signature of text. shingleSize 1 gives a token set.
func NewSignature(text string, shingleSize int) Signature {
	if shingleSize < 1 {
		shingleSize = 1
	}
	words := utils.Words(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) < shingleSize {
		shingleSize = len(words)
	}

	set := make(map[uint64]struct{}, len(words))
	h := fnv.New64a()
	for i := 0; i+shingleSize <= len(words); i++ {
		h.Reset()
		h.Write([]byte(strings.Join(words[i:i+shingleSize], " ")))
		set[h.Sum64()] = struct{}{}
	}

	sig := make(Signature, 0, len(set))
	for v := range set {
		sig = append(sig, v)
	}
	sort.Slice(sig, func(i, j int) bool { return sig[i] < sig[j] })
	return sig
}

// Empty reports whether the signature has no shingles.
func (s Signature) Empty() bool {
	return len(s) == 0
}

// Similarity returns the Jaccard similarity of two signatures in [0, 1].
// Two empty signatures are not similar.
func (s Signature) Similarity(other Signature) float64 {
	if len(s) == 0 || len(other) == 0 {
		return 0
	}
	i, j, shared := 0, 0, 0
	for i < len(s) && j < len(other) {
		switch {
		case s[i] == other[j]:
			shared++
			i++
			j++
		case s[i] < other[j]:
			i++
		default:
			j++
		}
	}
	union := len(s) + len(other) - shared
	return float64(shared) / float64(union)
}
