package retrieval

import (
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/pkg/utils"
)

// scopeTerms are words that tie a question to one category. Stored in Tokenize form.
var scopeTerms = map[models.Category][]string{
	models.CategorySports: {
		"sport", "sporting", "football", "soccer", "cricket", "tennis", "rugby", "nrl", "afl",
		"match", "coach", "olympic", "olympics", "league", "player", "premiership", "cup", "athlete",
	},
	models.CategoryMusic: {
		"music", "album", "song", "band", "concert", "singer", "chart", "festival", "musician",
		"rapper", "grammy", "aria", "gig", "orchestra", "playlist",
	},
	models.CategoryFinance: {
		"finance", "financial", "market", "stock", "share", "asx", "rba", "inflation", "economy",
		"bank", "investor", "mortgage", "earning", "budget", "interest", "rate", "dollar",
	},
	models.CategoryLifestyle: {
		"lifestyle", "recipe", "food", "travel", "fashion", "health", "wellness", "fitness",
		"garden", "diet", "parenting", "beauty", "restaurant", "home", "wine",
	},
}

var scopeIndex = func() map[string]models.Category {
	idx := make(map[string]models.Category)
	for c, terms := range scopeTerms {
		for _, t := range terms {
			idx[t] = c
		}
	}
	return idx
}()

// InferScope guesses the category a question is about. It reports false when the
// question names no category terms or when two categories are mentioned equally.
func InferScope(question string) (models.Category, bool) {
	counts := make(map[models.Category]int)
	for _, tok := range utils.Tokenize(question) {
		if c, ok := scopeIndex[tok]; ok {
			counts[c]++
		}
	}
	var (
		best models.Category
		top  int
		tie  bool
	)
	for _, c := range models.Categories {
		switch n := counts[c]; {
		case n > top:
			best, top, tie = c, n, false
		case n == top && n > 0:
			tie = true
		}
	}
	if top == 0 || tie {
		return "", false
	}
	return best, true
}
