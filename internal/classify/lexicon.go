package classify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/pkg/utils"
)

// Example is one labelled training text.
type Example struct {
	Category models.Category `json:"category" yaml:"category"`
	Text     string          `json:"text" yaml:"text"`
}

// LexiconClassifier is a multinomial naive Bayes model over content words with a
// uniform prior and add-one smoothing. Confidence is the posterior of the winning label.
type LexiconClassifier struct {
	mu     sync.RWMutex
	labels []models.Category
	counts map[models.Category]map[string]float64
	totals map[models.Category]float64
	vocab  map[string]struct{}
}

// NewLexiconClassifier returns an untrained classifier over labels.
func NewLexiconClassifier(labels []models.Category) *LexiconClassifier {
	l := &LexiconClassifier{
		labels: append([]models.Category(nil), labels...),
		counts: make(map[models.Category]map[string]float64, len(labels)),
		totals: make(map[models.Category]float64, len(labels)),
		vocab:  make(map[string]struct{}),
	}
	for _, c := range labels {
		l.counts[c] = make(map[string]float64)
	}
	return l
}

// Train adds examples to the model. Examples for labels outside the classifier's set are skipped.
func (l *LexiconClassifier) Train(examples []Example) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ex := range examples {
		counts, ok := l.counts[ex.Category]
		if !ok {
			continue
		}
		for _, tok := range utils.Tokenize(ex.Text) {
			counts[tok]++
			l.totals[ex.Category]++
			l.vocab[tok] = struct{}{}
		}
		n++
	}
	return n
}

// Classify returns the most probable label and its posterior. Text with no known
// words gets the first label at chance confidence, which the categorizer gates out.
func (l *LexiconClassifier) Classify(ctx context.Context, text string) (models.Category, float64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.labels) == 0 {
		return "", 0, ErrNoLabels
	}

	var known []string
	for _, tok := range utils.Tokenize(text) {
		if _, ok := l.vocab[tok]; ok {
			known = append(known, tok)
		}
	}
	if len(known) == 0 {
		return l.labels[0], 1 / float64(len(l.labels)), nil
	}

	v := float64(len(l.vocab))
	scores := make([]float64, len(l.labels))
	for i, c := range l.labels {
		denom := l.totals[c] + v
		for _, tok := range known {
			scores[i] += math.Log((l.counts[c][tok] + 1) / denom)
		}
	}

	best := 0
	for i := range scores {
		if scores[i] > scores[best] {
			best = i
		}
	}
	var z float64
	for _, s := range scores {
		z += math.Exp(s - scores[best])
	}
	return l.labels[best], 1 / z, nil
}

// seedTerms are the starter vocabulary per category used by DefaultLexicon.
var seedTerms = map[models.Category]string{
	models.CategorySports: `match game team coach score season league goal win victory player final cricket football
		soccer afl nrl rugby tennis golf olympic olympics championship striker tournament stadium premiership wicket
		innings matildas socceroos wallabies grand slam medal athlete race racing cup squad defender midfielder captain`,
	models.CategoryFinance: `bank banks rate rates interest inflation market markets share shares stock stocks investor
		investors economy economic dollar asx profit revenue earnings budget tax mortgage mortgages lending price prices
		rba reserve treasury bond bonds wage wages cash unemployment gdp recession trade currency dividend`,
	models.CategoryMusic: `album albums song songs band singer concert concerts tour chart charts festival guitar
		single track tracks artist artists rapper grammy aria gig musician musicians lyrics vinyl setlist
		orchestra pop rock hip hop jazz debut headline stage`,
	models.CategoryLifestyle: `food recipe recipes travel health fashion home garden gardening wellness diet restaurant
		restaurants holiday beauty fitness parenting relationship relationships wine cooking style sleep design
		interior skincare nutrition exercise cafe dining wedding pets hotel`,
}

// DefaultLexicon returns a classifier trained on the built-in seed vocabulary for
// the four assignable categories.
func DefaultLexicon() *LexiconClassifier {
	l := NewLexiconClassifier(models.Categories)
	examples := make([]Example, 0, len(seedTerms))
	for _, c := range models.Categories {
		examples = append(examples, Example{Category: c, Text: strings.Join(strings.Fields(seedTerms[c]), " ")})
	}
	l.Train(examples)
	return l
}

// ReadExamples loads labelled examples from a YAML list (.yaml, .yml) or a JSON Lines file.
// Category names are matched case-insensitively; unknown ones fail the load.
func ReadExamples(path string) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read training file: %w", err)
	}
	var examples []Example
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &examples); err != nil {
			return nil, fmt.Errorf("parse training file: %w", err)
		}
	default:
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
		line := 0
		for scanner.Scan() {
			line++
			b := bytes.TrimSpace(scanner.Bytes())
			if len(b) == 0 {
				continue
			}
			var ex Example
			if err := json.Unmarshal(b, &ex); err != nil {
				return nil, fmt.Errorf("parse training file line %d: %w", line, err)
			}
			examples = append(examples, ex)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read training file: %w", err)
		}
	}
	for i := range examples {
		c, err := models.ParseCategory(string(examples[i].Category))
		if err != nil {
			return nil, fmt.Errorf("training example %d: %w", i+1, err)
		}
		examples[i].Category = c
	}
	return examples, nil
}
