package models

import (
	"fmt"
	"strings"
)

// Category is one of a closed set of topical labels.
type Category string

const (
	CategorySports        Category = "sports"
	CategoryLifestyle     Category = "lifestyle"
	CategoryMusic         Category = "music"
	CategoryFinance       Category = "finance"
	CategoryUncategorized Category = "uncategorized"
)

// Categories lists the labels a classifier may assign. Uncategorized is the fallback, not a choice.
var Categories = []Category{CategorySports, CategoryLifestyle, CategoryMusic, CategoryFinance}

// Valid reports whether c is a member of the closed set, including uncategorized.
func (c Category) Valid() bool {
	switch c {
	case CategorySports, CategoryLifestyle, CategoryMusic, CategoryFinance, CategoryUncategorized:
		return true
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory converts s (case-insensitive, surrounding space ignored) into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}
