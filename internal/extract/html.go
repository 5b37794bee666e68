package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// chromeSelectors are page furniture that never belongs to article text.
const chromeSelectors = "script, style, noscript, nav, header, footer, aside, form, figure, iframe, svg, button"

// extractHTML returns the title and paragraph text of an article page.
// Paragraphs inside <article> are preferred; when there are none, <main> and then <body> are used.
func extractHTML(content []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	doc.Find(chromeSelectors).Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var paragraphs []string
	root.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := strings.Join(strings.Fields(p.Text()), " "); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		text := strings.Join(strings.Fields(root.Text()), " ")
		return &Document{Title: title, Text: text}, nil
	}
	return &Document{Title: title, Text: strings.Join(paragraphs, "\n")}, nil
}
