// Package extract turns article bodies in various formats into plain text.
package extract

import (
	"bytes"
	"mime"
	"strings"
)

// Media types understood by the extractor.
const (
	TypeHTML  = "text/html"
	TypeXHTML = "application/xhtml+xml"
	TypePlain = "text/plain"
	TypePDF   = "application/pdf"
	TypeDOCX  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Document is the text pulled out of an article body. Title is empty when the format has none.
type Document struct {
	Title string
	Text  string
}

// Extractor extracts plain text from article bodies.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract decodes content according to contentType. An empty content type is sniffed:
// markup is treated as HTML, anything else as plain text. Unknown types fall back to plain text.
func (e *Extractor) Extract(content []byte, contentType string) (*Document, error) {
	mediaType := MediaType(contentType)
	if mediaType == "" {
		mediaType = Sniff(content)
	}
	switch mediaType {
	case TypeHTML, TypeXHTML:
		return extractHTML(content)
	case TypePDF:
		text, err := extractPDF(content)
		if err != nil {
			return nil, err
		}
		return &Document{Text: text}, nil
	case TypeDOCX:
		return extractDOCX(content)
	default:
		text, err := extractPlain(content)
		if err != nil {
			return nil, err
		}
		return &Document{Text: text}, nil
	}
}

// MediaType returns the lowercase media type of a Content-Type header value, without parameters.
func MediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mt
}

// Sniff guesses the media type of content that arrived without one.
func Sniff(content []byte) string {
	head := bytes.TrimSpace(content)
	if len(head) > 512 {
		head = head[:512]
	}
	switch {
	case bytes.HasPrefix(head, []byte("%PDF-")):
		return TypePDF
	case len(head) > 0 && head[0] == '<' && bytes.Contains(bytes.ToLower(head), []byte("<html")),
		bytes.HasPrefix(bytes.ToLower(head), []byte("<!doctype html")),
		len(head) > 0 && head[0] == '<' && bytes.Contains(head, []byte("</p>")):
		return TypeHTML
	default:
		return TypePlain
	}
}
