package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultDocumentPath = "word/document.xml"
	docxCorePropertiesPath  = "docProps/core.xml"
	contentTypesPath        = "[Content_Types].xml"
	docxMainContentType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// wParagraph matches one <w:p> paragraph element including attributes.
	wParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	// wText matches <w:t>text</w:t> with any attributes.
	wText = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// dcTitle matches the document title in docProps/core.xml.
	dcTitle = regexp.MustCompile(`<dc:title>([^<]*)</dc:title>`)
	// PartName and ContentType may appear in either order on an Override element.
	partNameFirst = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	partNameLast  = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

// extractDOCX returns the paragraphs of a .docx body, one per line, and the title from core properties.
func extractDOCX(content []byte) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: not a zip: %w", err)
	}

	docPath := docxDefaultDocumentPath
	if ct, ok := readZipFile(zr, contentTypesPath); ok {
		if m := partNameFirst.FindSubmatch(ct); len(m) > 1 {
			docPath = strings.TrimPrefix(string(m[1]), "/")
		} else if m := partNameLast.FindSubmatch(ct); len(m) > 1 {
			docPath = strings.TrimPrefix(string(m[1]), "/")
		}
	}

	body, ok := readZipFile(zr, docPath)
	if !ok {
		return nil, fmt.Errorf("extract DOCX: %s not found", docPath)
	}

	var paragraphs []string
	for _, p := range wParagraph.FindAll(body, -1) {
		var runs []string
		for _, t := range wText.FindAllSubmatch(p, -1) {
			runs = append(runs, string(t[1]))
		}
		if text := strings.TrimSpace(html.UnescapeString(strings.Join(runs, ""))); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}

	doc := &Document{Text: strings.Join(paragraphs, "\n")}
	if core, ok := readZipFile(zr, docxCorePropertiesPath); ok {
		if m := dcTitle.FindSubmatch(core); len(m) > 1 {
			doc.Title = strings.TrimSpace(html.UnescapeString(string(m[1])))
		}
	}
	return doc, nil
}

func readZipFile(zr *zip.Reader, name string) ([]byte, bool) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, false
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, false
		}
		return data, true
	}
	return nil, false
}
