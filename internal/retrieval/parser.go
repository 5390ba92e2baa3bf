package retrieval

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// SupportedExtensions lists the file types Extract understands.
var SupportedExtensions = []string{".pdf", ".epub", ".docx", ".txt", ".md", ".csv", ".html", ".htm"}

// FileType returns the lower-case extension without the dot, or "" when the
// type is not supported.
func FileType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, s := range SupportedExtensions {
		if ext == s {
			return strings.TrimPrefix(ext, ".")
		}
	}
	return ""
}

// Extract returns the normalized plain text of an uploaded file.
func Extract(filename string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch FileType(filename) {
	case "pdf":
		text, err = extractPDF(data)
	case "epub":
		text, err = extractEPUB(data)
	case "docx":
		text, err = extractDOCX(data)
	case "html", "htm":
		text, err = extractHTML(data)
	case "txt", "md", "csv":
		text, err = extractPlain(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, filepath.Ext(filename))
	}
	if err != nil {
		return "", err
	}
	text = normalizeText(text)
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

// extractPDF recovers from panics inside the pdf package, which it raises on
// some malformed cross-reference tables.
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: pdf: %v", ErrUnreadableFile, r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", ErrUnreadableFile, err)
	}
	var buf strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely.
			continue
		}
		buf.WriteString(pageText)
		buf.WriteString("\n")
	}
	return buf.String(), nil
}

func extractEPUB(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open epub: %v", ErrUnreadableFile, err)
	}
	var buf strings.Builder
	for _, file := range reader.File {
		name := strings.ToLower(file.Name)
		if !(strings.HasSuffix(name, ".xhtml") || strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm")) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("%w: read epub entry: %v", ErrUnreadableFile, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("%w: read epub entry: %v", ErrUnreadableFile, err)
		}
		section, err := extractHTML(content)
		if err != nil {
			return "", err
		}
		buf.WriteString(section)
		buf.WriteString("\n")
	}
	return buf.String(), nil
}

const docxBody = "word/document.xml"

// extractDOCX reads the main document part of a WordprocessingML package.
// Text runs are joined; paragraphs, tabs and breaks become spaces.
func extractDOCX(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open docx: %v", ErrUnreadableFile, err)
	}
	var body *zip.File
	for _, file := range reader.File {
		if file.Name == docxBody {
			body = file
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("%w: docx has no %s", ErrUnreadableFile, docxBody)
	}
	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("%w: read docx: %v", ErrUnreadableFile, err)
	}
	defer rc.Close()

	var buf strings.Builder
	dec := xml.NewDecoder(rc)
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: parse docx: %v", ErrUnreadableFile, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab", "br", "cr":
				buf.WriteString(" ")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				buf.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				buf.Write(t)
			}
		}
	}
	return buf.String(), nil
}

func extractHTML(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: parse html: %v", ErrUnreadableFile, err)
	}
	return HTMLText(doc), nil
}

func extractPlain(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text file is not valid UTF-8", ErrUnreadableFile)
	}
	return string(data), nil
}

// HTMLText collects the visible text of an HTML tree.
func HTMLText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" || node.Data == "head" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimPrefix(text, "\uFEFF")
	return strings.Join(strings.Fields(text), " ")
}

// chunkText splits text into rune windows of size that overlap by overlap.
func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[start:end]))
		if part != "" {
			chunks = append(chunks, part)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
