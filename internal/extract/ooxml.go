package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	contentTypesPath    = "[Content_Types].xml"
	docxDefaultBodyPath = "word/document.xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// <w:t>text</w:t> and <a:t>text</a:t>, with any attributes.
	wordTextRun  = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	drawTextRun  = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)
	wordParaEnd  = regexp.MustCompile(`</w:p>`)
	drawParaEnd  = regexp.MustCompile(`</a:p>`)
	overrideElem = regexp.MustCompile(`<Override\s[^>]*>`)
	partNameAttr = regexp.MustCompile(`PartName="([^"]+)"`)
	slideNumber  = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("not a zip archive: %w", err)
	}
	return zr, nil
}

func readZipFile(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Name, err)
	}
	return string(b), nil
}

func findZipFile(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// docxBodyPath returns the main document part named in [Content_Types].xml, or the default
// location when the manifest does not name one.
func docxBodyPath(zr *zip.Reader) string {
	f := findZipFile(zr, contentTypesPath)
	if f == nil {
		return docxDefaultBodyPath
	}
	manifest, err := readZipFile(f)
	if err != nil {
		return docxDefaultBodyPath
	}
	for _, elem := range overrideElem.FindAllString(manifest, -1) {
		if !strings.Contains(elem, `ContentType="`+docxMainContentType+`"`) {
			continue
		}
		if m := partNameAttr.FindStringSubmatch(elem); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return docxDefaultBodyPath
}

// xmlParagraphs returns the text runs of body grouped by paragraph, one paragraph per line.
func xmlParagraphs(body string, run, paraEnd *regexp.Regexp) string {
	var paras []string
	for _, para := range paraEnd.Split(body, -1) {
		var b strings.Builder
		for _, m := range run.FindAllStringSubmatch(para, -1) {
			b.WriteString(html.UnescapeString(m[1]))
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			paras = append(paras, s)
		}
	}
	return strings.Join(paras, "\n")
}

// loadDOCX reads the paragraphs of the main document part.
func loadDOCX(data []byte) (*Loaded, error) {
	zr, err := openZip(data)
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: %w", err)
	}
	path := docxBodyPath(zr)
	f := findZipFile(zr, path)
	if f == nil {
		return nil, fmt.Errorf("extract DOCX: %s not found", path)
	}
	body, err := readZipFile(f)
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: %w", err)
	}
	return &Loaded{Text: xmlParagraphs(body, wordTextRun, wordParaEnd)}, nil
}

// loadPPTX reads every slide in slide order. Slides are separated by a blank line and each
// slide counts as a page.
func loadPPTX(data []byte) (*Loaded, error) {
	zr, err := openZip(data)
	if err != nil {
		return nil, fmt.Errorf("extract PPTX: %w", err)
	}
	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slideNumber.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n: n, f: f})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	texts := make([]string, 0, len(slides))
	for _, s := range slides {
		body, err := readZipFile(s.f)
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: %w", err)
		}
		if text := xmlParagraphs(body, drawTextRun, drawParaEnd); text != "" {
			texts = append(texts, text)
		}
	}
	return &Loaded{Text: strings.Join(texts, "\n\n"), PageCount: len(slides)}, nil
}
