// Package extract converts uploaded files into text plus structured metadata, dispatching on
// MIME type.
package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/docsight/internal/llm"
	"github.com/hyperjump/docsight/internal/models"
)

// ErrUnsupportedType is returned when no extraction path handles a file's MIME type.
var ErrUnsupportedType = errors.New("unsupported file type")

// File is a raw upload handed to the extractor.
type File struct {
	Name     string
	MimeType string
	Data     []byte
	// URL is the public blob reference, used by the vision path. When empty the image is sent
	// inline as a data URL.
	URL string
}

// Result is the outcome of extraction.
type Result struct {
	Text        string
	Category    string
	MimeType    string
	Title       string
	Description string
	Confidence  float64
	PageCount   int
	Metadata    map[string]interface{}
	Vision      *VisionAnalysis
}

// Loaded is what a Loader returns for a document file.
type Loaded struct {
	Text      string
	PageCount int
}

// Loader reads the text of one document format.
type Loader func(data []byte) (*Loaded, error)

// Extractor extracts text from uploaded files.
type Extractor struct {
	vision llm.VisionAnalyzer
	logger *zap.Logger

	mu      sync.RWMutex
	loaders map[string]loaderEntry
}

type loaderEntry struct {
	load     Loader
	category string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger for the extractor.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		e.logger = l
	}
}

// MIME types with built-in loaders.
const (
	MimePlain    = "text/plain"
	MimeMarkdown = "text/markdown"
	MimeCSV      = "text/csv"
	MimePDF      = "application/pdf"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimePPTX     = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// NewExtractor returns an Extractor with the built-in document loaders. vision may be nil, in
// which case images fail extraction.
func NewExtractor(vision llm.VisionAnalyzer, opts ...Option) *Extractor {
	e := &Extractor{
		vision:  vision,
		logger:  zap.NewNop(),
		loaders: make(map[string]loaderEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.register(MimeMarkdown, loadPlain, models.CategoryText)
	e.register(MimeCSV, loadPlain, models.CategoryText)
	e.register(MimePDF, loadPDF, models.CategoryDocument)
	e.register(MimeDOCX, loadDOCX, models.CategoryDocument)
	e.register(MimeXLSX, loadXLSX, models.CategoryDocument)
	e.register(MimePPTX, loadPPTX, models.CategoryDocument)
	return e
}

// Register adds or replaces the loader for mimeType. Registered files have category document.
func (e *Extractor) Register(mimeType string, load Loader) {
	e.register(mimeType, load, models.CategoryDocument)
}

func (e *Extractor) register(mimeType string, load Loader, category string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaders[baseMimeType(mimeType)] = loaderEntry{load: load, category: category}
}

// Supports reports whether a file with this MIME type can be extracted.
func (e *Extractor) Supports(mimeType string) bool {
	mt := baseMimeType(mimeType)
	if strings.HasPrefix(mt, "image/") || mt == MimePlain {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.loaders[mt]
	return ok
}

// Extract converts f into text. It has no side effects.
func (e *Extractor) Extract(ctx context.Context, f File) (*Result, error) {
	mt := DetectMimeType(f.Name, f.Data, f.MimeType)
	var (
		res *Result
		err error
	)
	switch {
	case strings.HasPrefix(mt, "image/"):
		res, err = e.extractImage(ctx, f, mt)
	case mt == MimePlain:
		res = &Result{Text: decodeText(f.Data), Category: models.CategoryText, Confidence: 1}
	default:
		res, err = e.extractDocument(f, mt)
	}
	if err != nil {
		return nil, err
	}
	res.MimeType = mt
	res.Metadata = models.MergeMetadata(map[string]interface{}{
		"file_name": f.Name,
		"mime_type": mt,
	}, res.Metadata)
	if res.PageCount > 0 {
		res.Metadata["page_count"] = res.PageCount
	}
	return res, nil
}

func (e *Extractor) extractDocument(f File, mt string) (*Result, error) {
	e.mu.RLock()
	entry, ok := e.loaders[mt]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mt)
	}
	loaded, err := entry.load(f.Data)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return &Result{
		Text:       loaded.Text,
		Category:   entry.category,
		PageCount:  loaded.PageCount,
		Confidence: 1,
	}, nil
}

func (e *Extractor) extractImage(ctx context.Context, f File, mt string) (*Result, error) {
	if e.vision == nil {
		return nil, fmt.Errorf("%w: %s (vision capability not configured)", ErrUnsupportedType, mt)
	}
	ref := f.URL
	if ref == "" {
		ref = "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
	}
	reply, err := e.vision.Analyze(ctx, ref, VisionPrompt)
	if err != nil {
		return nil, fmt.Errorf("vision analysis: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		return nil, errors.New("vision analysis: empty response")
	}

	analysis, err := ParseVisionJSON(reply)
	if err != nil {
		e.logger.Debug("Vision response is not JSON, using fallback parser",
			zap.String("file", f.Name), zap.Error(err))
		analysis = ParseVisionFallback(reply)
	}
	text := BuildSearchableContent(analysis)
	if text == "" {
		text = analysis.MainDescription
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("vision analysis: no usable content in response")
	}
	analysis.SearchableContent = text

	return &Result{
		Text:        text,
		Category:    models.CategoryImage,
		Description: analysis.MainDescription,
		Confidence:  analysis.Confidence,
		Metadata: map[string]interface{}{
			"parser":     analysis.Parser,
			"confidence": analysis.Confidence,
			"text_type":  analysis.TextType,
			"vision":     analysis.Metadata(),
		},
		Vision: analysis,
	}, nil
}

var extensionTypes = map[string]string{
	".txt":  MimePlain,
	".text": MimePlain,
	".log":  MimePlain,
	".md":   MimeMarkdown,
	".csv":  MimeCSV,
	".pdf":  MimePDF,
	".docx": MimeDOCX,
	".xlsx": MimeXLSX,
	".pptx": MimePPTX,
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// DetectMimeType returns declared without parameters unless it is empty or
// application/octet-stream, in which case the type is taken from the file extension and then
// from the content.
func DetectMimeType(name string, data []byte, declared string) string {
	if mt := baseMimeType(declared); mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if mt, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return baseMimeType(http.DetectContentType(data))
}

func baseMimeType(mt string) string {
	mt = strings.TrimSpace(mt)
	if mt == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	return strings.ToLower(mt)
}
