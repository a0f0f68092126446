// Package ingest turns an uploaded attachment into text: OCR for images,
// UTF-8 decoding for everything else.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	apperrors "github.com/comigor/zapup-go/internal/errors"
	"github.com/comigor/zapup-go/internal/logger"
)

// Category is the coarse mime category that decides the extraction path.
type Category int

const (
	CategoryText Category = iota
	CategoryImage
)

func (c Category) String() string {
	if c == CategoryImage {
		return "image"
	}
	return "text"
}

// Labels placed before the extracted text in the outgoing prompt.
const (
	ImageLabel = "Extracted Text from Image:"
	FileLabel  = "File Content:"
)

// Label returns the prompt label for c.
func Label(c Category) string {
	if c == CategoryImage {
		return ImageLabel
	}
	return FileLabel
}

// Attachment is a file uploaded alongside one query. It lives only for that submission.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Category uses the declared content type, sniffing the bytes when none was given.
func (a Attachment) Category() Category {
	ct := a.ContentType
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(a.Data)
	}
	if strings.HasPrefix(strings.ToLower(ct), "image/") {
		return CategoryImage
	}
	return CategoryText
}

// Engine recognizes text in one image. Close releases whatever the engine holds.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
	Close() error
}

// EngineFactory allocates a fresh OCR engine for one extraction.
type EngineFactory func(ctx context.Context) (Engine, error)

// ErrNoEngine is reported when images are uploaded but no OCR engine is configured.
var ErrNoEngine = errors.New("no OCR engine configured")

// Ingestor extracts text from attachments.
type Ingestor struct {
	newEngine EngineFactory
	maxBytes  int64
}

// New creates an Ingestor. A nil factory makes image extraction fail with
// ErrNoEngine; maxBytes <= 0 disables the size check.
func New(newEngine EngineFactory, maxBytes int64) *Ingestor {
	return &Ingestor{newEngine: newEngine, maxBytes: maxBytes}
}

// Extract returns the attachment text. Errors are *apperrors.AttachmentError.
func (i *Ingestor) Extract(ctx context.Context, att Attachment) (string, error) {
	if i.maxBytes > 0 && int64(len(att.Data)) > i.maxBytes {
		return "", apperrors.NewReadError(att.Name, fmt.Errorf("file is %d bytes, limit is %d", len(att.Data), i.maxBytes))
	}
	if att.Category() == CategoryImage {
		return i.recognize(ctx, att)
	}
	return decodeText(att)
}

func (i *Ingestor) recognize(ctx context.Context, att Attachment) (text string, err error) {
	if i.newEngine == nil {
		return "", apperrors.NewOCRError(att.Name, ErrNoEngine)
	}
	engine, err := i.newEngine(ctx)
	if err != nil {
		return "", apperrors.NewOCRError(att.Name, err)
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			logger.L.Warn("ocr engine release failed", "file", att.Name, "error", cerr)
		}
	}()

	text, err = engine.Recognize(ctx, att.Data)
	if err != nil {
		return "", apperrors.NewOCRError(att.Name, err)
	}
	logger.L.Debug("ocr finished", "file", att.Name, "chars", len(text))
	return text, nil
}

// decodeText reads the bytes as UTF-8. A UTF-8 or UTF-16 byte order mark
// switches the decoder accordingly and is stripped.
func decodeText(att Attachment) (string, error) {
	dec := transform.Chain(unicode.BOMOverride(encoding.Nop.NewDecoder()), encoding.UTF8Validator)
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(att.Data), dec))
	if errors.Is(err, encoding.ErrInvalidUTF8) {
		return "", apperrors.NewReadError(att.Name, errors.New("content is not valid UTF-8 text"))
	}
	if err != nil {
		return "", apperrors.NewReadError(att.Name, err)
	}
	return string(out), nil
}
