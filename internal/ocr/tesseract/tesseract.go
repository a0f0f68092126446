// Package tesseract provides the OCR engine backed by libtesseract.
package tesseract

import (
	"context"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/comigor/zapup-go/internal/ingest"
)

type engine struct {
	client *gosseract.Client
}

// Factory returns an ingest.EngineFactory allocating one tesseract client per
// extraction, configured for languages (default "eng").
func Factory(languages ...string) ingest.EngineFactory {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return func(ctx context.Context) (ingest.Engine, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		client := gosseract.NewClient()
		if err := client.SetLanguage(languages...); err != nil {
			client.Close()
			return nil, err
		}
		return &engine{client: client}, nil
	}
}

func (e *engine) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := e.client.SetImageFromBytes(image); err != nil {
		return "", err
	}
	text, err := e.client.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (e *engine) Close() error {
	return e.client.Close()
}
