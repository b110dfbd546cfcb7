package docs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"sumi/internal/apperr"
)

const pdfTimeout = 30 * time.Second

// convertPDF extracts plain text from a PDF under a hard timeout.
// Scanned or image-only documents with under 20 characters of text
// fail as not extractable.
func convertPDF(ctx context.Context, data []byte) (string, error) {
	type outcome struct {
		pages int
		text  string
		err   error
	}

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("pdf reader panic: %v", r)}
			}
		}()
		pages, text, err := extractPDFText(data)
		ch <- outcome{pages: pages, text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", apperr.New(apperr.KindTimeout, "PDF extraction timed out")
	case <-time.After(pdfTimeout):
		return "", apperr.New(apperr.KindTimeout, "PDF extraction timed out")
	case out := <-ch:
		if out.err != nil {
			return "", apperr.New(apperr.KindDocumentConversion, "PDF extraction failed")
		}
		text := strings.TrimSpace(out.text)
		if len(text) < 20 {
			return "", apperr.New(apperr.KindDocumentConversion, "PDF contains no extractable text")
		}
		return fmt.Sprintf("**Pages:** %d\n\n---\n\n%s", out.pages, text), nil
	}
}

func extractPDFText(data []byte) (int, string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, "", err
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return 0, "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return 0, "", err
	}
	return r.NumPage(), buf.String(), nil
}
