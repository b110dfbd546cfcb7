package docs

import (
	"context"

	"sumi/internal/apperr"
	"sumi/internal/fetch"
)

// Convert decodes a fetched document payload into Markdown.
func Convert(ctx context.Context, data []byte, format fetch.DocFormat, srcURL string) (string, error) {
	switch format {
	case fetch.FormatPDF:
		return convertPDF(ctx, data)
	case fetch.FormatDOCX:
		return convertDOCX(data, srcURL)
	case fetch.FormatXLSX:
		return convertXLSX(data)
	case fetch.FormatCSV:
		return convertCSV(data)
	default:
		return "", apperr.New(apperr.KindUnsupportedContentType, "unsupported document format %q", format)
	}
}
