package convert

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"sumi/internal/apperr"
	"sumi/internal/model"
)

const (
	batchWorkers    = 10
	batchURLTimeout = 60 * time.Second
)

// BatchItem is one slot of a batch response; either Result or Error is
// set, in the position of the submitted URL.
type BatchItem struct {
	URL    string        `json:"url"`
	Result *model.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Batch converts every URL with a bounded worker pool, preserving the
// input order. Individual failures land in their slot instead of
// failing the batch; unparseable URLs are rejected up front without
// occupying a worker.
func (c *Converter) Batch(ctx context.Context, logger *slog.Logger, urls []string, opts model.Options) []BatchItem {
	items := make([]BatchItem, len(urls))

	pending := make([]int, 0, len(urls))
	for i, raw := range urls {
		if !validTarget(raw) {
			items[i] = BatchItem{URL: raw, Error: "Invalid URL"}
			continue
		}
		pending = append(pending, i)
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	workers := batchWorkers
	if len(pending) < workers {
		workers = len(pending)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n := int(next.Add(1)) - 1
				if n >= len(pending) {
					return
				}
				i := pending[n]
				items[i] = c.batchOne(ctx, logger, urls[i], opts)
			}
		}()
	}
	wg.Wait()
	return items
}

func validTarget(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (c *Converter) batchOne(ctx context.Context, logger *slog.Logger, rawURL string, opts model.Options) BatchItem {
	uctx, cancel := context.WithTimeout(ctx, batchURLTimeout)
	defer cancel()

	result, _, err := c.Convert(uctx, logger, rawURL, opts)
	if err != nil {
		return BatchItem{URL: rawURL, Error: apperr.Sanitize(err.Error())}
	}
	return BatchItem{URL: rawURL, Result: result}
}
