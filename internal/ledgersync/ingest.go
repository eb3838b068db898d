package ledgersync

import (
	"context"
	"fmt"
	"strings"
)

const (
	defaultPageSize  = 50
	defaultMaxEvents = 500
)

type IngestOptions struct {
	// Query selects feed entries for ingestion.
	Query string
	// PageSize is the feed page size, capped at MaxPageSize. Zero means
	// defaultPageSize.
	PageSize int
	// MaxEvents bounds the total number of feed entries examined in one
	// run. Zero means defaultMaxEvents.
	MaxEvents int
}

type IngestResult struct {
	// Appended holds the new records in oldest-first order, as written.
	Appended []Record
	// WatermarkFound reports whether the last ledger key was seen in the
	// feed. False with a non-empty ledger means the feed no longer
	// reaches the watermark and the whole window was treated as new.
	WatermarkFound bool
	TotalFetched   int
	Pages          int
	Unparsed       int
}

// Ingest walks the feed newest-first until it sees the ledger's last key,
// then appends everything newer than that key in oldest-first order. An
// empty ledger makes the whole fetched window new.
func Ingest(ctx context.Context, feed FeedSource, ledger Ledger, opts IngestOptions) (IngestResult, error) {
	var result IngestResult
	if feed == nil || ledger == nil {
		return result, fmt.Errorf("%w: feed and ledger are required", ErrInvalidInput)
	}
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return result, fmt.Errorf("%w: ingest query is required", ErrInvalidInput)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	maxEvents := opts.MaxEvents
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	lastKey, hasLast, err := ledger.LastKey(ctx)
	if err != nil {
		return result, fmt.Errorf("read ledger watermark: %w", err)
	}
	watermark := strings.TrimSpace(lastKey)
	hasWatermark := hasLast && watermark != ""

	var collected []Record
	watermarkAt := -1
	offset := 0
	for result.TotalFetched < maxEvents && watermarkAt < 0 {
		limit := pageSize
		if remaining := maxEvents - result.TotalFetched; remaining < limit {
			limit = remaining
		}
		events, fetchErr := feed.Fetch(ctx, query, offset, limit)
		if fetchErr != nil {
			return result, fmt.Errorf("fetch feed page at offset %d: %w", offset, fetchErr)
		}
		if len(events) == 0 {
			break
		}
		result.Pages++
		result.TotalFetched += len(events)
		offset += len(events)
		for _, event := range events {
			key, ok := ExtractProposalKey(event.Subject)
			if !ok {
				result.Unparsed++
				continue
			}
			if hasWatermark && KeyText(key) == watermark {
				watermarkAt = len(collected)
				break
			}
			collected = append(collected, Record{
				Key:        key,
				ReceivedAt: event.ReceivedAt,
			})
		}
		// A short page means the feed is exhausted.
		if len(events) < limit {
			break
		}
	}

	newest := collected
	if watermarkAt >= 0 {
		result.WatermarkFound = true
		newest = collected[:watermarkAt]
	}
	if len(newest) == 0 {
		return result, nil
	}

	// The feed is newest-first; the ledger appends oldest-first.
	result.Appended = make([]Record, 0, len(newest))
	for i := len(newest) - 1; i >= 0; i-- {
		result.Appended = append(result.Appended, newest[i])
	}
	if err := ledger.Append(ctx, result.Appended); err != nil {
		result.Appended = nil
		return result, fmt.Errorf("append %d ledger rows: %w", len(newest), err)
	}
	return result, nil
}
