package ledgersync

import (
	"context"
	"fmt"
	"strings"
)

const defaultChunkSize = 50

// DefaultCompletionMarker is written to the status column of a matched row.
const DefaultCompletionMarker = "ok"

type ScanOptions struct {
	// Query selects completion notifications in the feed.
	Query string
	// ChunkSize is the number of feed entries processed per chunk. Values
	// above MaxPageSize are fetched across several feed pages. Zero means
	// defaultChunkSize.
	ChunkSize int
	// MaxEvents bounds the total number of feed entries examined. Zero
	// means defaultMaxEvents.
	MaxEvents int
	// Marker is the status value written to completed rows. Empty means
	// DefaultCompletionMarker.
	Marker string
}

type ScanResult struct {
	// UpdatedKeys lists the proposal keys whose rows were marked in this
	// run, in the order the updates were applied.
	UpdatedKeys     []int64
	TotalFetched    int
	ChunksProcessed int
	Unparsed        int
	Orphans         int
	AlreadyMarked   int
}

// MarkCompleted scans completion notifications newest-first and stamps the
// matching ledger rows with the marker. Rows already carrying the marker
// are counted but never rewritten, so the scan is idempotent. A chunk whose
// parsed keys produce no new updates ends the run early: older chunks can
// only repeat work already done.
func MarkCompleted(ctx context.Context, feed FeedSource, ledger Ledger, opts ScanOptions) (ScanResult, error) {
	var result ScanResult
	if feed == nil || ledger == nil {
		return result, fmt.Errorf("%w: feed and ledger are required", ErrInvalidInput)
	}
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return result, fmt.Errorf("%w: completion query is required", ErrInvalidInput)
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	maxEvents := opts.MaxEvents
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}
	marker := opts.Marker
	if marker == "" {
		marker = DefaultCompletionMarker
	}

	rows, err := ledger.Rows(ctx)
	if err != nil {
		return result, fmt.Errorf("load ledger rows: %w", err)
	}

	offset := 0
	exhausted := false
	for !exhausted && result.TotalFetched < maxEvents {
		want := chunkSize
		if remaining := maxEvents - result.TotalFetched; remaining < want {
			want = remaining
		}
		var chunk []Event
		for len(chunk) < want {
			limit := want - len(chunk)
			if limit > MaxPageSize {
				limit = MaxPageSize
			}
			events, fetchErr := feed.Fetch(ctx, query, offset, limit)
			if fetchErr != nil {
				return result, fmt.Errorf("fetch feed page at offset %d: %w", offset, fetchErr)
			}
			chunk = append(chunk, events...)
			offset += len(events)
			if len(events) < limit {
				exhausted = true
				break
			}
		}
		if len(chunk) == 0 {
			break
		}
		result.ChunksProcessed++
		result.TotalFetched += len(chunk)

		extracted := 0
		updatedInChunk := 0
		for _, event := range chunk {
			key, rowAt, outcome := classifyCompletion(rows, event.Subject)
			switch outcome {
			case OutcomeUnparsed:
				result.Unparsed++
				continue
			case OutcomeOrphan:
				extracted++
				result.Orphans++
				continue
			}
			extracted++
			if rows[rowAt].Status == marker {
				result.AlreadyMarked++
				continue
			}
			if err := ledger.SetStatus(ctx, rows[rowAt].Index, marker); err != nil {
				return result, fmt.Errorf("mark row %d complete: %w", rows[rowAt].Index, err)
			}
			rows[rowAt].Status = marker
			result.UpdatedKeys = append(result.UpdatedKeys, key)
			updatedInChunk++
		}
		if extracted > 0 && updatedInChunk == 0 {
			break
		}
	}
	return result, nil
}

// classifyCompletion resolves one completion subject against the row
// snapshot. Resolution is first-match-wins over ascending row order, with
// row key cells matched as trimmed text against the canonical decimal form.
func classifyCompletion(rows []Row, subject string) (key int64, rowAt int, outcome EventOutcome) {
	key, ok := ExtractCompletionKey(subject)
	if !ok {
		return 0, -1, OutcomeUnparsed
	}
	keyText := KeyText(key)
	for i := range rows {
		if strings.TrimSpace(rows[i].Key) == keyText {
			return key, i, OutcomeMatched
		}
	}
	return key, -1, OutcomeOrphan
}
