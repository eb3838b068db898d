package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// memoryFeed serves a fixed newest-first window of events, paged by offset
// and limit the way the HTTP feed does.
type memoryFeed struct {
	events []Event
	calls  int
	failAt int
}

func (f *memoryFeed) Fetch(_ context.Context, _ string, offset, limit int) ([]Event, error) {
	f.calls++
	if f.failAt > 0 && f.calls >= f.failAt {
		return nil, errors.New("feed unavailable")
	}
	if offset >= len(f.events) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.events) {
		end = len(f.events)
	}
	page := make([]Event, end-offset)
	copy(page, f.events[offset:end])
	return page, nil
}

func proposalEvent(key int64) Event {
	return Event{
		Subject:    fmt.Sprintf("New proposal submitted - %d", key),
		ReceivedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func appendedKeys(result IngestResult) []int64 {
	keys := make([]int64, len(result.Appended))
	for i, record := range result.Appended {
		keys[i] = record.Key
	}
	return keys
}

func TestIngestAppendsNewEventsAboveWatermark(t *testing.T) {
	feed := &memoryFeed{events: []Event{
		proposalEvent(105),
		proposalEvent(104),
		proposalEvent(103),
		proposalEvent(102),
		proposalEvent(101),
	}}
	ledger := NewMemoryLedger()
	ledger.SeedRows([]Row{{Key: "101"}, {Key: "102"}, {Key: "103"}})

	result, err := Ingest(context.Background(), feed, ledger, IngestOptions{Query: "proposals"})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if !result.WatermarkFound {
		t.Fatalf("expected watermark to be found")
	}
	keys := appendedKeys(result)
	if len(keys) != 2 || keys[0] != 104 || keys[1] != 105 {
		t.Fatalf("appended keys = %v, want [104 105]", keys)
	}

	rows, err := ledger.Rows(context.Background())
	if err != nil {
		t.Fatalf("Rows returned error: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("ledger has %d rows, want 5", len(rows))
	}
	if rows[3].Key != "104" || rows[4].Key != "105" {
		t.Fatalf("new rows = %q, %q, want 104, 105", rows[3].Key, rows[4].Key)
	}
}

func TestIngestEmptyLedgerTakesWholeWindow(t *testing.T) {
	feed := &memoryFeed{events: []Event{
		proposalEvent(103),
		proposalEvent(102),
		proposalEvent(101),
	}}
	ledger := NewMemoryLedger()

	result, err := Ingest(context.Background(), feed, ledger, IngestOptions{Query: "proposals"})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if result.WatermarkFound {
		t.Fatalf("no watermark exists, yet it was reported found")
	}
	keys := appendedKeys(result)
	if len(keys) != 3 || keys[0] != 101 || keys[2] != 103 {
		t.Fatalf("appended keys = %v, want [101 102 103]", keys)
	}
}

func TestIngestStopsFetchingAtWatermark(t *testing.T) {
	events := make([]Event, 0, 20)
	for key := int64(120); key > 100; key-- {
		events = append(events, proposalEvent(key))
	}
	feed := &memoryFeed{events: events}
	ledger := NewMemoryLedger()
	ledger.SeedRows([]Row{{Key: "115"}})

	result, err := Ingest(context.Background(), feed, ledger, IngestOptions{Query: "proposals", PageSize: 3})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if !result.WatermarkFound {
		t.Fatalf("expected watermark to be found")
	}
	if len(result.Appended) != 5 {
		t.Fatalf("appended %d records, want 5", len(result.Appended))
	}
	// 115 sits at feed index 5, inside the second page of 3.
	if feed.calls != 2 {
		t.Fatalf("feed was called %d times, want 2", feed.calls)
	}
}

func TestIngestBoundsTotalWork(t *testing.T) {
	events := make([]Event, 0, 50)
	for key := int64(150); key > 100; key-- {
		events = append(events, proposalEvent(key))
	}
	feed := &memoryFeed{events: events}
	ledger := NewMemoryLedger()

	result, err := Ingest(context.Background(), feed, ledger, IngestOptions{
		Query:     "proposals",
		PageSize:  3,
		MaxEvents: 10,
	})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if result.TotalFetched > 10 {
		t.Fatalf("fetched %d events, want at most 10", result.TotalFetched)
	}
	if feed.calls > 4 {
		t.Fatalf("feed was called %d times, want at most ceil(10/3) = 4", feed.calls)
	}
	if len(result.Appended) != result.TotalFetched {
		t.Fatalf("appended %d, fetched %d, want equal", len(result.Appended), result.TotalFetched)
	}
}

func TestIngestSkipsUnparsedSubjects(t *testing.T) {
	feed := &memoryFeed{events: []Event{
		proposalEvent(103),
		{Subject: "Weekly digest"},
		proposalEvent(102),
		{Subject: "Maintenance window announcement"},
		proposalEvent(101),
	}}
	ledger := NewMemoryLedger()
	ledger.SeedRows([]Row{{Key: "101"}})

	result, err := Ingest(context.Background(), feed, ledger, IngestOptions{Query: "proposals"})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if result.Unparsed != 2 {
		t.Fatalf("unparsed = %d, want 2", result.Unparsed)
	}
	keys := appendedKeys(result)
	if len(keys) != 2 || keys[0] != 102 || keys[1] != 103 {
		t.Fatalf("appended keys = %v, want [102 103]", keys)
	}
}

func TestIngestEmptyFeed(t *testing.T) {
	feed := &memoryFeed{}
	ledger := NewMemoryLedger()

	result, err := Ingest(context.Background(), feed, ledger, IngestOptions{Query: "proposals"})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if len(result.Appended) != 0 || result.TotalFetched != 0 {
		t.Fatalf("expected an empty result, got %+v", result)
	}
}

func TestIngestValidatesInput(t *testing.T) {
	if _, err := Ingest(context.Background(), nil, NewMemoryLedger(), IngestOptions{Query: "q"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil feed: err = %v, want ErrInvalidInput", err)
	}
	if _, err := Ingest(context.Background(), &memoryFeed{}, nil, IngestOptions{Query: "q"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil ledger: err = %v, want ErrInvalidInput", err)
	}
	if _, err := Ingest(context.Background(), &memoryFeed{}, NewMemoryLedger(), IngestOptions{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty query: err = %v, want ErrInvalidInput", err)
	}
}

func TestIngestPropagatesFeedErrors(t *testing.T) {
	feed := &memoryFeed{events: []Event{proposalEvent(101)}, failAt: 1}
	ledger := NewMemoryLedger()

	_, err := Ingest(context.Background(), feed, ledger, IngestOptions{Query: "proposals"})
	if err == nil {
		t.Fatalf("expected an error from the failing feed")
	}
	rows, rowsErr := ledger.Rows(context.Background())
	if rowsErr != nil {
		t.Fatalf("Rows returned error: %v", rowsErr)
	}
	if len(rows) != 0 {
		t.Fatalf("ledger has %d rows after a failed run, want 0", len(rows))
	}
}
