package ledgersync

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
)

// RunSummary aggregates the counters of one ingest or scan invocation for
// reporting.
type RunSummary struct {
	RunID          string
	Mode           string
	Duration       time.Duration
	AppendedKeys   []int64
	UpdatedKeys    []int64
	TotalFetched   int
	Pages          int
	Chunks         int
	Unparsed       int
	Orphans        int
	AlreadyMarked  int
	WatermarkFound bool
}

func NewRunSummary(mode string) RunSummary {
	return RunSummary{
		RunID: uuid.NewString(),
		Mode:  mode,
	}
}

func (s *RunSummary) RecordIngest(result IngestResult) {
	for _, record := range result.Appended {
		s.AppendedKeys = append(s.AppendedKeys, record.Key)
	}
	s.TotalFetched += result.TotalFetched
	s.Pages += result.Pages
	s.Unparsed += result.Unparsed
	s.WatermarkFound = result.WatermarkFound
}

func (s *RunSummary) RecordScan(result ScanResult) {
	s.UpdatedKeys = append(s.UpdatedKeys, result.UpdatedKeys...)
	s.TotalFetched += result.TotalFetched
	s.Chunks += result.ChunksProcessed
	s.Unparsed += result.Unparsed
	s.Orphans += result.Orphans
	s.AlreadyMarked += result.AlreadyMarked
}

var summaryHeader = table.Row{
	"Run ID",
	"Mode",
	"Duration",
	"Fetched",
	"Appended",
	"Updated",
	"Unparsed",
	"Orphans",
	"Already Marked",
}

// Render formats the summary as a text table for the command line.
func (s *RunSummary) Render() string {
	summaryTable := table.NewWriter()
	summaryTable.SetStyle(table.StyleLight)
	summaryTable.AppendHeader(summaryHeader)
	summaryTable.AppendRow(table.Row{
		s.RunID,
		s.Mode,
		s.Duration.Round(time.Millisecond).String(),
		s.TotalFetched,
		formatKeys(s.AppendedKeys),
		formatKeys(s.UpdatedKeys),
		s.Unparsed,
		s.Orphans,
		s.AlreadyMarked,
	})
	return summaryTable.Render()
}

func formatKeys(keys []int64) string {
	if len(keys) == 0 {
		return "0"
	}
	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = KeyText(key)
	}
	return fmt.Sprintf("%d (%s)", len(keys), strings.Join(parts, ", "))
}
