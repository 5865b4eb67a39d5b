package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/gphotos-sync/internal/sync"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatSize returns a human-readable size string (e.g. "1.2 MiB").
func formatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}

	return humanize.IBytes(uint64(bytes))
}

// formatTime returns a compact timestamp followed by its age.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	layout := "Jan _2 15:04"
	if t.Year() != time.Now().Year() {
		layout = "Jan _2  2006"
	}

	return t.Local().Format(layout) + " (" + humanize.Time(t) + ")"
}

// formatElapsed rounds a pass duration for display.
func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(time.Second / 10).String()
	}
}

// printReport writes the end-of-pass summary and one row per failed file.
func printReport(w io.Writer, r *sync.Report) {
	fmt.Fprintf(w, "Uploaded %s (%s), skipped %s already uploaded (%s), %s, %s in %s\n",
		plural(r.Uploaded, "file"), formatSize(r.UploadedBytes),
		humanize.Comma(int64(r.Skipped)), formatSize(r.SkippedBytes),
		plural(r.Duplicates, "duplicate"),
		plural(len(r.Failed), "failure"),
		formatElapsed(r.Elapsed),
	)

	if len(r.Failed) == 0 {
		return
	}

	rows := make([][]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		rows = append(rows, []string{f.Path, f.Stage, f.Err.Error()})
	}

	fmt.Fprintln(w)
	printTable(w, []string{"PATH", "STAGE", "ERROR"}, rows)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}

	return humanize.Comma(int64(n)) + " " + noun + "s"
}

// reportJSON is the --json form of a pass report.
type reportJSON struct {
	PassID        string        `json:"pass_id"`
	Candidates    int           `json:"candidates"`
	Uploaded      int           `json:"uploaded"`
	UploadedBytes int64         `json:"uploaded_bytes"`
	Skipped       int           `json:"skipped"`
	SkippedBytes  int64         `json:"skipped_bytes"`
	Duplicates    int           `json:"duplicates"`
	Batches       int           `json:"batches"`
	ElapsedMS     int64         `json:"elapsed_ms"`
	Failed        []failureJSON `json:"failed"`
}

type failureJSON struct {
	Path  string `json:"path"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

func printReportJSON(w io.Writer, r *sync.Report) error {
	out := reportJSON{
		PassID:        r.PassID,
		Candidates:    r.Candidates,
		Uploaded:      r.Uploaded,
		UploadedBytes: r.UploadedBytes,
		Skipped:       r.Skipped,
		SkippedBytes:  r.SkippedBytes,
		Duplicates:    r.Duplicates,
		Batches:       r.Batches,
		ElapsedMS:     r.Elapsed.Milliseconds(),
		Failed:        make([]failureJSON, 0, len(r.Failed)),
	}

	for _, f := range r.Failed {
		out.Failed = append(out.Failed, failureJSON{Path: f.Path, Stage: f.Stage, Error: f.Err.Error()})
	}

	return writeJSON(w, out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row. The last column is not padded.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		if i == len(cells)-1 {
			parts[i] = cell
			continue
		}

		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}
