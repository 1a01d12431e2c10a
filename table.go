package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"ttsforge/pipeline"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// renderOutcome prints the per-segment state of a conversion followed by
// its artifacts and a one-line summary.
func renderOutcome(out pipeline.Outcome) string {
	var b strings.Builder
	if out.Status == pipeline.StatusEmpty {
		return "No text to synthesize.\n"
	}

	rows := make([][]string, 0, len(out.Segments))
	for _, s := range out.Segments {
		size := ""
		if s.Bytes > 0 {
			size = humanize.Bytes(uint64(s.Bytes))
		}
		rows = append(rows, []string{
			strconv.Itoa(s.Index),
			string(s.State),
			strconv.Itoa(s.Attempts),
			humanize.Comma(int64(len([]rune(s.Text)))),
			size,
			trimForTable(s.LastError, 48),
		})
	}
	b.WriteString(renderTable(
		[]string{"#", "State", "Attempts", "Chars", "Audio", "Last error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
	b.WriteString("\n")

	if len(out.Artifacts) > 0 {
		b.WriteString(renderArtifacts(out.Artifacts))
	}

	res := out.Synthesis
	fmt.Fprintf(&b, "Job %s: %s (%d segments, %d resumed, %d synthesized",
		out.JobID, out.Status, len(out.Segments), len(res.Resumed), len(res.Completed))
	if len(res.FailedIndices) > 0 {
		fmt.Fprintf(&b, ", failed %v", res.FailedIndices)
	}
	if res.Cancelled {
		fmt.Fprintf(&b, ", %d drained, %d not started", len(res.DrainedAfterCancel), len(res.NotStarted))
	}
	b.WriteString(")\n")
	return b.String()
}

func renderArtifacts(arts []pipeline.MediaArtifact) string {
	rows := make([][]string, 0, len(arts))
	for _, a := range arts {
		part := ""
		if a.Part > 0 {
			part = strconv.Itoa(a.Part)
		}
		rows = append(rows, []string{
			filepath.Base(a.Path),
			string(a.Kind),
			part,
			formatSeconds(a.DurationSeconds),
		})
	}
	return renderTable(
		[]string{"File", "Kind", "Part", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
	) + "\n"
}

func formatSeconds(v float64) string {
	return (time.Duration(v * float64(time.Second))).Round(time.Second).String()
}
