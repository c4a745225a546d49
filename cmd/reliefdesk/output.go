package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/c360studio/reliefdesk/derive"
	"github.com/c360studio/reliefdesk/report"
)

const timeLayout = "2006-01-02 15:04"

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecords(w io.Writer, records []report.Record, asJSON bool) error {
	if asJSON {
		if records == nil {
			records = []report.Record{}
		}
		return printJSON(w, records)
	}
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No damage reports found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tLOCATION\tREPORTED BY\tDAMAGE TIME\tIMAGES")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			r.ID,
			r.Category,
			truncate(r.Location, 40),
			truncate(r.ReportedBy, 24),
			formatTime(r),
			len(r.Images))
	}
	return tw.Flush()
}

func printRecord(w io.Writer, r report.Record, asJSON bool) error {
	if asJSON {
		return printJSON(w, r)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Type:\t%s\n", r.Category)
	fmt.Fprintf(tw, "Location:\t%s\n", r.Location)
	fmt.Fprintf(tw, "Size:\t%s\n", r.Size)
	fmt.Fprintf(tw, "Damage time:\t%s\n", formatTime(r))
	fmt.Fprintf(tw, "Reported by:\t%s\n", r.ReportedBy)
	if r.Contact != "" {
		fmt.Fprintf(tw, "Contact:\t%s\n", r.Contact)
	}
	fmt.Fprintf(tw, "Description:\t%s\n", r.Description)
	for i, img := range r.Images {
		label := "Images:"
		if i > 0 {
			label = ""
		}
		fmt.Fprintf(tw, "%s\t%s\n", label, img)
	}
	return tw.Flush()
}

// statsView is the JSON shape of the stats command.
type statsView struct {
	derive.Stats
	ByCategory map[report.Category]int `json:"by_category"`
}

func printStats(w io.Writer, s derive.Stats, counts map[report.Category]int, asJSON bool) error {
	if asJSON {
		return printJSON(w, statsView{Stats: s, ByCategory: counts})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total reports:\t%d\t%d new this week\n", s.Total, s.RecentCount)
	fmt.Fprintf(tw, "Severe damage:\t%d\trequires priority\n", s.SevereCount)
	fmt.Fprintf(tw, "Recovery rate:\t%d%%\tlast 7 days\n", s.RecoveryRate)
	fmt.Fprintln(tw)
	for _, c := range report.Categories {
		fmt.Fprintf(tw, "%s:\t%d\n", c, counts[c])
	}
	return tw.Flush()
}

func formatTime(r report.Record) string {
	if r.DamageTime.IsZero() {
		return "-"
	}
	return r.DamageTime.UTC().Format(timeLayout)
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
