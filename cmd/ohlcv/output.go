package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/johnayoung/go-ohlcv-ingest/internal/acquisition"
	"github.com/johnayoung/go-ohlcv-ingest/internal/archive"
	"github.com/johnayoung/go-ohlcv-ingest/internal/calendar"
	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
	"github.com/johnayoung/go-ohlcv-ingest/internal/validator"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func toRecords(bars []models.Bar) []archive.Record {
	out := make([]archive.Record, len(bars))
	for i, b := range bars {
		out[i] = archive.FromBar(b)
	}
	return out
}

func printBars(w io.Writer, bars []models.Bar) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "TIMESTAMP\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME\t")
	for _, b := range bars {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\t%.4f\t%d\t\n",
			formatTimestamp(b.Timestamp, b.Timeframe), b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d bars\n", len(bars))
}

func formatTimestamp(t time.Time, tf models.Timeframe) string {
	if tf.IsIntraday() {
		return t.UTC().Format("2006-01-02 15:04Z")
	}
	return t.UTC().Format(time.DateOnly)
}

func printResult(w io.Writer, res *acquisition.Result) {
	resolved, unobtainable, unresolved := res.Counts()
	fmt.Fprintf(w, "%s %s %s..%s\n", res.Symbol, res.Timeframe,
		res.Start.Format(time.DateOnly), res.End.Format(time.DateOnly))
	if res.CalendarUnavailable {
		fmt.Fprintln(w, "  calendar unavailable, whole range fetched")
	} else {
		fmt.Fprintf(w, "  expected %d, already stored %d, missing %d\n", res.Expected, res.Stored, res.Missing)
	}
	fmt.Fprintf(w, "  gaps %d: resolved %d, unobtainable %d, unresolved %d\n",
		len(res.Gaps), resolved, unobtainable, unresolved)

	for _, g := range res.Gaps {
		line := fmt.Sprintf("  - %s..%s %s", formatTimestamp(g.Start, g.Timeframe), formatTimestamp(g.End, g.Timeframe), g.State)
		switch {
		case g.State == models.GapResolved:
			line += fmt.Sprintf(" via %s (%d new)", g.Provider, g.Stored)
		case g.LastError != "":
			line += ": " + g.LastError
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "  complete: %t (%s)\n", res.OK, res.Duration.Round(time.Millisecond))
}

func printBatch(w io.Writer, outcomes []acquisition.BatchOutcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tTIMEFRAME\tGAPS\tSTORED\tCOMPLETE\tERROR")
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\tfalse\t%v\n", o.Request.Symbol, o.Request.Timeframe, o.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\t\n",
			o.Result.Symbol, o.Result.Timeframe, len(o.Result.Gaps), o.Result.BarsStored, o.Result.OK)
	}
	tw.Flush()
}

func printUnobtainable(w io.Writer, ranges []models.UnobtainableRange) {
	if len(ranges) == 0 {
		fmt.Fprintln(w, "no unobtainable ranges")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tRECORDED\tREASON")
	for _, r := range ranges {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			formatTimestamp(r.Start, r.Timeframe),
			formatTimestamp(r.End, r.Timeframe),
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.Reason)
	}
	tw.Flush()
}

func printSessions(w io.Writer, exchange string, loc *time.Location, sessions []calendar.Session) {
	fmt.Fprintf(w, "%s (%s): %d sessions\n", exchange, loc, len(sessions))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tOPEN\tCLOSE\t")
	for _, s := range sessions {
		note := ""
		if s.EarlyClose {
			note = "early close"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			s.Date.Format("Mon 2006-01-02"),
			s.Open.In(loc).Format("15:04"),
			s.Close.In(loc).Format("15:04"),
			note)
	}
	tw.Flush()
}

func printReport(w io.Writer, r *validator.Report) {
	fmt.Fprintf(w, "%s %s: %d bars, %d flagged, score %.3f\n", r.Symbol, r.Timeframe, r.Bars, r.FlaggedBars, r.Score)
	if len(r.Anomalies) == 0 {
		fmt.Fprintln(w, "no anomalies")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tTYPE\tSEVERITY\tDETAIL")
	for _, a := range r.Anomalies {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", formatTimestamp(a.Timestamp, r.Timeframe), a.Type, a.Severity, a.Description)
	}
	tw.Flush()
}
