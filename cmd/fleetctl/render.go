package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"printfleet/dashboard-server/internal/live"
	"printfleet/dashboard-server/internal/model"
	"printfleet/dashboard-server/internal/view"
)

func renderPrinters(w io.Writer, st live.State[model.Printer]) {
	if st.Err != nil {
		fmt.Fprintf(w, "error [%s]: %s\n", st.Err.Code, st.Err.Message)
		return
	}

	s := view.SummarizePrinters(st.Items)
	fmt.Fprintf(w, "%d printers, %d online, %d offline\n", s.Total, s.Online, s.Offline)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tLOCATION\tSTATUS\tURL")
	for _, p := range st.Items {
		status := "offline"
		if p.IsOnline {
			status = "online"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Label, p.Location, status, p.URL)
	}
	_ = tw.Flush()
	fmt.Fprintln(w)
}

func renderLogs(w io.Writer, st live.State[model.LogEntry], filter view.LogFilter) {
	if st.Err != nil {
		fmt.Fprintf(w, "error [%s]: %s\n", st.Err.Code, st.Err.Message)
		return
	}

	counts := view.CountLogs(st.Items)
	shown := view.FilterLogs(st.Items, filter)
	fmt.Fprintf(w, "%d of %d entries (info %d, success %d, warning %d, error %d)\n",
		len(shown), counts.Total,
		counts.ByLevel[model.LevelInfo], counts.ByLevel[model.LevelSuccess],
		counts.ByLevel[model.LevelWarning], counts.ByLevel[model.LevelError])

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range shown {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Time.Local().Format(time.DateTime), e.Level, e.Message)
	}
	_ = tw.Flush()
	fmt.Fprintln(w)
}
