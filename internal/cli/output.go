package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"prefork.dev/internal/process"
	"prefork.dev/internal/supervisor"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// isTerminal returns true if the given file is a terminal.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// color wraps text in ANSI color if stderr is a terminal.
func color(code, text string) string {
	if !isTerminal(os.Stderr) {
		return text
	}
	return code + text + colorReset
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", color(colorRed, "Error:"), err)
}

// printRunning prints the pidfile view of a live supervisor.
func printRunning(w io.Writer, data *process.PIDFileData) {
	fmt.Fprintf(w, "%s  PID %d  up %s\n",
		color(colorGreen+colorBold, "[RUNNING]"),
		data.PID,
		humanize.Time(data.StartTime))
	fmt.Fprintf(w, "%s %s\n", color(colorDim, "Run:"), data.RunID)
	if data.ControlAddr != "" {
		fmt.Fprintf(w, "%s %s\n", color(colorDim, "Control:"), data.ControlAddr)
	}
}

// printStopped prints the status of a supervisor that is not running.
func printStopped(w io.Writer, reason string) {
	if reason == "" {
		fmt.Fprintf(w, "%s\n", color(colorYellow+colorBold, "[STOPPED]"))
		return
	}
	fmt.Fprintf(w, "%s %s\n", color(colorYellow+colorBold, "[STOPPED]"), reason)
}

// printSnapshot prints pool stats followed by a table of slots.
func printSnapshot(w io.Writer, snap supervisor.PoolSnapshot, now time.Time) {
	accepting := color(colorGreen, "accepting")
	if !snap.Accepting {
		accepting = color(colorYellow, "draining")
	}
	fmt.Fprintf(w, "%s %d workers, generation %d, %s\n",
		color(colorCyan+colorBold, "Pool:"),
		snap.Workers, snap.Generation, accepting)
	fmt.Fprintf(w, "%s %s jobs since %s\n",
		color(colorDim, "Jobs:"),
		humanize.Comma(int64(snap.Jobs)),
		humanize.Time(snap.StartedAt))

	if len(snap.Slots) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tPID\tSTATE\tUPTIME\tHEARTBEAT\tJOBS\tRESPAWNS")
	for _, s := range snap.Slots {
		state := "up"
		if !s.Alive {
			state = "down"
		}
		uptime := "-"
		if s.Alive && !s.StartedAt.IsZero() {
			uptime = formatDuration(now.Sub(s.StartedAt))
		}
		heartbeat := "-"
		if !s.Heartbeat.IsZero() {
			heartbeat = formatDuration(now.Sub(s.Heartbeat)) + " ago"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%d\n",
			s.Slot, s.PID, state, uptime, heartbeat, humanize.Comma(int64(s.Jobs)), s.Respawns)
	}
	tw.Flush()
}

// formatDuration formats a duration for human display.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
