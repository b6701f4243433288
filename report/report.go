// Package report renders measurement cycles for a human watching a terminal
// or for a spreadsheet.
package report

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/mklimuk/sunrise/controller"
)

type Format string

const (
	FormatText Format = "text"
	FormatCSV  Format = "csv"
)

var ErrUnknownFormat = fmt.Errorf("report: unknown format")

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// New returns the reporter for format writing to w.
func New(w io.Writer, format Format) (controller.Reporter, error) {
	switch format {
	case FormatText:
		return NewText(w), nil
	case FormatCSV:
		return NewCSV(w), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

var (
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	white  = color.New(color.FgHiWhite).SprintFunc()
)

// Text prints one block per cycle with every result register.
type Text struct {
	mx sync.Mutex
	w  io.Writer
}

func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

func (t *Text) Report(c controller.Cycle) {
	t.mx.Lock()
	defer t.mx.Unlock()
	var b strings.Builder
	b.WriteString("Measuring...\n")
	fmt.Fprintf(&b, "Hour count:    %d", c.SensorHours)
	if c.HoursCorrected {
		fmt.Fprintf(&b, " => %s", yellow(c.HourCount))
	}
	b.WriteString("\n")

	switch c.Outcome {
	case controller.OutcomeMeasured:
		m := c.Measurement
		fmt.Fprintf(&b, "Duration:      %d\n", c.Duration)
		fmt.Fprintf(&b, "Time:          %d\n", c.Start)
		fmt.Fprintf(&b, "Error status:  %b", uint16(m.ErrorStatus))
		if m.ErrorStatus != 0 {
			fmt.Fprintf(&b, " (%s)", yellow(m.ErrorStatus))
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "CO2:           %s\n", white(m.CO2))
		fmt.Fprintf(&b, "Temperature:   %.2f\n", m.Temperature)
		fmt.Fprintf(&b, "CO2 UP:        %d\n", m.CO2UP)
		fmt.Fprintf(&b, "CO2 F:         %d\n", m.CO2F)
		fmt.Fprintf(&b, "CO2 U:         %d\n", m.CO2U)
		fmt.Fprintf(&b, "Count:         %d\n", m.Count)
		fmt.Fprintf(&b, "Cycle time:    %s\n", m.CycleTime)
	case controller.OutcomeReadFailed:
		fmt.Fprintf(&b, "Duration:      %d\n", c.Duration)
		fmt.Fprintf(&b, "%s\n", red("*** ERROR: Reading measurement"))
	case controller.OutcomeReadyTimeout:
		fmt.Fprintf(&b, "%s\n", red("*** ERROR: ready signal timeout"))
	case controller.OutcomeStartFailed:
		fmt.Fprintf(&b, "%s\n", red("*** ERROR: Starting single measurement"))
	}
	b.WriteString("\n")
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		slog.Error("could not write report", "error", err)
	}
	logFailure(c)
}

// CSV prints time;co2;temperature;errorstatus; for every successful cycle.
// Failed cycles are logged only so that the stream stays machine readable.
type CSV struct {
	mx sync.Mutex
	w  io.Writer
}

func NewCSV(w io.Writer) *CSV {
	return &CSV{w: w}
}

func (r *CSV) Report(c controller.Cycle) {
	logFailure(c)
	if c.Outcome != controller.OutcomeMeasured {
		return
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	m := c.Measurement
	_, err := fmt.Fprintf(r.w, "%d;%d;%.2f;%d;\n", c.Start, m.CO2, m.Temperature, uint16(m.ErrorStatus))
	if err != nil {
		slog.Error("could not write report", "error", err)
	}
}

func logFailure(c controller.Cycle) {
	if c.Outcome == controller.OutcomeMeasured {
		return
	}
	slog.Warn("measurement cycle failed", "outcome", c.Outcome.String(), "error", c.Err, "next", c.Next)
}
