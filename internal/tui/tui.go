// Package tui renders live latency snapshots in the terminal and maps
// keystrokes to engine controls.
package tui

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"

	"github.com/aaronlmathis/pingplot/internal/monitor"
	"github.com/aaronlmathis/pingplot/internal/poller"
	"github.com/aaronlmathis/pingplot/internal/snapshot"
	"github.com/aaronlmathis/pingplot/internal/version"
)

const (
	nameWidth   = 24
	latestWidth = 10
	headerRows  = 2
)

// Controller is the engine surface the terminal UI drives
type Controller interface {
	Snapshot() snapshot.Snapshot
	Status() monitor.Status
	Start(ctx context.Context) error
	Stop()
	SetActive(endpoint string, active bool) error
	SetInterval(d time.Duration) error
	Interval() time.Duration
}

// UI is a full-screen latency chart
type UI struct {
	logger  *zap.Logger
	screen  tcell.Screen
	ctl     Controller
	refresh time.Duration
	now     func() time.Time

	message string // Last control error or notice, shown in the footer
}

// New creates a UI on an initialized screen
func New(logger *zap.Logger, screen tcell.Screen, ctl Controller, refresh time.Duration) *UI {
	if refresh <= 0 {
		refresh = time.Second
	}
	return &UI{
		logger:  logger,
		screen:  screen,
		ctl:     ctl,
		refresh: refresh,
		now:     time.Now,
	}
}

// Run redraws every refresh interval and handles keys until the user quits
// or ctx is cancelled. The screen is finalized on return.
func (u *UI) Run(ctx context.Context) error {
	defer u.screen.Fini()

	events := make(chan tcell.Event, 16)
	quit := make(chan struct{})
	defer close(quit)
	go u.screen.ChannelEvents(events, quit)

	ticker := time.NewTicker(u.refresh)
	defer ticker.Stop()

	u.Draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			u.Draw()
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventResize:
				u.screen.Sync()
			case *tcell.EventKey:
				if u.HandleKey(ctx, ev) {
					return nil
				}
			}
			u.Draw()
		}
	}
}

// HandleKey applies one keystroke and reports whether the UI should exit
func (u *UI) HandleKey(ctx context.Context, ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyRune:
	default:
		return false
	}

	r := ev.Rune()
	switch {
	case r == 'q' || r == 'Q':
		return true

	case r == 's' || r == 'S':
		if u.ctl.Status().State == "running" {
			u.ctl.Stop()
			u.notify("stopped")
		} else if err := u.ctl.Start(ctx); err != nil {
			u.fail("start", err)
		} else {
			u.notify("started")
		}

	case r >= '1' && r <= '9':
		endpoints := u.ctl.Status().Endpoints
		idx := int(r - '1')
		if idx >= len(endpoints) {
			return false
		}
		ep := endpoints[idx]
		if err := u.ctl.SetActive(ep.Name, !ep.Active); err != nil {
			u.fail("toggle", err)
		} else if ep.Active {
			u.notify(ep.Name + " paused")
		} else {
			u.notify(ep.Name + " resumed")
		}

	case r == '+' || r == '=':
		u.setInterval(u.ctl.Interval() * 2)

	case r == '-' || r == '_':
		u.setInterval(u.ctl.Interval() / 2)
	}
	return false
}

func (u *UI) setInterval(d time.Duration) {
	if d < poller.MinInterval {
		d = poller.MinInterval
	}
	if d > poller.MaxInterval {
		d = poller.MaxInterval
	}
	if err := u.ctl.SetInterval(d); err != nil {
		u.fail("interval", err)
		return
	}
	u.notify("interval " + d.String())
}

func (u *UI) notify(msg string) {
	u.message = msg
}

func (u *UI) fail(action string, err error) {
	u.logger.Warn("Control action failed", zap.String("action", action), zap.Error(err))
	u.message = action + ": " + err.Error()
}

// Draw renders the current snapshot
func (u *UI) Draw() {
	u.screen.Clear()
	width, height := u.screen.Size()

	status := u.ctl.Status()
	snap := u.ctl.Snapshot()

	drawText(u.screen, 0, 0, width, u.statusLine(status), tcell.StyleDefault.Bold(true))
	drawText(u.screen, 0, 1, width, fmt.Sprintf("   %-*s %*s", nameWidth, "endpoint", latestWidth, "latest"), tcell.StyleDefault.Underline(true))

	keys := make(map[string]int, len(status.Endpoints))
	for i, ep := range status.Endpoints {
		keys[ep.Name] = i + 1
	}

	y := headerRows
	rows := snap.Ordered()
	maxLatency := peakLatency(rows)
	for _, row := range rows {
		if y >= height-1 {
			break
		}
		u.drawRow(row, keys[row.Endpoint], y, width, maxLatency)
		y++
	}

	// Paused endpoints stay listed so they can be resumed
	for i, ep := range status.Endpoints {
		if ep.Active || y >= height-1 {
			continue
		}
		line := fmt.Sprintf("%s %-*s %*s", keyLabel(i+1), nameWidth, truncate(ep.Name, nameWidth), latestWidth, "paused")
		drawText(u.screen, 0, y, width, line, tcell.StyleDefault.Dim(true))
		y++
	}

	if snap.Empty() && y < height-1 {
		drawText(u.screen, 0, y, width, "   waiting for samples...", tcell.StyleDefault.Dim(true))
	}

	footer := "[s] start/stop  [1-9] toggle  [+/-] interval  [q] quit"
	if u.message != "" {
		footer += "  | " + u.message
	}
	drawText(u.screen, 0, height-1, width, footer, tcell.StyleDefault.Reverse(true))

	u.screen.Show()
}

func (u *UI) statusLine(status monitor.Status) string {
	last := "never"
	if status.LastSample != nil {
		last = humanize.RelTime(*status.LastSample, u.now(), "ago", "from now")
	}
	return fmt.Sprintf("%s %s  state: %s  interval: %s  last sample: %s  samples: %s",
		version.Name, version.Version, status.State, status.Interval, last,
		humanize.Comma(status.Health.TotalSamplesAdded))
}

func (u *UI) drawRow(row snapshot.EndpointSeries, key int, y, width int, maxLatency time.Duration) {
	prefix := fmt.Sprintf("%s %-*s %*s ", keyLabel(key), nameWidth, truncate(row.Endpoint, nameWidth), latestWidth, latestText(row.Latest))
	x := utf8.RuneCountInString(prefix)
	drawText(u.screen, 0, y, x, prefix, latestStyle(row.Latest))

	cells := width - x
	if cells <= 0 {
		return
	}
	values := row.Values
	if len(values) > cells {
		// Most recent values win when the strip is narrower than the window
		values = values[len(values)-cells:]
	}
	for i, v := range values {
		ch, style := cell(v, maxLatency)
		u.screen.SetContent(x+i, y, ch, nil, style)
	}
}

func keyLabel(key int) string {
	if key >= 1 && key <= 9 {
		return fmt.Sprintf("%d.", key)
	}
	return "  "
}

func latestText(v snapshot.Value) string {
	switch v.Kind {
	case snapshot.Success:
		return fmt.Sprintf("%.1f ms", float64(v.Latency)/float64(time.Millisecond))
	case snapshot.Failure:
		return "error"
	default:
		return "-"
	}
}

func latestStyle(v snapshot.Value) tcell.Style {
	if v.Kind == snapshot.Failure {
		return tcell.StyleDefault.Foreground(tcell.ColorRed)
	}
	return tcell.StyleDefault
}

var shades = []rune("▁▂▃▄▅▆▇█")

// cell returns the glyph for one aligned value. Bar height is relative to
// the slowest sample on screen; colour follows absolute latency bands.
func cell(v snapshot.Value, maxLatency time.Duration) (rune, tcell.Style) {
	switch v.Kind {
	case snapshot.Failure:
		style := tcell.StyleDefault.Foreground(tcell.ColorRed)
		if v.Carried {
			return 'x', style.Dim(true)
		}
		return 'x', style.Bold(true)
	case snapshot.Success:
		idx := len(shades) - 1
		if maxLatency > 0 {
			idx = int(int64(v.Latency) * int64(len(shades)-1) / int64(maxLatency))
		}
		if idx < 0 {
			idx = 0
		}
		style := tcell.StyleDefault.Foreground(latencyColor(v.Latency))
		if v.Carried {
			style = style.Dim(true)
		}
		return shades[idx], style
	default:
		return '.', tcell.StyleDefault.Dim(true)
	}
}

func latencyColor(d time.Duration) tcell.Color {
	switch {
	case d < 50*time.Millisecond:
		return tcell.ColorGreen
	case d < 150*time.Millisecond:
		return tcell.ColorYellow
	case d < 400*time.Millisecond:
		return tcell.ColorDarkOrange
	default:
		return tcell.ColorRed
	}
}

func peakLatency(rows []snapshot.EndpointSeries) time.Duration {
	var peak time.Duration
	for _, row := range rows {
		for _, v := range row.Values {
			if v.Kind == snapshot.Success && v.Latency > peak {
				peak = v.Latency
			}
		}
	}
	return peak
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

func drawText(screen tcell.Screen, x, y, width int, text string, style tcell.Style) {
	if width <= 0 {
		return
	}
	runes := []rune(text)
	for i := 0; i < width; i++ {
		ch := ' '
		if i < len(runes) {
			ch = runes[i]
		}
		screen.SetContent(x+i, y, ch, nil, style)
	}
}
