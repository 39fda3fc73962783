package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"

	"relaywatch/internal/conntrack"
)

var categoryStyles = map[conntrack.Category]tcell.Style{
	conntrack.Inbound:   tcell.StyleDefault.Foreground(tcell.ColorGreen),
	conntrack.Outbound:  tcell.StyleDefault.Foreground(tcell.ColorBlue),
	conntrack.Client:    tcell.StyleDefault.Foreground(tcell.ColorAqua),
	conntrack.Directory: tcell.StyleDefault.Foreground(tcell.ColorPurple),
	conntrack.Control:   tcell.StyleDefault.Foreground(tcell.ColorRed),
	conntrack.Localhost: tcell.StyleDefault.Foreground(tcell.ColorYellow),
}

var countLabels = [conntrack.NumCounted]string{
	"inbound", "outbound", "client", "directory", "control",
}

func draw(screen tcell.Screen, app *App) {
	screen.Clear()
	w, h := screen.Size()
	v := app.Panel.View(pageHeight(screen))

	putString(screen, 0, 0, tcell.StyleDefault.Bold(true), truncate(header(v), w))

	y := 1
	for i := v.Scroll; i < len(v.Conns) && y < h; i++ {
		c := v.Conns[i]
		style := categoryStyles[c.Category]
		if i == v.Cursor {
			style = style.Reverse(true)
		}
		putString(screen, 0, y, style, truncate(app.line(c, v), w))
		y++
	}
}

// header notes the per-category counts above zero, the way the listing
// has always labeled itself.
func header(v conntrack.View) string {
	var parts []string
	for i, n := range v.Counts {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, countLabels[i]))
		}
	}
	label := "Connections"
	if len(parts) > 0 {
		label += " (" + strings.Join(parts, ", ") + ")"
	}
	if v.Paused {
		label += " [paused]"
	}
	return label + ":"
}

// line renders one connection row under the active listing mode. Inbound
// rows read remote-to-local; everything else local-to-remote.
func (app *App) line(c *conntrack.Conn, v conntrack.View) string {
	local := fmt.Sprintf("%s:%d", c.LocalAddr, c.LocalPort)
	remote := fmt.Sprintf("%s:%d", c.RemoteAddr, c.RemotePort)
	if c.Category != conntrack.Control {
		remote += fmt.Sprintf(" (%s)", c.Country)
	}

	var etc string
	switch v.Mode {
	case conntrack.ListByHostname:
		if host := app.Hostnames.Resolve(c.RemoteAddr); host != "" {
			remote = fmt.Sprintf("%s:%d", host, c.RemotePort)
		}
		fp, _ := app.Panel.Identity(c.RemoteAddr, c.RemotePort)
		etc = fmt.Sprintf("%-40s", fp)
	case conntrack.ListByFingerprint:
		fp, nick := app.Panel.Identity(c.RemoteAddr, c.RemotePort)
		if c.Category == conntrack.Control {
			fp = "localhost"
		}
		local, remote = "localhost", fmt.Sprintf("%-40s", fp)
		etc = nick
	case conntrack.ListByNickname:
		_, nick := app.Panel.Identity(c.RemoteAddr, c.RemotePort)
		if c.Category == conntrack.Control {
			nick = app.Panel.Nickname()
		}
		local, remote = app.Panel.Nickname(), nick
	default:
		fp, nick := app.Panel.Identity(c.RemoteAddr, c.RemotePort)
		etc = fmt.Sprintf("%-40s  %s", fp, nick)
	}

	src, dst := local, remote
	if c.Category == conntrack.Inbound {
		src, dst = dst, src
	}
	return fmt.Sprintf("%-26s  -->  %-26s  %s %5s (%s)",
		src, dst, etc, timeLabel(v.Now.Sub(c.FirstSeen)), strings.ToUpper(c.Category.String()))
}

// timeLabel condenses a duration to its most significant unit.
func timeLabel(d time.Duration) string {
	s := int(d.Seconds())
	switch {
	case s < 0:
		return "0s"
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm", s/60)
	case s < 86400:
		return fmt.Sprintf("%dh", s/3600)
	default:
		return fmt.Sprintf("%dd", s/86400)
	}
}

func putString(s tcell.Screen, x, y int, style tcell.Style, text string) {
	for i, r := range text {
		s.SetContent(x+i, y, r, nil, style)
	}
}

func truncate(s string, w int) string {
	if w <= 0 || len(s) <= w {
		return s
	}
	if w <= 3 {
		return s[:w]
	}
	return s[:w-3] + "..."
}
