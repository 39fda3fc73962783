package ui

import (
	"time"

	"github.com/gdamore/tcell/v2"

	"relaywatch/internal/conntrack"
	"relaywatch/internal/hostname"
)

// App bundles the pieces the interactive loop drives.
type App struct {
	Panel     *conntrack.Panel
	Hostnames *hostname.Resolver
	Interval  time.Duration

	allowDNS bool
}

// Run owns the terminal until the user quits: it redraws on every state
// change, refreshes the panel on a ticker (in the background, so a slow
// control port never blocks key handling) and translates navigation keys
// into panel calls.
func Run(app *App) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()

	if app.Interval <= 0 {
		app.Interval = time.Second
	}
	app.syncResolverPause(true)

	events := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	refreshDone := make(chan error, 1)
	inFlight := false
	startRefresh := func() {
		if inFlight {
			return
		}
		inFlight = true
		go func() { refreshDone <- app.Panel.Refresh() }()
	}
	startRefresh()

	tick := time.NewTicker(app.Interval)
	defer tick.Stop()

	for {
		draw(screen, app)
		screen.Show()

		select {
		case ev := <-events:
			switch tev := ev.(type) {
			case *tcell.EventResize:
				screen.Sync()
			case *tcell.EventKey:
				if !app.handleKey(screen, tev) {
					return nil
				}
			}
		case <-tick.C:
			startRefresh()
		case err := <-refreshDone:
			inFlight = false
			if err != nil {
				log.Debugf("refresh skipped: %v", err)
			}
		}
	}
}

// handleKey dispatches one key press. A false return quits.
func (app *App) handleKey(screen tcell.Screen, ev *tcell.EventKey) bool {
	page := pageHeight(screen)
	panel := app.Panel

	switch ev.Key() {
	case tcell.KeyUp:
		panel.MoveCursor(-1, page)
	case tcell.KeyDown:
		panel.MoveCursor(1, page)
	case tcell.KeyPgUp:
		panel.Page(-1, page)
	case tcell.KeyPgDn:
		panel.Page(1, page)
	case tcell.KeyEscape:
		return false
	}

	switch ev.Rune() {
	case 'q', 'Q':
		return false
	case 'p', 'P':
		panel.SetPaused(!panel.Paused())
	case 'c', 'C':
		panel.SetCursorEnabled(!panel.CursorEnabled())
	case 'l', 'L':
		app.cycleListingMode()
	case 's', 'S':
		app.cycleSortKey()
	case 'r', 'R':
		app.allowDNS = !app.allowDNS
		app.syncResolverPause(false)
	}
	return true
}

func (app *App) cycleListingMode() {
	mode := (app.Panel.Mode() + 1) % conntrack.NumListingModes
	app.Panel.SetListingMode(mode)
	app.syncResolverPause(false)
}

// cycleSortKey rotates the primary sort key; secondary and tertiary keys
// keep their configuration.
func (app *App) cycleSortKey() {
	order := app.Panel.SortOrder()
	if len(order) == 0 {
		return
	}
	order[0] = (order[0] + 1) % conntrack.NumSortKeys
	app.Panel.SetSortOrder(order)
}

// syncResolverPause keeps reverse DNS quiet unless the hostname listing
// is active and lookups are allowed.
func (app *App) syncResolverPause(initial bool) {
	if app.Hostnames == nil {
		return
	}
	if initial {
		app.allowDNS = true
	}
	active := app.allowDNS && app.Panel.Mode() == conntrack.ListByHostname
	app.Hostnames.SetPaused(!active)
}

func pageHeight(screen tcell.Screen) int {
	_, h := screen.Size()
	if h <= 1 {
		return 1
	}
	return h - 1
}
