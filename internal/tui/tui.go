// Package tui is the operator dashboard for the "top" CLI command: a
// termui table refreshed on a tick, read entirely from
// ResourceManager.Snapshot (§4.N). It never touches event-loop or
// publication internals directly.
package tui

import (
	"fmt"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/reactorlink/reactorlink/internal/resourcemanager"
)

// Run renders a live table of event loop activity until 'q' or Ctrl-C is
// pressed, polling rm.Snapshot() at refresh.
func Run(rm *resourcemanager.ResourceManager, refresh time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("tui: init: %w", err)
	}
	defer ui.Close()

	table := widgets.NewTable()
	table.Title = "reactorlink"
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowSeparator = true
	table.SetRect(0, 0, 72, 12)

	render := func() {
		snap := rm.Snapshot()
		rows := [][]string{
			{"loop", "tick work"},
		}
		for _, l := range snap.Loops {
			rows = append(rows, []string{fmt.Sprintf("%d", l.ID), fmt.Sprintf("%d", l.TickWork)})
		}
		table.Rows = rows
		table.Title = fmt.Sprintf("reactorlink — driver=%s breaker=%s sessions=%d",
			snap.DriverDir, snap.BreakerState, snap.KnownSessions)
		ui.Render(table)
	}

	render()

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	events := ui.PollEvents()
	for {
		select {
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			}
		case <-ticker.C:
			render()
		}
	}
}
