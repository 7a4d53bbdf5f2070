// Package ui provides terminal user interface components.
package ui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apexwatch/client/internal/metrics"
	"github.com/apexwatch/client/internal/store"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Source is the read side of the client. *session.Supervisor satisfies it.
type Source interface {
	Subscribe(fn store.Subscriber) (unsubscribe func())
	Snapshot() store.ClientState
	SessionID() string
}

// App is the main TUI application.
type App struct {
	app    *tview.Application
	layout *tview.Flex

	// Views
	performance    *PerformanceView
	signals        *SignalsView
	signalAlerter  *SignalAlerterView
	statsDashboard *StatsDashboardView

	// Data sources
	source         Source
	metricsTracker *metrics.Tracker
	refreshRate    time.Duration

	// Latest state from the subscription, coalesced between draws
	mu      sync.Mutex
	latest  store.ClientState
	pending chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates a new TUI application. tracker may be nil.
func NewApp(source Source, tracker *metrics.Tracker, refreshRate time.Duration) *App {
	ctx, cancel := context.WithCancel(context.Background())

	if refreshRate <= 0 {
		refreshRate = 500 * time.Millisecond
	}

	app := &App{
		app:            tview.NewApplication(),
		source:         source,
		metricsTracker: tracker,
		refreshRate:    refreshRate,
		latest:         source.Snapshot(),
		pending:        make(chan struct{}, 1),
		ctx:            ctx,
		cancel:         cancel,
	}

	// Initialize views
	app.performance = NewPerformanceView()
	app.signals = NewSignalsView()
	app.signalAlerter = NewSignalAlerterView()
	app.statsDashboard = NewStatsDashboardView()

	app.setupLayout()
	app.setupKeyboard()

	return app
}

// setupLayout creates the panel layout.
func (a *App) setupLayout() {
	// Bottom row: New Signals (left) | Stream Health (right)
	bottomRow := tview.NewFlex().
		AddItem(a.signalAlerter.Widget(), 0, 2, false).
		AddItem(a.statsDashboard.Widget(), 0, 1, false)

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.performance.Widget(), 5, 0, false).
		AddItem(a.signals.Widget(), 0, 3, false).
		AddItem(bottomRow, 0, 2, false)

	a.app.SetRoot(a.layout, true)
}

// setupKeyboard configures keyboard shortcuts.
func (a *App) setupKeyboard() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			a.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				a.Stop()
				return nil
			case 'r', 'R':
				a.refresh()
				return nil
			}
		}
		return event
	})
}

// Run starts the TUI application (blocking).
func (a *App) Run() error {
	unsubscribe := a.source.Subscribe(a.onState)
	defer unsubscribe()

	a.render(a.source.Snapshot())

	go a.renderLoop()
	go a.updateLoop()

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("app run failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// onState runs on the ingest goroutine. It only stores the state and never
// waits for the screen.
func (a *App) onState(state store.ClientState) {
	a.mu.Lock()
	a.latest = state
	a.mu.Unlock()

	select {
	case a.pending <- struct{}{}:
	default:
	}
}

// renderLoop draws the most recent state whenever a new one arrives.
func (a *App) renderLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.pending:
			a.mu.Lock()
			state := a.latest
			a.mu.Unlock()

			a.app.QueueUpdateDraw(func() {
				a.render(state)
			})
		}
	}
}

// render updates the state-driven views. Must run on the UI goroutine or before Run.
func (a *App) render(state store.ClientState) {
	a.performance.Update(state, a.source.SessionID())
	a.signals.Update(state)
	a.signalAlerter.Observe(state, time.Now())
}

// updateLoop periodically refreshes time-based text and ingest metrics.
func (a *App) updateLoop() {
	ticker := time.NewTicker(a.refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.refresh()
		}
	}
}

// refresh redraws the views that depend on the clock.
func (a *App) refresh() {
	a.mu.Lock()
	state := a.latest
	a.mu.Unlock()

	var snapshot metrics.Snapshot
	if a.metricsTracker != nil {
		snapshot = a.metricsTracker.Snapshot()
	}

	a.app.QueueUpdateDraw(func() {
		a.performance.Update(state, a.source.SessionID())
		if a.metricsTracker != nil {
			a.statsDashboard.Update(snapshot)
		}
	})
}
