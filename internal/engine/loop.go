package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"heimgeist/internal/chronik"
)

// DefaultPollInterval is the pause between loop ticks.
const DefaultPollInterval = 5 * time.Second

// Run drives the sequential tick loop: poll the event log, process a
// matching event, then auto-execute whatever became executable. The
// loop ends after the current tick when Stop is called or the context
// is cancelled; a tick is never interrupted mid-flight.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if e.log == nil {
		return fmt.Errorf("engine: no event log configured")
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	e.logger.Info("core loop started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		e.tick(ctx)
		select {
		case <-ctx.Done():
			e.logger.Info("core loop cancelled")
			return ctx.Err()
		case <-e.stop:
			e.logger.Info("core loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop ends the loop after the tick in progress completes. Safe to
// call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Engine) tick(ctx context.Context) {
	ev, err := e.log.NextEvent(ctx, e.cfg.EventSources)
	switch {
	case errors.Is(err, chronik.ErrStalled):
		e.logger.Warn("event log stalled, yielding until next tick")
	case err != nil:
		e.logger.Error("poll event log", "error", err)
	case ev != nil:
		if _, err := e.ProcessEvent(ctx, ev); err != nil {
			e.logger.Error("process event", "id", ev.ID, "error", err)
		}
	}
	e.autoExecute(ctx)
}

// autoExecute runs every currently executable action: approved ones
// and unconfirmed pending ones.
func (e *Engine) autoExecute(ctx context.Context) {
	e.mu.Lock()
	var due []string
	for _, a := range e.actionOrder {
		if a.Executable() {
			due = append(due, a.ID)
		}
	}
	e.mu.Unlock()

	for _, id := range due {
		if _, err := e.ExecuteAction(ctx, id); err != nil {
			// raced with an operator decision; nothing to do
			e.logger.Debug("auto-execute skipped", "id", id, "error", err)
		}
	}
}
