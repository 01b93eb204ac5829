package engine

import (
	"context"
	"errors"
	"log"
	"time"
)

// wireEventHandlers sets up the event chain:
// CommandSent/CommandFailed → command log
// MapChanged → persist the working map
// LinkStateChanged → log
func (e *Engine) wireEventHandlers() {
	e.Events.SubscribeTypes(func(evt Event) {
		e.handleCommand(evt)
	}, EventCommandSent, EventCommandFailed)

	e.Events.SubscribeTypes(func(evt Event) {
		e.handleMapChanged()
	}, EventMapChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		p := evt.Payload.(LinkStateEvent)
		e.logFn("link: %s -> %s (%s)", p.OldState, p.NewState, p.Device)
	}, EventLinkStateChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		p := evt.Payload.(SnapshotEvent)
		e.debugFn("telemetry: %s", p.Snapshot)
	}, EventSnapshot)
}

func (e *Engine) handleCommand(evt Event) {
	if e.db == nil {
		return
	}
	p := evt.Payload.(CommandEvent)
	var cause error
	if evt.Type == EventCommandFailed {
		cause = errors.New(p.Kind + ": " + p.Error)
	}
	if err := e.db.LogCommand(p.Endpoint, e.linkMgr.Device(), []byte(p.Payload), cause); err != nil {
		log.Printf("log command %s: %v", p.Endpoint, err)
	}
}

// handleMapChanged saves every committed edit so a restart resumes where
// the editor left off.
func (e *Engine) handleMapChanged() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.maps.Save(ctx); err != nil {
		log.Printf("persist platform map: %v", err)
	}
}
