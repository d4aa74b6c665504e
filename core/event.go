// Package core provides the fundamental building blocks of the golem ORM.
// This file defines lifecycle events and the per-engine dispatcher.
package core

import "sync"

// Event represents a lifecycle event that can be emitted by the ORM.
//
// Events are triggered after successful insert, update, delete, and find
// operations. They allow users to register custom handlers to observe or
// react to changes in the persistence layer.
type Event string

const (
	// EventInsert is emitted after records are inserted.
	EventInsert Event = "insert"
	// EventUpdate is emitted after records are updated.
	EventUpdate Event = "update"
	// EventDelete is emitted after records are deleted.
	EventDelete Event = "delete"
	// EventFind is emitted after records are retrieved.
	EventFind Event = "find"
)

// EventHandler defines the callback signature for event listeners.
// The payload argument varies depending on the event type (InsertPayload,
// UpdatePayload, DeletePayload, FindPayload).
type EventHandler func(payload any)

// EventDispatcher manages a list of event handlers and dispatches them
// when the corresponding events are emitted.
type EventDispatcher struct {
	mutex       sync.RWMutex
	handlerList map[Event][]EventHandler
}

// NewEventDispatcher creates an empty dispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{handlerList: make(map[Event][]EventHandler)}
}

// On registers an EventHandler for a specific Event.
func (d *EventDispatcher) On(event Event, handler EventHandler) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.handlerList[event] = append(d.handlerList[event], handler)
}

// Emit runs every handler registered for the event, in registration order,
// on the calling goroutine.
func (d *EventDispatcher) Emit(event Event, payload any) {
	d.mutex.RLock()
	handlerList := append([]EventHandler(nil), d.handlerList[event]...)
	d.mutex.RUnlock()
	for _, h := range handlerList {
		h(payload)
	}
}

// InsertPayload represents the payload passed to EventInsert handlers.
type InsertPayload struct {
	Model      *Model
	Connection string
	Records    []Attributes
	IDs        []any
}

// UpdatePayload represents the payload passed to EventUpdate handlers.
//
// It contains the model, the filter used for the update, and the applied changes.
type UpdatePayload struct {
	Model      *Model
	Connection string
	Filter     *Condition
	Changes    Attributes
	Count      int64
}

// DeletePayload represents the payload passed to EventDelete handlers.
type DeletePayload struct {
	Model      *Model
	Connection string
	Filter     *Condition
	Count      int64
}

// FindPayload represents the payload passed to EventFind handlers.
type FindPayload struct {
	Model      *Model
	Connection string
	Query      *Query
	Records    []*Record
}
