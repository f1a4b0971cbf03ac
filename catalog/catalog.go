// Package catalog maintains the registry of known webhook event types.
//
// The catalog is consulted at registration time: a webhook may only
// subscribe to event names the catalog knows about. Dispatch itself stays
// agnostic — an event name with no subscribers simply fans out to zero
// webhooks.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Event names emitted by the recruiting domain.
const (
	ApplicationReceived      = "application.received"
	ApplicationStatusChanged = "application.status_changed"
	ApplicationHired         = "application.hired"
	ApplicationRejected      = "application.rejected"
	JobCreated               = "job.created"
	JobUpdated               = "job.updated"
	JobPublished             = "job.published"
	JobArchived              = "job.archived"
	JobDeleted               = "job.deleted"
	Ping                     = "ping"
)

// ErrUnknownEvent is returned when a subscription names an event type
// that is not registered in the catalog.
var ErrUnknownEvent = errors.New("catalog: unknown event type")

// EventType describes a registered webhook event type.
type EventType struct {
	// Name is the dot-separated event type name (e.g. "application.received").
	Name string `json:"name"`

	// Description is a human-readable summary of when the event fires.
	Description string `json:"description,omitempty"`

	// Schema is an optional JSON Schema for the event's data payload.
	// When set, dispatch rejects payloads that fail validation.
	Schema json.RawMessage `json:"schema,omitempty"`
}

// Catalog is a concurrency-safe registry of event types.
type Catalog struct {
	mu        sync.RWMutex
	types     map[string]EventType
	validator *Validator
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		types:     make(map[string]EventType),
		validator: NewValidator(),
	}
}

// Default returns a catalog preloaded with every event type the
// recruiting domain emits.
func Default() *Catalog {
	c := New()
	for name, desc := range map[string]string{
		ApplicationReceived:      "a new application was submitted",
		ApplicationStatusChanged: "an application moved to a different status",
		ApplicationHired:         "an application was marked hired",
		ApplicationRejected:      "an application was rejected",
		JobCreated:               "a job posting was created",
		JobUpdated:               "a job posting was updated",
		JobPublished:             "a job posting went live",
		JobArchived:              "a job posting was taken offline",
		JobDeleted:               "a job posting was deleted",
		Ping:                     "operator-triggered endpoint diagnostic",
	} {
		c.types[name] = EventType{Name: name, Description: desc}
	}
	return c
}

// Register adds or replaces an event type. If the type carries a schema,
// it is compiled eagerly so malformed schemas fail here, not at dispatch.
func (c *Catalog) Register(et EventType) error {
	if et.Name == "" {
		return errors.New("catalog: event type name is required")
	}
	if len(et.Schema) > 0 {
		if err := c.validator.Compile(et.Schema); err != nil {
			return fmt.Errorf("catalog: register %s: %w", et.Name, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[et.Name] = et
	return nil
}

// Get returns the event type registered under the given name.
func (c *Catalog) Get(name string) (EventType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	et, ok := c.types[name]
	return et, ok
}

// Has reports whether the given event name is registered.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.types[name]
	return ok
}

// Names returns all registered event names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateSubscription checks that every event name in the subscription
// set is registered. Unknown names are reported via ErrUnknownEvent.
func (c *Catalog) ValidateSubscription(events []string) error {
	for _, name := range events {
		if !c.Has(name) {
			return fmt.Errorf("%w: %s", ErrUnknownEvent, name)
		}
	}
	return nil
}

// ValidateData validates event data against the type's schema, if any.
// Events without a registered schema (or not in the catalog at all) pass.
func (c *Catalog) ValidateData(event string, data map[string]any) error {
	c.mu.RLock()
	et, ok := c.types[event]
	c.mu.RUnlock()

	if !ok || len(et.Schema) == 0 {
		return nil
	}
	return c.validator.Validate(et.Schema, data)
}
