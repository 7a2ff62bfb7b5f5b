// Package events defines the lifecycle notifications emitted by the cache,
// the rate limiter and the warmup registry, and the listeners that consume
// them.
//
// Every event carries exactly one payload struct. The set of payload types is
// closed: consumers type-switch on [Event.Payload] and the compiler checks the
// cases.
package events

import "time"

// Type names a lifecycle event.
type Type string

const (
	CacheSet           Type = "cache.set"
	CacheHit           Type = "cache.hit"
	CacheDeleted       Type = "cache.deleted"
	CacheCleared       Type = "cache.cleared"
	CacheCleanup       Type = "cache.cleanup"
	TagInvalidated     Type = "cache.invalidated.tag"
	PatternInvalidated Type = "cache.invalidated.pattern"
	RateLimitExceeded  Type = "cache.ratelimit.exceeded"
	TTLUpdated         Type = "cache.ttl.updated"
	PatternCreated     Type = "cache.pattern.created"
	WarmupStarted      Type = "cache.warmup.started"
	WarmupCompleted    Type = "cache.warmup.completed"
	WarmupFailed       Type = "cache.warmup.failed"
)

// Event is a single notification.
type Event struct {
	Type    Type      `json:"type"`
	Time    time.Time `json:"time"`
	Payload Payload   `json:"payload"`
}

// New builds an Event whose Type is derived from the payload.
func New(at time.Time, p Payload) Event {
	return Event{Type: p.eventType(), Time: at, Payload: p}
}

// Payload is implemented by the payload structs of this package only.
type Payload interface {
	eventType() Type
}

// RemovalReason tells the removal paths of an entry apart.
type RemovalReason string

const (
	ReasonDeleted     RemovalReason = "deleted"
	ReasonInvalidated RemovalReason = "invalidated"
	ReasonExpired     RemovalReason = "expired"
	ReasonEvicted     RemovalReason = "evicted"
)

type SetPayload struct {
	Key   string        `json:"key"`
	Tags  []string      `json:"tags,omitempty"`
	Layer string        `json:"layer"`
	TTL   time.Duration `json:"ttl"`
	Size  int64         `json:"size"`
}

type HitPayload struct {
	Key string `json:"key"`
}

type DeletedPayload struct {
	Key    string        `json:"key"`
	Reason RemovalReason `json:"reason"`
}

type ClearedPayload struct {
	Count int `json:"count"`
}

type CleanupPayload struct {
	Count int `json:"count"`
}

type TagInvalidatedPayload struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

type PatternInvalidatedPayload struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

type RateLimitExceededPayload struct {
	Key          string    `json:"key"`
	Count        int       `json:"count"`
	MaxRequests  int       `json:"max_requests"`
	BlockedUntil time.Time `json:"blocked_until,omitzero"`
}

type TTLUpdatedPayload struct {
	Key string        `json:"key"`
	TTL time.Duration `json:"ttl"`
}

type PatternCreatedPayload struct {
	PatternID string `json:"pattern_id"`
	Name      string `json:"name"`
}

// WarmupPayload is shared by the three warmup events; Phase selects which.
type WarmupPayload struct {
	Phase         Type   `json:"-"`
	TaskID        string `json:"task_id"`
	PatternID     string `json:"pattern_id"`
	EntriesWarmed int    `json:"entries_warmed"`
	Error         string `json:"error,omitempty"`
}

func (SetPayload) eventType() Type                { return CacheSet }
func (HitPayload) eventType() Type                { return CacheHit }
func (DeletedPayload) eventType() Type            { return CacheDeleted }
func (ClearedPayload) eventType() Type            { return CacheCleared }
func (CleanupPayload) eventType() Type            { return CacheCleanup }
func (TagInvalidatedPayload) eventType() Type     { return TagInvalidated }
func (PatternInvalidatedPayload) eventType() Type { return PatternInvalidated }
func (RateLimitExceededPayload) eventType() Type  { return RateLimitExceeded }
func (TTLUpdatedPayload) eventType() Type         { return TTLUpdated }
func (PatternCreatedPayload) eventType() Type     { return PatternCreated }
func (p WarmupPayload) eventType() Type           { return p.Phase }
