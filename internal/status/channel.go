package status

import (
	"sync"
	"time"

	"github.com/angelmondragon/fhe-autopay/pkg/enums"
)

const subscriberBuffer = 16

// Status is the single-slot operation status surfaced to users.
type Status struct {
	Phase     enums.StatusPhase `json:"phase"`
	Message   string            `json:"message"`
	Operation enums.Operation   `json:"operation,omitempty"`
	RecordID  string            `json:"record_id,omitempty"`
	At        time.Time         `json:"at"`
}

// Channel holds the latest status. Every Publish overwrites the slot and fans
// out to subscribers; a subscriber that falls behind misses events.
type Channel struct {
	now func() time.Time

	mu      sync.RWMutex
	current *Status
	nextID  int
	subs    map[int]chan Status
}

// NewChannel builds an empty status channel.
func NewChannel() *Channel {
	return &Channel{
		now:  time.Now,
		subs: make(map[int]chan Status),
	}
}

// Publish overwrites the slot.
func (c *Channel) Publish(s Status) {
	if s.At.IsZero() {
		s.At = c.now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	stored := s
	c.current = &stored
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Pending, Success and Error are shorthands over Publish.
func (c *Channel) Pending(op enums.Operation, recordID, message string) {
	c.Publish(Status{Phase: enums.StatusPhasePending, Operation: op, RecordID: recordID, Message: message})
}

func (c *Channel) Success(op enums.Operation, recordID, message string) {
	c.Publish(Status{Phase: enums.StatusPhaseSuccess, Operation: op, RecordID: recordID, Message: message})
}

func (c *Channel) Error(op enums.Operation, recordID, message string) {
	c.Publish(Status{Phase: enums.StatusPhaseError, Operation: op, RecordID: recordID, Message: message})
}

// Current returns the latest status, if any.
func (c *Channel) Current() (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Status{}, false
	}
	return *c.current, true
}

// Subscribe returns a buffered feed of future statuses and a func that
// detaches it. The feed is closed on unsubscribe.
func (c *Channel) Subscribe() (<-chan Status, func()) {
	return c.SubscribeBuffered(subscriberBuffer)
}

// SubscribeBuffered is Subscribe with a caller-sized feed buffer.
func (c *Channel) SubscribeBuffered(size int) (<-chan Status, func()) {
	if size < 1 {
		size = subscriberBuffer
	}
	ch := make(chan Status, size)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}
