package application

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	commands "groundcontrol/internal/commands/domain"
)

// flightQueue holds the pending commands of one flight. All reads and
// writes of entries happen under mu. acked keeps the ids of acknowledged
// commands until their issuer collects them or Prune drops them.
type flightQueue struct {
	mu      sync.Mutex
	entries []commands.Command
	acked   map[string]time.Time
}

// Queue keeps an ordered list of pending commands per flight. Each flight
// has its own lock; the table lock only guards flight lookup and creation.
type Queue struct {
	mu      sync.RWMutex
	flights map[string]*flightQueue
	now     func() time.Time
	newID   func() string
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithClock overrides the queue clock.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithIDGenerator overrides command id generation.
func WithIDGenerator(newID func() string) QueueOption {
	return func(q *Queue) {
		if newID != nil {
			q.newID = newID
		}
	}
}

// NewQueue constructs an empty queue.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		flights: make(map[string]*flightQueue),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// NewCommand builds a queued command without adding it to the queue.
func (q *Queue) NewCommand(flightID, name string, args json.RawMessage) commands.Command {
	return commands.Command{
		ID:        q.newID(),
		FlightID:  flightID,
		Name:      name,
		Args:      args,
		State:     commands.StateQueued,
		CreatedAt: q.now(),
	}
}

// Enqueue appends a new queued command. Identical commands are not merged.
func (q *Queue) Enqueue(flightID, name string, args json.RawMessage) commands.Command {
	cmd := q.NewCommand(flightID, name, args)
	q.EnqueueCommand(cmd)
	return cmd
}

// EnqueueCommand appends a prepared command in queued state.
func (q *Queue) EnqueueCommand(cmd commands.Command) {
	cmd.State = commands.StateQueued
	// The table lock is held across the append so Prune cannot drop the
	// flight between lookup and insert.
	q.mu.RLock()
	if fq, ok := q.flights[cmd.FlightID]; ok {
		fq.mu.Lock()
		fq.entries = append(fq.entries, cmd)
		fq.mu.Unlock()
		q.mu.RUnlock()
		return
	}
	q.mu.RUnlock()

	q.mu.Lock()
	defer q.mu.Unlock()
	fq, ok := q.flights[cmd.FlightID]
	if !ok {
		fq = &flightQueue{}
		q.flights[cmd.FlightID] = fq
	}
	fq.mu.Lock()
	fq.entries = append(fq.entries, cmd)
	fq.mu.Unlock()
}

// Drain marks every queued command of the flight as delivered and returns
// them in insertion order. It returns an empty slice when nothing is queued.
func (q *Queue) Drain(flightID string) []commands.Command {
	fq := q.flight(flightID)
	if fq == nil {
		return []commands.Command{}
	}
	now := q.now()
	fq.mu.Lock()
	defer fq.mu.Unlock()
	drained := make([]commands.Command, 0)
	for i := range fq.entries {
		if fq.entries[i].State != commands.StateQueued {
			continue
		}
		fq.entries[i].State = commands.StateDelivered
		fq.entries[i].DeliveredAt = &now
		drained = append(drained, fq.entries[i])
	}
	return drained
}

// Remove retracts the oldest command with the given name.
func (q *Queue) Remove(flightID, name string) (commands.Command, bool) {
	return q.removeFirst(flightID, func(cmd commands.Command) bool { return cmd.Name == name })
}

// Expire resolves an issuer's ack window for the command with the given id.
// A pending command is retracted and StateExpired is returned. A command
// acknowledged before the call returns StateAcknowledged. It returns false
// when the command is unknown, for example after an explicit retract.
func (q *Queue) Expire(flightID, id string) (commands.State, bool) {
	fq := q.flight(flightID)
	if fq == nil {
		return "", false
	}
	fq.mu.Lock()
	defer fq.mu.Unlock()
	if _, ok := fq.acked[id]; ok {
		delete(fq.acked, id)
		return commands.StateAcknowledged, true
	}
	for i, cmd := range fq.entries {
		if cmd.ID == id {
			fq.entries = append(fq.entries[:i], fq.entries[i+1:]...)
			return commands.StateExpired, true
		}
	}
	return "", false
}

// Forget drops the acknowledgment record of a command once its issuer has
// observed the ack.
func (q *Queue) Forget(flightID, id string) {
	fq := q.flight(flightID)
	if fq == nil {
		return
	}
	fq.mu.Lock()
	delete(fq.acked, id)
	fq.mu.Unlock()
}

func (q *Queue) removeFirst(flightID string, match func(commands.Command) bool) (commands.Command, bool) {
	fq := q.flight(flightID)
	if fq == nil {
		return commands.Command{}, false
	}
	fq.mu.Lock()
	defer fq.mu.Unlock()
	for i, cmd := range fq.entries {
		if !match(cmd) {
			continue
		}
		fq.entries = append(fq.entries[:i], fq.entries[i+1:]...)
		cmd.State = commands.StateExpired
		return cmd, true
	}
	return commands.Command{}, false
}

// Acknowledge resolves refs against the flight's pending commands, removes
// the matches and returns them marked acknowledged. Each entry is matched
// at most once per call; refs without a match are ignored. A name-only ref
// resolves the oldest delivered command of that name and falls back to the
// oldest queued one.
func (q *Queue) Acknowledge(flightID string, refs []commands.Ref) []commands.Command {
	acked := make([]commands.Command, 0, len(refs))
	fq := q.flight(flightID)
	if fq == nil {
		return acked
	}
	now := q.now()
	fq.mu.Lock()
	defer fq.mu.Unlock()
	for _, ref := range refs {
		i := matchIndex(fq.entries, ref)
		if i < 0 {
			continue
		}
		cmd := fq.entries[i]
		fq.entries = append(fq.entries[:i], fq.entries[i+1:]...)
		cmd.State = commands.StateAcknowledged
		acked = append(acked, cmd)
		if fq.acked == nil {
			fq.acked = make(map[string]time.Time)
		}
		fq.acked[cmd.ID] = now
	}
	return acked
}

func matchIndex(entries []commands.Command, ref commands.Ref) int {
	fallback := -1
	for i, cmd := range entries {
		if !ref.Matches(cmd) {
			continue
		}
		if ref.ID != "" || cmd.State == commands.StateDelivered {
			return i
		}
		if fallback < 0 {
			fallback = i
		}
	}
	return fallback
}

// Pending returns a snapshot of the flight's queued and delivered commands.
func (q *Queue) Pending(flightID string) []commands.Command {
	fq := q.flight(flightID)
	if fq == nil {
		return []commands.Command{}
	}
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return append([]commands.Command{}, fq.entries...)
}

// Prune drops delivered commands delivered before the cutoff, forgets
// acknowledgment records older than the cutoff and forgets flights left
// without either. It returns the number of pruned commands.
func (q *Queue) Prune(before time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	pruned := 0
	for flightID, fq := range q.flights {
		fq.mu.Lock()
		kept := fq.entries[:0]
		for _, cmd := range fq.entries {
			if cmd.State == commands.StateDelivered && cmd.DeliveredAt != nil && cmd.DeliveredAt.Before(before) {
				pruned++
				continue
			}
			kept = append(kept, cmd)
		}
		fq.entries = kept
		for id, at := range fq.acked {
			if at.Before(before) {
				delete(fq.acked, id)
			}
		}
		empty := len(kept) == 0 && len(fq.acked) == 0
		fq.mu.Unlock()
		if empty {
			delete(q.flights, flightID)
		}
	}
	return pruned
}

func (q *Queue) flight(flightID string) *flightQueue {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.flights[flightID]
}
