package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	commandsevents "groundcontrol/internal/commands/application/events"
	commands "groundcontrol/internal/commands/domain"
	"groundcontrol/internal/eventing"
	"groundcontrol/internal/observability/metrics"
)

const (
	// DefaultPollTimeout is how long a device poll waits for new commands.
	DefaultPollTimeout = 10 * time.Second
	// DefaultAckTimeout is how long an issuer waits for the device to acknowledge.
	DefaultAckTimeout = 5 * time.Second
)

// ErrNotReceived is returned when the device did not acknowledge a command
// within the ack window. The command has been retracted from the queue.
var ErrNotReceived = errors.New("commands: command not received by device")

// Service brokers commands between operators and devices.
type Service struct {
	queue       *Queue
	bus         eventing.EventBus
	logger      *log.Logger
	pollTimeout time.Duration
	ackTimeout  time.Duration
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPollTimeout overrides the device poll window.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

// WithAckTimeout overrides the operator acknowledgment window.
func WithAckTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ackTimeout = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a command service.
func NewService(queue *Queue, bus eventing.EventBus, opts ...Option) (*Service, error) {
	if queue == nil {
		return nil, errors.New("commands: nil queue")
	}
	if bus == nil {
		return nil, errors.New("commands: nil bus")
	}
	s := &Service{
		queue:       queue,
		bus:         bus,
		logger:      log.Default(),
		pollTimeout: DefaultPollTimeout,
		ackTimeout:  DefaultAckTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Queue exposes the underlying queue.
func (s *Service) Queue() *Queue {
	return s.queue
}

// Issue enqueues a command and waits for the device to acknowledge it.
// On ack window expiry the command is retracted and ErrNotReceived is
// returned. If ctx ends first the command stays queued and ctx.Err() is
// returned.
func (s *Service) Issue(ctx context.Context, flightID, name string, args json.RawMessage) (commands.Command, error) {
	cmd := s.queue.NewCommand(flightID, name, args)
	if err := cmd.Validate(); err != nil {
		return commands.Command{}, err
	}

	acks, unsubscribe := eventing.SubscribeChan(s.bus, func(evt commandsevents.CommandsAcknowledged) bool {
		return evt.FlightID == flightID && evt.Contains(cmd.ID)
	}, 1)
	defer unsubscribe()

	s.queue.EnqueueCommand(cmd)
	metrics.IncCommandIssued()
	if err := s.publishEnqueued(ctx, flightID, []commands.Command{cmd}); err != nil {
		s.logger.Printf("commands: publish enqueued: flight=%s command=%s: %v", flightID, cmd.ID, err)
	}

	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()

	select {
	case <-acks:
		s.queue.Forget(flightID, cmd.ID)
		return s.acknowledged(cmd), nil
	case <-timer.C:
		// The ack may have taken the entry before its event was published.
		state, _ := s.queue.Expire(flightID, cmd.ID)
		if state == commands.StateAcknowledged {
			return s.acknowledged(cmd), nil
		}
		removed := state == commands.StateExpired
		s.logger.Printf("commands: ack timeout: flight=%s command=%s name=%s retracted=%t", flightID, cmd.ID, name, removed)
		metrics.IncCommandResult(metrics.CommandResultTimeout)
		cmd.State = commands.StateExpired
		return cmd, ErrNotReceived
	case <-ctx.Done():
		metrics.IncCommandResult(metrics.CommandResultCancelled)
		return cmd, ctx.Err()
	}
}

func (s *Service) acknowledged(cmd commands.Command) commands.Command {
	metrics.IncCommandResult(metrics.CommandResultAcked)
	metrics.ObserveCommandRoundtrip(s.now().Sub(cmd.CreatedAt))
	cmd.State = commands.StateAcknowledged
	return cmd
}

// Poll returns the queued commands of a flight, marking them delivered.
// When none are queued it waits up to the poll window for new ones and
// returns an empty slice on expiry.
func (s *Service) Poll(ctx context.Context, flightID string) ([]commands.Command, error) {
	// Subscribe before the first drain so an enqueue landing in between
	// still wakes this poll.
	wake, unsubscribe := eventing.SubscribeChan(s.bus, func(evt commandsevents.CommandsEnqueued) bool {
		return evt.FlightID == flightID
	}, 1)
	defer unsubscribe()

	if drained := s.queue.Drain(flightID); len(drained) > 0 {
		metrics.IncPoll(metrics.PollResultDelivered)
		return drained, nil
	}

	timer := time.NewTimer(s.pollTimeout)
	defer timer.Stop()

	for {
		select {
		case <-wake:
			// Another poll may have drained first; keep waiting then.
			if drained := s.queue.Drain(flightID); len(drained) > 0 {
				metrics.IncPoll(metrics.PollResultDelivered)
				return drained, nil
			}
		case <-timer.C:
			metrics.IncPoll(metrics.PollResultEmpty)
			return []commands.Command{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Acknowledge marks commands executed by the device and wakes their issuers.
func (s *Service) Acknowledge(ctx context.Context, flightID string, refs []commands.Ref) ([]commands.Command, error) {
	if flightID == "" {
		return nil, commands.ErrEmptyFlightID
	}
	acked := s.queue.Acknowledge(flightID, refs)
	if len(acked) == 0 {
		return acked, nil
	}
	event := commandsevents.CommandsAcknowledged{
		EventID:    uuid.NewString(),
		FlightID:   flightID,
		Commands:   commands.Deliveries(acked),
		OccurredAt: s.now(),
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		return acked, err
	}
	return acked, nil
}

// Retract removes the oldest pending command with the given name.
func (s *Service) Retract(flightID, name string) (commands.Command, bool) {
	return s.queue.Remove(flightID, name)
}

// Pending lists queued and delivered commands for a flight.
func (s *Service) Pending(flightID string) []commands.Command {
	return s.queue.Pending(flightID)
}

// PruneDelivered drops delivered commands older than the retention window.
func (s *Service) PruneDelivered(retention time.Duration) int {
	count := s.queue.Prune(s.now().Add(-retention))
	metrics.AddCommandsPruned(count)
	return count
}

func (s *Service) publishEnqueued(ctx context.Context, flightID string, cmds []commands.Command) error {
	event := commandsevents.CommandsEnqueued{
		EventID:    uuid.NewString(),
		FlightID:   flightID,
		Commands:   commands.Deliveries(cmds),
		OccurredAt: s.now(),
	}
	return s.bus.Publish(context.WithoutCancel(ctx), event)
}
