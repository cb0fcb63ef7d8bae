// Package outbox delivers outgoing private messages in order, one at a time,
// and applies the configured failure policy.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/moely/inbox/internal/bus"
	"github.com/moely/inbox/internal/gateway"
	"github.com/moely/inbox/internal/model"
	"go.uber.org/zap"
)

var (
	ErrStopped   = errors.New("outbox: sender stopped")
	ErrQueueFull = errors.New("outbox: queue full")
)

// Policy decides what happens to an optimistic entry whose insert failed.
type Policy string

const (
	// Keep leaves the entry visible and marks it failed.
	Keep Policy = "keep"
	// Retract removes the entry from the transcript.
	Retract Policy = "retract"
	// Retry re-attempts with backoff, then behaves like Keep.
	Retry Policy = "retry"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case Keep, Retract, Retry:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown send failure policy %q (want keep, retract or retry)", s)
	}
}

// Job is one message to insert.
type Job struct {
	ID       string
	Sender   string
	Receiver string
	Content  string
}

// Result reports the outcome of a job.
type Result struct {
	Job       Job
	Err       error
	Attempts  int
	Retracted bool
}

// Options tunes a Sender.
type Options struct {
	Policy      Policy
	MaxAttempts int
	// Timeout bounds each insert attempt.
	Timeout time.Duration
	// RetryInitial is the first retry delay.
	RetryInitial time.Duration
	QueueSize    int
}

type queued struct {
	job  Job
	done func(Result)
}

// Sender drains the queue into private_messages.
type Sender struct {
	gw     gateway.Gateway
	bus    *bus.Bus
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	queue   chan queued
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(gw gateway.Gateway, b *bus.Bus, opts Options, logger *zap.Logger) *Sender {
	if opts.Policy == "" {
		opts.Policy = Keep
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 200 * time.Millisecond
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		gw:     gw,
		bus:    b,
		opts:   opts,
		logger: logger.Named("outbox"),
	}
}

// Start begins draining the queue.
func (s *Sender) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.queue = make(chan queued, s.opts.QueueSize)
	s.stopped = make(chan struct{})
	go s.loop(ctx, s.queue, s.stopped)
}

// Stop stops the sender and waits for the job in flight. The job in flight,
// unless it already landed, and every queued job complete with ErrStopped.
func (s *Sender) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.queue, s.cancel, s.stopped = nil, nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-stopped
	}
}

// Enqueue schedules job. done is called once from the sender goroutine.
func (s *Sender) Enqueue(job Job, done func(Result)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return ErrStopped
	}
	select {
	case s.queue <- queued{job: job, done: done}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Sender) loop(ctx context.Context, queue <-chan queued, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		select {
		case q := <-queue:
			res := s.deliver(ctx, q.job)
			if res.Err != nil && ctx.Err() != nil {
				res.Err = ErrStopped
			}
			s.finish(q, res)
			if ctx.Err() != nil {
				s.abandon(queue)
				return
			}
		case <-ctx.Done():
			s.abandon(queue)
			return
		}
	}
}

// abandon fails every job still queued. Enqueue no longer writes to queue
// once Stop has cleared it.
func (s *Sender) abandon(queue <-chan queued) {
	for {
		select {
		case q := <-queue:
			s.finish(q, Result{Job: q.job, Err: ErrStopped, Retracted: s.opts.Policy == Retract})
		default:
			return
		}
	}
}

func (s *Sender) finish(q queued, res Result) {
	s.report(res)
	if q.done != nil {
		q.done(res)
	}
}

func (s *Sender) deliver(ctx context.Context, job Job) Result {
	res := Result{Job: job}
	attempt := func() error {
		res.Attempts++
		actx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
		err := s.gw.Insert(actx, gateway.PrivateMessages, gateway.Row{
			model.FieldID:         job.ID,
			model.FieldSenderID:   job.Sender,
			model.FieldReceiverID: job.Receiver,
			model.FieldContent:    job.Content,
		})
		if err != nil && s.landed(ctx, job.ID) {
			// The row committed even though the call reported failure.
			return nil
		}
		return err
	}

	if s.opts.Policy == Retry {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = s.opts.RetryInitial
		bo.MaxElapsedTime = 0
		policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.opts.MaxAttempts-1)), ctx)
		res.Err = backoff.Retry(attempt, policy)
	} else {
		res.Err = attempt()
	}
	if res.Err != nil && s.opts.Policy == Retract {
		res.Retracted = true
	}
	return res
}

func (s *Sender) landed(ctx context.Context, id string) bool {
	cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	n, err := s.gw.Count(cctx, gateway.PrivateMessages, gateway.Where(gateway.Eq(model.FieldID, id)))
	return err == nil && n > 0
}

func (s *Sender) report(res Result) {
	if res.Err != nil {
		s.logger.Error("failed to send message",
			zap.Error(res.Err),
			zap.String("client_msg_id", res.Job.ID),
			zap.Int("attempts", res.Attempts),
			zap.Bool("retracted", res.Retracted))
		if s.bus != nil {
			s.bus.Publish(bus.NewEvent(bus.KindSendFailed, res))
		}
		return
	}
	s.logger.Info("message sent", zap.String("client_msg_id", res.Job.ID), zap.Int("attempts", res.Attempts))
	if s.bus != nil {
		s.bus.Publish(bus.NewEvent(bus.KindSendAck, res))
	}
}
