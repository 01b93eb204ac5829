package gatt

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"robolink/fault"
)

// Queue serializes every operation issued on the physical link. Most link
// controllers cannot run two GATT operations at once, so reads and writes
// from all callers take the single slot in turn. A timed-out operation
// gives the slot up while it may still be running on the link.
type Queue struct {
	sem     chan struct{}
	timeout time.Duration

	ops      atomic.Int64
	timeouts atomic.Int64
}

// QueueStats is a point-in-time view of queue counters.
type QueueStats struct {
	Ops      int64 `json:"ops"`
	Timeouts int64 `json:"timeouts"`
}

// NewQueue creates a queue that bounds each operation by timeout.
// A zero timeout leaves operations bounded only by the caller's context.
func NewQueue(timeout time.Duration) *Queue {
	return &Queue{
		sem:     make(chan struct{}, 1),
		timeout: timeout,
	}
}

// Do waits for the slot, then runs fn under the operation deadline. If the
// deadline passes first, Do releases the slot and returns a Timeout error;
// whatever fn eventually returns is discarded.
func (q *Queue) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	select {
	case q.sem <- struct{}{}:
	case <-ctx.Done():
		return q.ctxErr(op, ctx.Err())
	}
	defer func() { <-q.sem }()
	q.ops.Add(1)

	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return q.ctxErr(op, ctx.Err())
	}
}

func (q *Queue) ctxErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		q.timeouts.Add(1)
		return fault.New(fault.Timeout, op, err)
	}
	return fault.New(fault.TransportDisconnected, op, err)
}

// Stats returns the queue counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{Ops: q.ops.Load(), Timeouts: q.timeouts.Load()}
}

// Serialize wraps l so that every Read and Write goes through q.
func Serialize(l Link, q *Queue) Link {
	return &serialLink{Link: l, q: q}
}

type serialLink struct {
	Link
	q *Queue
}

func (s *serialLink) Read(ctx context.Context, ch Channel) ([]byte, error) {
	var out []byte
	err := s.q.Do(ctx, "read "+ch.UUID(), func(ctx context.Context) error {
		b, err := s.Link.Read(ctx, ch)
		out = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *serialLink) Write(ctx context.Context, ch Channel, data []byte, withResponse bool) error {
	return s.q.Do(ctx, "write "+ch.UUID(), func(ctx context.Context) error {
		return s.Link.Write(ctx, ch, data, withResponse)
	})
}
