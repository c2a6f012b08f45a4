package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Conn is the view of the store handed to Do closures. Its methods are only
// safe inside the run loop; closures must not retain it.
type Conn struct {
	DB *sqlx.DB
	s  *Store
}

type call struct {
	id   uuid.UUID
	op   string
	fn   func(*Conn) error
	done chan error
}

// Do submits fn to the run loop and waits for the matching response. Every
// call is a round trip tagged with a correlation id; a canceled context
// rejects the waiter (the closure, once started, still runs to completion).
func (s *Store) Do(ctx context.Context, op string, fn func(*Conn) error) error {
	return s.do(ctx, op, fn)
}

func (s *Store) do(ctx context.Context, op string, fn func(*Conn) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c := call{id: uuid.New(), op: op, fn: fn, done: make(chan error, 1)}

	select {
	case s.calls <- c:
	case <-s.quit:
		return ErrNotReady
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) run() {
	for {
		select {
		case c := <-s.calls:
			start := time.Now()
			err := c.fn(&Conn{DB: s.db, s: s})
			s.log.Debug("store call",
				"op", c.op, "id", c.id.String(),
				"elapsed", time.Since(start).Round(time.Microsecond),
				"err", err)
			c.done <- err
		case <-s.quit:
			return
		}
	}
}
