// Package session is the unit of work of the persistence layer. A
// Session loads entities into its persistence context, tracks changes to
// them and writes the changes when it is flushed.
//
//	factory, err := session.NewFactory(mm, drv, session.WithSettings(settings))
//	if err != nil {
//		return err
//	}
//	s := factory.OpenSession()
//	defer s.Close()
//	tx, err := s.Begin(ctx)
//	if err != nil {
//		return err
//	}
//	order, err := s.Get(ctx, "Order", 1)
//	if err != nil {
//		return errors.Join(err, tx.Rollback())
//	}
//	order.Set("customer", "alice")
//	return tx.Commit(ctx)
//
// Sessions are not safe for concurrent use.
package session

import (
	"context"
	"log/slog"

	"github.com/syssam/persist"
	"github.com/syssam/persist/action"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/engine"

	"github.com/google/uuid"
)

// FlushMode controls when a session flushes on its own.
type FlushMode int

// Flush modes.
const (
	// FlushAuto flushes before queries touching modified tables and on
	// commit.
	FlushAuto FlushMode = iota
	// FlushCommit flushes on commit only.
	FlushCommit
	// FlushManual flushes only when Flush is called.
	FlushManual
)

// String returns the name of the mode.
func (m FlushMode) String() string {
	switch m {
	case FlushAuto:
		return "AUTO"
	case FlushCommit:
		return "COMMIT"
	case FlushManual:
		return "MANUAL"
	}
	return "UNKNOWN"
}

// Option configures a Session.
type Option func(*Session)

// WithFlushMode sets the flush mode. FlushAuto is the default.
func WithFlushMode(m FlushMode) Option {
	return func(s *Session) { s.flushMode = m }
}

// Session is a unit of work: an identity map of the instances it loaded or
// persisted and the queue of changes to write on flush.
type Session struct {
	factory   *Factory
	id        uuid.UUID
	pc        *engine.PersistenceContext
	queue     *action.Queue
	logger    *slog.Logger
	flushMode FlushMode

	tx *Transaction
	// post holds the context changes applied once a flush executed.
	post   []func()
	closed bool
}

func newSession(f *Factory, opts ...Option) *Session {
	id := uuid.New()
	logger := f.logger.With("session", id.String())
	s := &Session{
		factory: f,
		id:      id,
		pc:      engine.NewPersistenceContext(),
		queue:   action.NewQueue(action.WithLogger(logger)),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the identifier of the session.
func (s *Session) ID() uuid.UUID { return s.id }

// FlushMode returns the flush mode.
func (s *Session) FlushMode() FlushMode { return s.flushMode }

// SetFlushMode changes the flush mode.
func (s *Session) SetFlushMode(m FlushMode) { s.flushMode = m }

// PersistenceContext returns the persistence context of the session.
func (s *Session) PersistenceContext() *engine.PersistenceContext { return s.pc }

func (s *Session) checkOpen() error {
	if s.closed {
		return persist.ErrSessionClosed
	}
	return nil
}

// conn returns the connection statements run on: the transaction when one
// is active, the driver otherwise.
func (s *Session) conn() dialect.ExecQuerier {
	if s.tx != nil {
		return s.tx.tx
	}
	return s.factory.driver
}

// statementContext attaches the configured query timeout.
func (s *Session) statementContext(ctx context.Context) context.Context {
	if d := s.factory.settings.QueryTimeout; d > 0 {
		if _, ok := sql.QueryTimeoutFromContext(ctx); !ok {
			return sql.WithQueryTimeout(ctx, d)
		}
	}
	return ctx
}

func (s *Session) executor() *action.Executor {
	return &action.Executor{
		Conn:     s.conn(),
		Dialect:  s.factory.dialect,
		Resolver: s.factory.mm,
		Logger:   s.logger,
	}
}

// Contains reports whether e is managed by the session.
func (s *Session) Contains(e *engine.Entity) bool {
	if s.closed || e == nil {
		return false
	}
	entry := s.pc.Entry(e)
	return entry != nil && entry.Status != engine.StatusDeleted && entry.Status != engine.StatusGone
}

// Evict detaches e from the session. Its collections are detached too and
// pending changes to them are not flushed.
func (s *Session) Evict(e *engine.Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	entry := s.pc.Entry(e)
	if entry == nil {
		return nil
	}
	s.evictCollections(e, entry.Persister)
	s.pc.RemoveEntity(e)
	return nil
}

// Clear detaches every instance and drops scheduled work.
func (s *Session) Clear() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.pc.Clear()
	s.queue.Clear()
	return nil
}

// Close releases the session. An active transaction is rolled back.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	var err error
	if s.tx != nil {
		err = s.tx.Rollback()
	}
	s.pc.Clear()
	s.queue.Clear()
	s.closed = true
	return err
}
