package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syssam/persist"
	"github.com/syssam/persist/cache"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/engine"
)

// Transaction is a database transaction of a session.
type Transaction struct {
	s       *Session
	tx      dialect.Tx
	started time.Time
	// written are the cache entries written by flushes of the transaction,
	// evicted again when it rolls back.
	written []cachedKey
	done    bool
}

type cachedKey struct {
	access cache.Access
	key    any
}

// Begin starts a transaction. Statements of the session run in it until it
// commits or rolls back.
func (s *Session) Begin(ctx context.Context) (*Transaction, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.tx != nil {
		return nil, persist.NewIllegalStateError("session %s already has an active transaction", s.id)
	}
	tx, err := s.factory.driver.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: begin: %w", err)
	}
	s.tx = &Transaction{s: s, tx: tx, started: time.Now()}
	s.logger.DebugContext(ctx, "transaction started")
	return s.tx, nil
}

// Transaction returns the active transaction, or nil.
func (s *Session) Transaction() *Transaction { return s.tx }

// Commit flushes the session unless its flush mode is manual, verifies the
// versions of entities locked with LockOptimistic and commits.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.done {
		return persist.NewIllegalStateError("transaction already completed")
	}
	s := t.s
	if s.flushMode != FlushManual {
		if err := s.Flush(ctx); err != nil {
			return errors.Join(err, t.Rollback())
		}
	}
	if err := s.verifyVersions(ctx); err != nil {
		return errors.Join(err, t.Rollback())
	}
	t.done = true
	s.tx = nil
	if err := t.tx.Commit(); err != nil {
		t.evictWritten(ctx)
		return fmt.Errorf("session: commit: %w", err)
	}
	s.logger.DebugContext(ctx, "transaction committed")
	return nil
}

// Rollback rolls back the transaction. Cache entries written by its
// flushes are evicted.
func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.tx = nil
	t.s.queue.Clear()
	t.evictWritten(context.Background())
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("session: rollback: %w", err)
	}
	t.s.logger.Debug("transaction rolled back")
	return nil
}

func (t *Transaction) evictWritten(ctx context.Context) {
	for _, w := range t.written {
		if err := w.access.Remove(ctx, w.key); err != nil {
			t.s.logger.WarnContext(ctx, "evicting cache entry", "region", w.access.Region().Name(), "error", err)
		}
	}
	t.written = nil
}

// recordWrite remembers a cache entry written in the active transaction.
func (s *Session) recordWrite(a cache.Access, key any) {
	if s.tx != nil {
		s.tx.written = append(s.tx.written, cachedKey{access: a, key: key})
	}
}

// verifyVersions reads the version of every versioned entity locked with
// LockOptimistic and fails when a concurrent transaction changed it.
func (s *Session) verifyVersions(ctx context.Context) error {
	for _, e := range s.pc.Entities() {
		entry := s.pc.Entry(e)
		if entry.LockMode != persist.LockOptimistic || !entry.ExistsInDatabase || entry.Persister.VersionAttribute() == nil {
			continue
		}
		if entry.Status != engine.StatusManaged && entry.Status != engine.StatusReadOnly {
			continue
		}
		if err := s.checkVersion(ctx, entry, persist.NoLock()); err != nil {
			return err
		}
	}
	return nil
}
