package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
)

// txRecorder is a minimal database/sql driver that records transaction
// outcomes so WithTx can be exercised without a server.
type txRecorder struct {
	mu        sync.Mutex
	commits   int
	rollbacks int
}

func (d *txRecorder) Open(string) (driver.Conn, error) { return &recorderConn{d: d}, nil }

func (d *txRecorder) counts() (commits, rollbacks int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits, d.rollbacks
}

type recorderConn struct{ d *txRecorder }

func (c *recorderConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("not implemented")
}
func (c *recorderConn) Close() error              { return nil }
func (c *recorderConn) Begin() (driver.Tx, error) { return recorderTx{d: c.d}, nil }

type recorderTx struct{ d *txRecorder }

func (t recorderTx) Commit() error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.commits++
	return nil
}

func (t recorderTx) Rollback() error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.rollbacks++
	return nil
}

func openRecorder(t *testing.T) (*sql.DB, *txRecorder) {
	t.Helper()
	rec := &txRecorder{}
	name := "txrecorder_" + t.Name()
	sql.Register(name, rec)
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, rec
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, rec := openRecorder(t)

	var ran bool
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("withtx: %v", err)
	}
	if !ran {
		t.Fatal("expected fn to run")
	}
	commits, rollbacks := rec.counts()
	if commits != 1 || rollbacks != 0 {
		t.Fatalf("expected 1 commit and 0 rollbacks, got %d/%d", commits, rollbacks)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db, rec := openRecorder(t)

	boom := errors.New("boom")
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error back, got %v", err)
	}
	commits, rollbacks := rec.counts()
	if commits != 0 || rollbacks != 1 {
		t.Fatalf("expected 0 commits and 1 rollback, got %d/%d", commits, rollbacks)
	}
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db, rec := openRecorder(t)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
			panic("mid-tx failure")
		})
	}()

	commits, rollbacks := rec.counts()
	if commits != 0 || rollbacks != 1 {
		t.Fatalf("expected 0 commits and 1 rollback, got %d/%d", commits, rollbacks)
	}
}
