package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateLedger)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("should insert all entries in one transaction without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(observedZapCore))

		entries := []Entry{
			{ID: uuid.NewString(), Type: "EVO_STAGE_ADVANCED", Subject: "agent-1", Payload: []byte(`{"to":"SystemAccess"}`), RecordedAt: now},
			{ID: uuid.NewString(), Type: "EVO_MODIFICATION_PROPOSED", Subject: "p-1", Payload: []byte(`{"path":"a.go"}`), RecordedAt: now},
		}

		mockPool.ExpectBegin()
		for _, e := range entries {
			mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertEntry)).
				WithArgs(e.ID, e.Type, e.Subject, e.Payload, e.RecordedAt).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
		mockPool.ExpectCommit()
		// Expect Commit AND the subsequent Rollback (which returns ErrTxClosed)
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.Record(ctx, entries...))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Zero(t, observedLogs.Len(), "a committed transaction must not log rollback errors")
	})

	t.Run("should roll back when an insert fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		insertErr := errors.New("constraint violation")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertEntry)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.Record(ctx, Entry{ID: "e1", Type: "t", Subject: "s", Payload: []byte(`{}`), RecordedAt: now})
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should not open a transaction for nothing", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		require.NoError(t, s.Record(ctx))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s, mockPool := newMockStore(t, zap.NewNop())
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "type", "subject", "payload", "recorded_at"}).
		AddRow("e1", "EVO_STAGE_ADVANCED", "agent-1", []byte(`{"to":"SystemAccess"}`), now).
		AddRow("e2", "EVO_MODIFICATION_RESOLVED", "p-1", []byte(`{"status":"applied"}`), now)

	mockPool.ExpectQuery(flexibleSQLMatcher(sqlListEntries)).
		WithArgs(10).
		WillReturnRows(rows)

	entries, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e1", entries[0].ID)
	assert.JSONEq(t, `{"status":"applied"}`, string(entries[1].Payload))
	assert.True(t, entries[1].RecordedAt.Equal(now))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestList_QueryError(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	queryErr := errors.New("relation does not exist")
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlListEntries)).
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(queryErr)

	_, err := s.List(context.Background(), 0)
	assert.ErrorIs(t, err, queryErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger()

	require.NoError(t, m.Record(ctx, Entry{ID: "a"}, Entry{ID: "b"}))
	require.NoError(t, m.Record(ctx, Entry{ID: "a"}, Entry{ID: "c"}))

	all, err := m.List(ctx, 0)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, e := range all {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	first, err := m.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, m.Record(cancelled, Entry{ID: "d"}))
}
