package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/questwatch/internal/quest"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *SeenStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "seen_quests")
	require.NoError(t, err)
	return mock, store
}

func TestNewWithPoolValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "seen; DROP TABLE x")
	require.Error(t, err)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	assert.Equal(t, "seen_quests", store.table)
}

func TestMigrateCreatesTable(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS seen_quests").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSeenInsertsOnce(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()
	key := quest.Key{Region: "en-US", ID: "1"}

	mock.ExpectExec("INSERT INTO seen_quests").
		WithArgs(key.Region, key.ID, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO seen_quests").
		WithArgs(key.Region, key.ID, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.MarkSeen(context.Background(), key, at)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.MarkSeen(context.Background(), key, at)
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContainsAndLen(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	key := quest.Key{Region: "ja-JP", ID: "7"}

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(key.Region, key.ID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(12)))

	ok, err := store.Contains(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFirstSeenMissing(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	key := quest.Key{Region: "ja-JP", ID: "missing"}
	mock.ExpectQuery("SELECT first_seen").
		WithArgs(key.Region, key.ID).
		WillReturnError(pgx.ErrNoRows)

	_, found, err := store.firstSeen(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSeenFailureIsStorageError(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("INSERT INTO seen_quests").
		WillReturnError(errors.New("connection reset"))

	_, err := store.MarkSeen(context.Background(), quest.Key{Region: "en-US", ID: "1"}, time.Now())
	var storageErr *quest.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "mark", storageErr.Op)
	require.NoError(t, mock.ExpectationsWereMet())
}
