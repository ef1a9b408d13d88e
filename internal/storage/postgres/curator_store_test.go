package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/curator-discovery/internal/curator"
)

var fixedNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*CuratorStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewCuratorStoreWithPool(mock, func() time.Time { return fixedNow })
	require.NoError(t, err)
	return store, mock
}

func curatorRows() *pgxmock.Rows {
	return pgxmock.NewRows(curatorColumns)
}

func TestUpsertCuratorWritesEveryColumn(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	subscribed := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	rec := curator.DiscoveredCurator{
		ID:              "999",
		Handle:          "follower",
		DisplayName:     "Follower",
		Description:     "bio",
		ProfileImageURL: "https://img/x.png",
		Tags:            []string{"defi", "nft"},
		Categories:      []curator.Category{{ID: 1, Name: "defi"}},
		Score:           812.5,
		FollowersCount:  1200,
		SubscribedAt:    subscribed,
		DiscoveredVia:   "44196397",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO discovered_curators")).
		WithArgs(
			"999", "follower", "Follower", "bio", "https://img/x.png", 812.5,
			[]byte(`["defi","nft"]`),
			[]byte(`[{"id":1,"name":"defi"}]`),
			int64(1200), subscribed, "44196397", fixedNow,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertCurator(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCuratorNilSlicesBecomeEmptyArrays(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs(
			"44196397", "elonmusk", "elonmusk", "", "", 0.0,
			[]byte(`[]`), []byte(`[]`),
			int64(500), time.Time{}, "44196397", fixedNow,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.UpsertCurator(context.Background(), curator.DiscoveredCurator{
		ID: "44196397", Handle: "elonmusk", DisplayName: "elonmusk", FollowersCount: 500, DiscoveredVia: "44196397",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCuratorErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	require.Error(t, store.UpsertCurator(context.Background(), curator.DiscoveredCurator{}))

	mock.ExpectExec("INSERT INTO discovered_curators").WillReturnError(errors.New("conn reset"))
	err := store.UpsertCurator(context.Background(), curator.DiscoveredCurator{ID: "x"})
	require.ErrorContains(t, err, "upsert curator x")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSeedsRunsInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO seed_curators").
		WithArgs("44196397", "elonmusk", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO seed_curators").
		WithArgs("111", "alpha", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.UpsertSeeds(context.Background(), []curator.SeedCurator{
		{ID: "44196397", Handle: "elonmusk"},
		{ID: "111", Handle: "alpha"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSeedsRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO seed_curators").
		WithArgs("111", "alpha", fixedNow).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := store.UpsertSeeds(context.Background(), []curator.SeedCurator{{ID: "111", Handle: "alpha"}})
	require.ErrorContains(t, err, "upsert seed 111")
	require.NoError(t, mock.ExpectationsWereMet())

	require.NoError(t, store.UpsertSeeds(context.Background(), nil))
}

func TestListUnprocessedSeeds(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, handle, processed, processed_at FROM seed_curators WHERE processed = \$1 ORDER BY ordinal`).
		WithArgs(false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "handle", "processed", "processed_at"}).
			AddRow("111", "alpha", false, (*time.Time)(nil)).
			AddRow("44196397", "elonmusk", false, (*time.Time)(nil)))

	seeds, err := store.ListUnprocessedSeeds(context.Background())
	require.NoError(t, err)
	require.Equal(t, []curator.SeedCurator{
		{ID: "111", Handle: "alpha"},
		{ID: "44196397", Handle: "elonmusk"},
	}, seeds)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSeedsIncludesProcessed(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := fixedNow
	mock.ExpectQuery(`SELECT id, handle, processed, processed_at FROM seed_curators ORDER BY ordinal`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "handle", "processed", "processed_at"}).
			AddRow("44196397", "elonmusk", true, &at))

	seeds, err := store.ListSeeds(context.Background())
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	require.True(t, seeds[0].Processed)
	require.NotNil(t, seeds[0].ProcessedAt)
	require.Equal(t, fixedNow, *seeds[0].ProcessedAt)
}

func TestMarkSeedProcessed(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE seed_curators SET processed = TRUE").
		WithArgs("44196397", fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE seed_curators SET processed = TRUE").
		WithArgs("missing", fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.MarkSeedProcessed(context.Background(), "44196397", fixedNow))
	err := store.MarkSeedProcessed(context.Background(), "missing", fixedNow)
	require.ErrorIs(t, err, curator.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListCuratorsAppliesFilters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM discovered_curators WHERE score >= \$1 AND categories @> \$2::jsonb ORDER BY score DESC, id LIMIT 10 OFFSET 5`).
		WithArgs(50.0, `[{"name":"defi"}]`).
		WillReturnRows(curatorRows().
			AddRow("999", "follower", "Follower", "", "", 812.5,
				[]byte(`["defi"]`), []byte(`[{"id":1,"name":"defi"}]`),
				int64(1200), time.Time{}, "44196397", fixedNow))

	got, err := store.ListCurators(context.Background(), curator.CuratorFilter{
		Limit: 10, Offset: 5, MinScore: 50, Category: "defi",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []string{"defi"}, got[0].Tags)
	require.True(t, got[0].HasCategory("defi"))
	require.EqualValues(t, 1200, got[0].FollowersCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListCuratorsWithoutFilters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM discovered_curators ORDER BY score DESC, id$`).
		WillReturnRows(curatorRows())

	got, err := store.ListCurators(context.Background(), curator.CuratorFilter{})
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCurator(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM discovered_curators WHERE id = \$1`).
		WithArgs("44196397").
		WillReturnRows(curatorRows().
			AddRow("44196397", "elonmusk", "elonmusk", "", "", 0.0,
				[]byte(`[]`), []byte(`[]`), int64(500), time.Time{}, "44196397", fixedNow))
	mock.ExpectQuery(`FROM discovered_curators WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	rec, err := store.GetCurator(context.Background(), "44196397")
	require.NoError(t, err)
	require.EqualValues(t, 500, rec.FollowersCount)

	_, err = store.GetCurator(context.Background(), "nope")
	require.ErrorIs(t, err, curator.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSummary(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT\s+\(SELECT count\(\*\) FROM seed_curators\)`).
		WillReturnRows(pgxmock.NewRows([]string{"seeds", "processed", "discovered"}).
			AddRow(int64(3), int64(1), int64(5)))

	sum, err := store.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, curator.Summary{Seeds: 3, ProcessedSeeds: 1, Discovered: 5, DiscoveredBeyondSeeds: 2}, sum)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingAndConstructor(t *testing.T) {
	t.Parallel()

	_, err := NewCuratorStoreWithPool(nil, nil)
	require.Error(t, err)
	_, err = NewCuratorStore(context.Background(), Config{})
	require.Error(t, err)

	store, mock := newMockStore(t)
	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationsAreEmbedded(t *testing.T) {
	t.Parallel()

	up, err := migrationsFS.ReadFile("migrations/0001_curators.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS discovered_curators")
	down, err := migrationsFS.ReadFile("migrations/0001_curators.down.sql")
	require.NoError(t, err)
	require.Contains(t, string(down), "DROP TABLE IF EXISTS seed_curators")

	ordinal, err := migrationsFS.ReadFile("migrations/0002_seed_ordinal.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(ordinal), "ADD COLUMN IF NOT EXISTS ordinal BIGSERIAL")
}

func TestUpsertSeedsKeepsStoredHandleWhenEmpty(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`ON CONFLICT \(id\) DO UPDATE SET handle = COALESCE\(NULLIF\(EXCLUDED.handle, ''\), seed_curators.handle\)`).
		WithArgs("44196397", "", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertSeeds(context.Background(), []curator.SeedCurator{{ID: "44196397"}}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSeedsOrdersByInsertionOrdinal(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, handle, processed, processed_at FROM seed_curators WHERE processed = \$1 ORDER BY ordinal$`).
		WithArgs(false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "handle", "processed", "processed_at"}).
			AddRow("zeta", "z", false, (*time.Time)(nil)).
			AddRow("alpha", "a", false, (*time.Time)(nil)))

	seeds, err := store.ListUnprocessedSeeds(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"zeta", "alpha"}, []string{seeds[0].ID, seeds[1].ID})
	require.NoError(t, mock.ExpectationsWereMet())
}
