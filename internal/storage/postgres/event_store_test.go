package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

func idRow(id int64) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id"}).AddRow(id)
}

func TestInTxPersistsSourceResults(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewEventStoreWithPool(mock)
	require.NoError(t, err)

	startsAt := time.Date(2025, 1, 16, 1, 0, 0, 0, time.UTC)
	price := 20.0
	event := crawl.ExtractedEvent{
		SiteSlug:    "charleston",
		VenueName:   "Music Farm",
		Title:       "Jane Doe Trio",
		ArtistName:  "Jane Doe Trio",
		StartsAtUTC: startsAt,
		TZName:      "America/New_York",
		PriceMin:    &price,
		PriceMax:    &price,
		Currency:    "USD",
		TicketURL:   "https://tickets.example.com/123",
		SourceURL:   "https://www.musicfarm.com/events",
		ExternalID:  "evt-123",
		RawData:     map[string]any{"extraction_method": "pattern_match"},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO site").
		WithArgs("charleston", "Charleston").
		WillReturnRows(idRow(1))
	mock.ExpectQuery("SELECT id FROM source").
		WithArgs(int64(1), "https://www.musicfarm.com/events").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO source").
		WithArgs(int64(1), "Music Farm", "https://www.musicfarm.com/events", false, 1.0).
		WillReturnRows(idRow(7))
	mock.ExpectQuery("INSERT INTO ingest_run").
		WithArgs(int64(7)).
		WillReturnRows(idRow(11))
	mock.ExpectQuery("INSERT INTO venue").
		WithArgs(int64(1), "Music Farm", "America/New_York").
		WillReturnRows(idRow(3))
	mock.ExpectQuery("INSERT INTO event_instance").
		WithArgs(int64(1), int64(3), "Jane Doe Trio", (*string)(nil), "Jane Doe Trio",
			startsAt, (*time.Time)(nil), "America/New_York", (*time.Time)(nil),
			&price, &price, "USD", pgxmock.AnyArg(), (*string)(nil), false).
		WillReturnRows(idRow(99))
	mock.ExpectQuery("INSERT INTO event_source_link").
		WithArgs(int64(99), int64(7), int64(11), pgxmock.AnyArg(), "https://www.musicfarm.com/events",
			[]byte(`{"extraction_method":"pattern_match"}`)).
		WillReturnRows(idRow(42))
	mock.ExpectExec("UPDATE ingest_run").
		WithArgs(int64(11), "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = store.InTx(context.Background(), func(tx crawl.EventTx) error {
		siteID, err := tx.EnsureSite(context.Background(), "charleston")
		require.NoError(t, err)

		sourceID, err := tx.EnsureSource(context.Background(), siteID, "Music Farm", event.SourceURL, false, 1.0)
		require.NoError(t, err)

		runID, err := tx.BeginIngestRun(context.Background(), sourceID)
		require.NoError(t, err)

		venueID, err := tx.UpsertVenue(context.Background(), siteID, "Music Farm", event.TZName)
		require.NoError(t, err)

		eventID, err := tx.InsertEventInstance(context.Background(), siteID, venueID, event)
		require.NoError(t, err)

		_, err = tx.UpsertEventSourceLink(context.Background(), eventID, sourceID, runID, event.ExternalID, event.SourceURL, event.RawData)
		require.NoError(t, err)

		return tx.FinishIngestRun(context.Background(), runID, "completed")
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewEventStoreWithPool(mock)
	require.NoError(t, err)

	boom := errors.New("venue lookup failed")
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO site").
		WithArgs("charleston", "Charleston").
		WillReturnError(boom)
	mock.ExpectRollback()

	err = store.InTx(context.Background(), func(tx crawl.EventTx) error {
		_, err := tx.EnsureSite(context.Background(), "charleston")
		return err
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSourceReturnsExisting(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewEventStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM source").
		WithArgs(int64(1), "https://www.pourhouse.com/events").
		WillReturnRows(idRow(5))
	mock.ExpectCommit()

	err = store.InTx(context.Background(), func(tx crawl.EventTx) error {
		id, err := tx.EnsureSource(context.Background(), 1, "The Pour House", "https://www.pourhouse.com/events", false, 1.0)
		require.NoError(t, err)
		require.Equal(t, int64(5), id)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSourceInactive(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewEventStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE source SET active = false").
		WithArgs(int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = store.InTx(context.Background(), func(tx crawl.EventTx) error {
		return tx.MarkSourceInactive(context.Background(), 9)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInactiveSourceURLs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewEventStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT s.url FROM source").
		WithArgs("charleston").
		WillReturnRows(pgxmock.NewRows([]string{"url"}).
			AddRow("https://dead.example.com").
			AddRow("https://gone.example.com"))
	mock.ExpectRollback()

	urls, err := store.InactiveSourceURLs(context.Background(), "charleston")
	require.NoError(t, err)
	require.Equal(t, []string{"https://dead.example.com", "https://gone.example.com"}, urls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewEventStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewEventStore(context.Background(), EventStoreConfig{})
	require.Error(t, err)
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Charleston", displayName("charleston"))
	require.Equal(t, "North Charleston", displayName("north-charleston"))
}
