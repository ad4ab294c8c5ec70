package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresUpsertPermitInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	scraped := time.Date(2026, 8, 20, 14, 0, 0, 0, time.UTC)
	p := Permit{
		PermitNumber:  "2024-LOG-0123456",
		Address:       "123 Main St, Denver, CO",
		Lat:           f64(39.7392),
		Lon:           f64(-104.9903),
		Details:       map[string]any{"owner": "ACME LLC"},
		ThumbnailPath: "thumbs/2024-LOG-0123456.jpg",
		ScrapedAt:     scraped,
	}

	mock.ExpectExec("INSERT INTO permits").
		WithArgs(
			p.PermitNumber,
			p.Address,
			p.Lat,
			p.Lon,
			[]byte(`{"owner":"ACME LLC"}`),
			p.ThumbnailPath,
			scraped,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.UpsertPermit(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateThumbnailMissingPermit(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE permits SET thumbnail_path").
		WithArgs("thumbs/x.jpg", "P-UNKNOWN").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = st.UpdateThumbnail(context.Background(), "P-UNKNOWN", "thumbs/x.jpg")
	assert.ErrorContains(t, err, "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecentRuns(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	started := time.Date(2026, 8, 21, 5, 0, 0, 0, time.UTC)
	finished := started.Add(2 * time.Minute)
	note := "clean run"

	rows := pgxmock.NewRows([]string{"id", "started_at", "finished_at", "status", "pages", "links", "items", "errors", "note"}).
		AddRow("run-2", started.Add(time.Hour), (*time.Time)(nil), RunStatusRunning, 0, 0, 0, 0, (*string)(nil)).
		AddRow("run-1", started, &finished, RunStatusSucceeded, 4, 52, 37, 0, &note)

	mock.ExpectQuery("SELECT id, started_at, finished_at").
		WithArgs(2).
		WillReturnRows(rows)

	runs, err := st.RecentRuns(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, RunStatusRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)

	assert.Equal(t, "run-1", runs[1].ID)
	assert.Equal(t, RunStatusSucceeded, runs[1].Status)
	require.NotNil(t, runs[1].FinishedAt)
	assert.Equal(t, finished, *runs[1].FinishedAt)
	assert.Equal(t, 52, runs[1].Links)
	assert.Equal(t, "clean run", runs[1].Note)
	require.NoError(t, mock.ExpectationsWereMet())
}
