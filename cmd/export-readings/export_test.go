package main

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var jakarta = time.FixedZone("WIB", 7*3600)

func TestBuildQuery(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, jakarta)
	sqlText, args := exportQuery{Galon: "g", From: &from, Limit: 10}.build()
	require.Equal(t, "SELECT id, galon, value, timestamp FROM galon_data WHERE galon = ? AND timestamp >= ? ORDER BY id ASC LIMIT ?", sqlText)
	require.Equal(t, []interface{}{"g", from, 10}, args)

	sqlText, args = exportQuery{}.build()
	require.Equal(t, "SELECT id, galon, value, timestamp FROM galon_data ORDER BY id ASC", sqlText)
	require.Empty(t, args)
}

func TestExportCSV(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "galon", "value", "timestamp"}).
		AddRow(1, "a", 12.5, time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)).
		AddRow(2, "b,c", 3.0, time.Date(2024, 5, 1, 8, 30, 0, 0, jakarta))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, galon, value, timestamp FROM galon_data ORDER BY id ASC")).
		WillReturnRows(rows)

	var buf bytes.Buffer
	n, err := exportCSV(context.Background(), db, exportQuery{}, jakarta, &buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "id,galon,value,timestamp\n1,a,12.5,2024-05-01 08:00:00\n2,\"b,c\",3,2024-05-01 08:30:00\n", buf.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportCSVQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("gone"))

	_, err = exportCSV(context.Background(), db, exportQuery{Galon: "g"}, jakarta, &bytes.Buffer{})
	require.ErrorContains(t, err, "gone")
}
