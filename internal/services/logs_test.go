package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"espdata/internal/storage"
)

func TestLogServiceWriteAndRecent(t *testing.T) {
	svc := NewLogService(newTestDB(t))
	ctx := context.Background()
	galon := "a"
	svc.Write(ctx, &storage.IngestLog{Level: "WARN", Event: "INVALID_FORMAT", Status: 400, IPAddress: "10.0.0.2"})
	svc.Write(ctx, &storage.IngestLog{Level: "ERROR", Event: "STORE_FAILED", Galon: &galon, Status: 500})

	out, err := svc.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "STORE_FAILED", out[0].Event)
	require.NotNil(t, out[0].Galon)
	require.Equal(t, "a", *out[0].Galon)
	require.False(t, out[1].Timestamp.IsZero())
}
