package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/omzlo/nocan-node-manager/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	id := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{SessionID: id, TS: time.Now(), Stage: progress.StageTick, StatusCode: 200, StatusClass: progress.Status2xx, Percent: 50},
		{SessionID: id, TS: time.Now(), Stage: progress.StageError, StatusCode: 503, StatusClass: progress.Status5xx, Note: "Error 503"},
	})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.DebugLevel, entries[0].Level)
	require.Equal(t, int64(50), entries[0].ContextMap()["percent"])
	require.Equal(t, zap.InfoLevel, entries[1].Level)
	require.Equal(t, "Error 503", entries[1].ContextMap()["note"])
	require.NoError(t, sink.Close(context.Background()))
}
