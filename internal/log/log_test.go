package log

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLog_WritesFormattedEntry(t *testing.T) {
	rec := &Recorder{}
	InitWriter(rec)

	Warn(CatSync, "client had differing weather", "level", "Vow", "host", "Rainy")

	out := rec.String()
	require.Contains(t, out, "[WARN] [sync] client had differing weather")
	require.Contains(t, out, "level=Vow")
	require.Contains(t, out, "host=Rainy")
}

func TestLog_OddFieldCount(t *testing.T) {
	rec := &Recorder{}
	InitWriter(rec)

	Info(CatRegistry, "orphan", "key")

	require.Contains(t, rec.String(), "key=<missing>")
}

func TestLog_MinLevelFilters(t *testing.T) {
	rec := &Recorder{}
	InitWriter(rec)
	SetMinLevel(LevelWarn)

	Debug(CatNet, "hidden")
	Info(CatNet, "hidden too")
	Error(CatNet, "shown")

	require.Equal(t, 0, rec.Count("hidden"))
	require.Equal(t, 1, rec.Count("shown"))
}

func TestLog_Disabled(t *testing.T) {
	rec := &Recorder{}
	InitWriter(rec)
	SetEnabled(false)

	Error(CatNet, "nothing")
	require.Empty(t, rec.String())
}

func TestLog_ErrorErr(t *testing.T) {
	rec := &Recorder{}
	InitWriter(rec)

	ErrorErr(CatStore, "load failed", context.Canceled)
	ErrorErr(CatStore, "nil error", nil)

	require.Contains(t, rec.String(), "error=context canceled")
	require.Contains(t, rec.String(), "error=<nil>")
}

func TestLog_SubscribeReceivesEntries(t *testing.T) {
	InitWriter(&Recorder{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := Subscribe(ctx)
	require.NotNil(t, ch)

	Warn(CatBarrier, "late enqueue", "name", "LevelManager")

	select {
	case event := <-ch:
		require.Equal(t, LevelWarn, event.Payload.Level)
		require.Equal(t, CatBarrier, event.Payload.Category)
		require.Equal(t, "late enqueue", event.Payload.Message)
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "timeout waiting for log entry")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelDebug, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
