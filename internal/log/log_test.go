package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLog_NoopBeforeInit(t *testing.T) {
	Reset()
	require.NotPanics(t, func() {
		Warn(CatCard, "nothing installed", "channel", "sr")
	})
}

func TestLog_FormatsFields(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelDebug)
	t.Cleanup(Reset)

	Warn(CatCombine, "skipping combination", "card", "combo_all.txt", "reason")

	line := buf.String()
	require.Contains(t, line, "[WARN] [combine] skipping combination")
	require.Contains(t, line, "card=combo_all.txt")
	require.Contains(t, line, "reason=<missing>")
	require.True(t, strings.HasSuffix(line, "\n"))
}

func TestLog_RespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelWarn)
	t.Cleanup(Reset)

	Debug(CatRegistry, "hidden")
	Info(CatRegistry, "hidden too")
	require.Empty(t, buf.String())

	ErrorErr(CatExec, "tool failed", nil, "tool", "combine")
	require.Contains(t, buf.String(), "error=<nil>")
	require.Contains(t, buf.String(), "tool=combine")
}

func TestLog_SetEnabled(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelDebug)
	t.Cleanup(Reset)

	SetEnabled(false)
	Error(CatFit, "muted")
	require.Empty(t, buf.String())

	SetEnabled(true)
	SetMinLevel(LevelError)
	Warn(CatFit, "below threshold")
	require.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}
