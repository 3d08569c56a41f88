package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/mediagraph/elements"
	"github.com/zsiec/mediagraph/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestInspectListsFactories(t *testing.T) {
	out, err := execute(t, "inspect")
	require.NoError(t, err)
	for _, name := range []string{"auto-source", "caps-filter", "queue", "tee", "test-source"} {
		assert.Contains(t, out, name)
	}
}

func TestInspectDescribesFactory(t *testing.T) {
	out, err := execute(t, "inspect", "queue")
	require.NoError(t, err)
	assert.Contains(t, out, "max-size-buffers")
	assert.Contains(t, out, "downstream")
	assert.Contains(t, out, "SINK template: 'sink'")

	_, err = execute(t, "inspect", "nope")
	assert.ErrorIs(t, err, pipeline.ErrUnknownFactory)
}

func TestLaunchPrintsSinkStats(t *testing.T) {
	out, err := execute(t, "launch", "--stats", "test-source", "num-buffers=3", "!", "fake-sink", "name=out")
	require.NoError(t, err)

	var stats []elements.SinkStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "out", stats[0].Element)
	assert.Equal(t, int64(3), stats[0].Buffers)
}

func TestLaunchNeedsDescription(t *testing.T) {
	_, err := execute(t, "launch")
	assert.Error(t, err)

	_, err = execute(t, "launch", "test-source", "!")
	assert.Error(t, err)
}

func TestCapsReportsNegotiatedFormat(t *testing.T) {
	out, err := execute(t, "caps", "--num-buffers", "3", "--sink", "fake-sink")
	require.NoError(t, err)
	assert.Contains(t, out, "Pad templates of test-source")
	assert.Contains(t, out, "Caps for the sink pad in PAUSED")
	assert.Contains(t, out, "320")
}

func TestTeeReportsBranches(t *testing.T) {
	out, err := execute(t, "tee", "--num-buffers", "5", "--freq", "440")
	require.NoError(t, err)

	var report struct {
		Tee elements.TeeStats `json:"tee"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, int64(5), report.Tee.Received)
	require.Len(t, report.Tee.Branches, 2)
	for _, b := range report.Tee.Branches {
		assert.Equal(t, int64(5), b.Sent, b.Pad)
	}
}
