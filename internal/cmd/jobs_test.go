package cmd

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerops/draftforge/pkg/jobledger"
)

func TestShortJobID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "abc"},
		{"0123456789ab", "0123456789ab"},
		{"0123456789abcdef-rest", "0123456789ab"},
		{"  padded  ", "padded"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, shortJobID(tt.in))
	}
}

func TestFormatOptionalTime(t *testing.T) {
	assert.Equal(t, "-", formatOptionalTime(nil))

	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-20T10:00:00Z", formatOptionalTime(&ts))
}

func TestResolveJob(t *testing.T) {
	ledger := jobledger.New(filepath.Join(t.TempDir(), "jobs.json"))
	require.NoError(t, ledger.Upsert(jobledger.Job{JobID: "aaaa-1111", Status: jobledger.StatusQueued}))
	require.NoError(t, ledger.Upsert(jobledger.Job{JobID: "aaab-2222", Status: jobledger.StatusQueued}))
	require.NoError(t, ledger.Upsert(jobledger.Job{JobID: "bbbb-3333", Status: jobledger.StatusQueued}))

	t.Run("exact match", func(t *testing.T) {
		job, err := resolveJob(ledger, "aaaa-1111")
		require.NoError(t, err)
		assert.Equal(t, "aaaa-1111", job.JobID)
	})

	t.Run("unique prefix", func(t *testing.T) {
		job, err := resolveJob(ledger, "bb")
		require.NoError(t, err)
		assert.Equal(t, "bbbb-3333", job.JobID)
	})

	t.Run("ambiguous prefix", func(t *testing.T) {
		_, err := resolveJob(ledger, "aaa")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ambiguous")
	})

	t.Run("no match", func(t *testing.T) {
		_, err := resolveJob(ledger, "zzzz")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := resolveJob(ledger, "  ")
		require.Error(t, err)
	})
}

func TestTailLines(t *testing.T) {
	input := "a\nb\nc\nd\ne\n"

	lines, err := tailLines(strings.NewReader(input), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e"}, lines)

	lines, err = tailLines(strings.NewReader(input), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, lines)

	lines, err = tailLines(strings.NewReader(""), 3)
	require.NoError(t, err)
	assert.Empty(t, lines)

	lines, err = tailLines(strings.NewReader(input), 0)
	require.NoError(t, err)
	assert.Nil(t, lines)
}

func TestJobLogPath(t *testing.T) {
	logDir := t.TempDir()
	env := &appEnv{}
	env.resolver.LogDir = logDir

	started := time.Now().UTC()
	job := &jobledger.Job{
		JobID:           "job-1",
		RunStamp:        "20260820-100000-dead0001",
		StartedAt:       &started,
		ParallelLogPath: filepath.Join(logDir, "run-20260820-100000-dead0001-parallel.log"),
		WorkerLogDir:    logDir,
	}

	t.Run("default is parallel", func(t *testing.T) {
		path, err := jobLogPath(env, job, "")
		require.NoError(t, err)
		assert.Equal(t, job.ParallelLogPath, path)
	})

	t.Run("worker source", func(t *testing.T) {
		path, err := jobLogPath(env, job, "w2")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(logDir, "run-20260820-100000-dead0001-w2.log"), path)
	})

	t.Run("invalid source", func(t *testing.T) {
		_, err := jobLogPath(env, job, "stdout")
		require.Error(t, err)
	})
}
