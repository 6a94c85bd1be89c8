package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lzww0608/gflake"
	"github.com/Lzww0608/gflake/config"
)

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := createApp(&stdout, &stderr).Run(context.Background(), append([]string{"gflake"}, args...))
	return stdout.String(), stderr.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

func TestNext(t *testing.T) {
	out, _, err := runApp(t, "next", "-n", "5")
	require.NoError(t, err)

	ids := lines(out)
	require.Len(t, ids, 5)
	var prev gflake.ID
	for i, s := range ids {
		id, err := gflake.Parse(s, gflake.DefaultLayout)
		require.NoError(t, err)
		if i > 0 {
			assert.Equal(t, 1, id.Compare(prev), "ids not ascending")
		}
		prev = id
	}
}

func TestNext_NodeFlags(t *testing.T) {
	out, _, err := runApp(t, "--data-center", "3", "--worker", "9", "next")
	require.NoError(t, err)

	id, err := gflake.Parse(strings.TrimSpace(out), gflake.DefaultLayout)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id.DataCenter())
	assert.Equal(t, int64(9), id.Worker())
}

func TestNext_Environment(t *testing.T) {
	t.Setenv(config.EnvDataCenter, "4")
	t.Setenv(config.EnvWorker, "5")

	out, _, err := runApp(t, "--worker", "6", "next")
	require.NoError(t, err)

	id, err := gflake.Parse(strings.TrimSpace(out), gflake.DefaultLayout)
	require.NoError(t, err)
	assert.Equal(t, int64(4), id.DataCenter())
	assert.Equal(t, int64(6), id.Worker(), "flag should override environment")
}

func TestNext_Workers(t *testing.T) {
	out, _, err := runApp(t, "next", "-n", "1000", "--workers", "8")
	require.NoError(t, err)

	ids := lines(out)
	require.Len(t, ids, 1000)
	seen := make(map[string]bool, len(ids))
	for _, s := range ids {
		assert.False(t, seen[s], "duplicate id %s", s)
		seen[s] = true
	}
}

func TestNext_Formats(t *testing.T) {
	for _, f := range []outputFormat{formatBase2, formatBase36, formatBase64} {
		t.Run(string(f), func(t *testing.T) {
			out, _, err := runApp(t, "next", "--format", string(f))
			require.NoError(t, err)
			_, err = f.parse(strings.TrimSpace(out), gflake.DefaultLayout)
			assert.NoError(t, err)
		})
	}
}

func TestNext_JSON(t *testing.T) {
	out, _, err := runApp(t, "--worker", "2", "next", "-n", "2", "-f", "json")
	require.NoError(t, err)

	for _, line := range lines(out) {
		var rec struct {
			ID     string `json:"id"`
			Worker int64  `json:"worker"`
			Time   string `json:"time"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, int64(2), rec.Worker)
		assert.NotEmpty(t, rec.Time)
	}
}

func TestNext_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gflake.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
layout:
  timestamp_bits: 41
  data_center_bits: 5
  worker_bits: 5
  sequence_bits: 12
node:
  data_center: 31
  worker: 30
  overflow:
    strategy: spin_wait
`), 0600))

	out, _, err := runApp(t, "-c", path, "next")
	require.NoError(t, err)

	id, err := gflake.Parse(strings.TrimSpace(out), gflake.MustBitLayout(41, 5, 5, 12))
	require.NoError(t, err)
	assert.Equal(t, int64(31), id.DataCenter())
	assert.Equal(t, int64(30), id.Worker())
}

func TestNext_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"zero count", []string{"next", "-n", "0"}},
		{"zero workers", []string{"next", "--workers", "0"}},
		{"unknown format", []string{"next", "--format", "hex"}},
		{"bad log level", []string{"--log-level", "loud", "next"}},
		{"worker out of range", []string{"--worker", "64", "next"}},
		{"missing config", []string{"-c", "missing.yaml", "next"}},
		{"two registries", []string{"--zk-servers", "zk:2181", "--mysql-dsn", "u:p@tcp(db:3306)/ids", "next"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runApp(t, tt.args...)
			var usageErr *usageError
			assert.ErrorAs(t, err, &usageErr)
		})
	}
}

func TestDecode(t *testing.T) {
	id := gflake.Must(gflake.Encode(gflake.DefaultLayout, 1000, 3, 7, 42))

	out, _, err := runApp(t, "decode", id.String())
	require.NoError(t, err)
	assert.Contains(t, out, "timestamp=1000 data_center=3 worker=7 sequence=42")
	assert.Contains(t, out, "time=2020-01-01T08:00:01Z")
}

func TestDecode_Base36JSON(t *testing.T) {
	id := gflake.Must(gflake.Encode(gflake.DefaultLayout, 1000, 3, 7, 42))

	out, _, err := runApp(t, "decode", "-f", "base36", "--json", id.Base36())
	require.NoError(t, err)

	var rec struct {
		ID         string `json:"id"`
		Timestamp  int64  `json:"timestamp"`
		DataCenter int64  `json:"data_center"`
		Sequence   int64  `json:"sequence"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &rec))
	assert.Equal(t, id.String(), rec.ID)
	assert.Equal(t, int64(1000), rec.Timestamp)
	assert.Equal(t, int64(3), rec.DataCenter)
	assert.Equal(t, int64(42), rec.Sequence)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no ids", []string{"decode"}},
		{"not a number", []string{"decode", "abc"}},
		{"negative", []string{"decode", "-f", "base36", "--", "-1"}},
		{"json input", []string{"decode", "-f", "json", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runApp(t, tt.args...)
			var usageErr *usageError
			assert.ErrorAs(t, err, &usageErr)
		})
	}
}

func TestLayout(t *testing.T) {
	out, _, err := runApp(t, "layout")
	require.NoError(t, err)

	assert.Contains(t, out, "41/4/6/12")
	assert.Contains(t, out, "max 2,199,023,255,551")
	assert.Contains(t, out, "max 4,095")
	assert.Contains(t, out, "2020-01-01T08:00:00Z")
	assert.Contains(t, out, "exhausted")
}

func TestGenerate(t *testing.T) {
	gen, err := gflake.NewGenerator(gflake.DefaultLayout, gflake.DefaultNodeIdentity(),
		gflake.DefaultTimeSource(), gflake.WithoutMetrics())
	require.NoError(t, err)

	ids, err := generate(context.Background(), gen, 10, 3)
	require.NoError(t, err)
	require.Len(t, ids, 10)
	for i := 1; i < len(ids); i++ {
		assert.Equal(t, 1, ids[i].Compare(ids[i-1]))
	}

	// more workers than ids
	ids, err = generate(context.Background(), gen, 2, 16)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestGenerate_Error(t *testing.T) {
	node, err := gflake.NewNodeIdentity(gflake.DefaultLayout, 0, 0, gflake.ThrowPolicy())
	require.NoError(t, err)
	gen, err := gflake.NewGenerator(gflake.DefaultLayout, node, gflake.NewManualTimeSource(1), gflake.WithoutMetrics())
	require.NoError(t, err)

	// 4096 ids per tick and the clock never moves
	_, err = generate(context.Background(), gen, 5000, 4)
	assert.ErrorIs(t, err, gflake.ErrOverflow)
}

func TestRun_ExitCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"gflake", "next"}, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"gflake", "next", "-n", "0"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "invalid arguments")
}
