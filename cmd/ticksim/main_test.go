package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"sparkrt/kernel"
)

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

func find(recs []map[string]any, msg string) []map[string]any {
	var out []map[string]any
	for _, r := range recs {
		if r["message"] == msg {
			out = append(out, r)
		}
	}
	return out
}

func TestRoundRobinTrace(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runRoundRobin(zerolog.New(&buf), kernel.DefaultConfig(), 120))
	recs := records(t, &buf)

	var p1Ticks []float64
	for _, r := range find(recs, "dispatch") {
		if r["run"] == "P1" {
			p1Ticks = append(p1Ticks, r["tick"].(float64))
		}
	}
	require.Equal(t, []float64{0, 100}, p1Ticks)

	ran := map[string]float64{}
	for _, r := range find(recs, "summary") {
		ran[r["task"].(string)] = r["ran"].(float64)
	}
	require.InDelta(t, ran["P5a"], ran["P5b"], 10)
}

func TestInheritTrace(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runInherit(zerolog.New(&buf), kernel.DefaultConfig(), 30))
	recs := records(t, &buf)

	blocked := find(recs, "H blocked on M")
	require.Len(t, blocked, 1)
	require.EqualValues(t, 2, blocked[0]["L_prio"])

	unlocked := find(recs, "L unlocked M")
	require.Len(t, unlocked, 1)
	require.Equal(t, "H", unlocked[0]["owner"])
	require.EqualValues(t, 2, unlocked[0]["orig_prio"])
	require.EqualValues(t, 10, unlocked[0]["L_prio"])
	require.NotContains(t, unlocked[0], "H_result")
}
