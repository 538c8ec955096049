package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t    *testing.T
	args []string
}

func newCLI(t *testing.T) *cli {
	t.Helper()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "padctl.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("user_id = \"tester\"\nlog_level = \"error\"\n"), 0o600))

	return &cli{t: t, args: []string{"--config", cfgPath, "--db", filepath.Join(dir, "padctl.db")}}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(append([]string{}, args...), c.args...))

	err := cmd.Execute()
	return out.String(), err
}

func TestGoalsAddAndList(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("goals", "add", "distance", "5")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = c.run("goals", "list", "--json")
	require.NoError(t, err)

	var progress []struct {
		Goal struct {
			ID     string  `json:"id"`
			Type   string  `json:"type"`
			Target float64 `json:"target_value"`
		} `json:"goal"`
		Current float64 `json:"current_value"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &progress))
	require.Len(t, progress, 1)
	assert.Equal(t, id, progress[0].Goal.ID)
	assert.Equal(t, "distance", progress[0].Goal.Type)
	assert.Equal(t, 5.0, progress[0].Goal.Target)
	assert.Zero(t, progress[0].Current)

	out, err = c.run("goals", "progress", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Remaining: 5 km")
}

func TestGoalsAddRejectsBadInput(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("goals", "add", "laps", "5")
	assert.Error(t, err)

	_, err = c.run("goals", "add", "steps", "0")
	assert.Error(t, err)

	_, err = c.run("goals", "add", "steps", "many")
	assert.Error(t, err)
}

func TestStatsOnEmptyStore(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("stats", "--period", "weekly", "--date", "2024-03-06", "--json")
	require.NoError(t, err)

	var view struct {
		Period        string `json:"period"`
		TotalSessions int    `json:"total_sessions"`
		DistanceUnit  string `json:"distance_unit"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "weekly", view.Period)
	assert.Zero(t, view.TotalSessions)
	assert.Equal(t, "km", view.DistanceUnit)

	_, err = c.run("stats", "--period", "yearly")
	assert.Error(t, err)
}

func TestHistoryAndStatus(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("history")
	require.NoError(t, err)
	assert.Contains(t, out, "0 of 0 sessions")

	out, err = c.run("status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"user_id": "tester"`)
	assert.Contains(t, out, `"streak_days": 0`)
}

func TestConfigCommand(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("config", "--user", "someone")
	require.NoError(t, err)
	assert.Contains(t, out, `"UserID": "someone"`)
}

func TestHistoryAddCompletesGoal(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("goals", "add", "steps", "1000")
	require.NoError(t, err)
	goalID := strings.TrimSpace(out)

	start := time.Now().Add(-2 * time.Minute).Format(time.RFC3339)
	out, err = c.run("history", "add", "--start", start, "--duration", "1m",
		"--distance", "0.1", "--steps", "2000", "--notes", "hotel gym")
	require.NoError(t, err)
	sessionID := strings.TrimSpace(out)
	require.NotEmpty(t, sessionID)

	out, err = c.run("history", "--json")
	require.NoError(t, err)

	var view struct {
		Total    int `json:"total"`
		Sessions []struct {
			ID         string `json:"id"`
			Provenance string `json:"provenance"`
			Steps      int    `json:"steps"`
			Notes      string `json:"notes"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Equal(t, 1, view.Total)
	assert.Equal(t, sessionID, view.Sessions[0].ID)
	assert.Equal(t, "manual", view.Sessions[0].Provenance)
	assert.Equal(t, 2000, view.Sessions[0].Steps)
	assert.Equal(t, "hotel gym", view.Sessions[0].Notes)

	out, err = c.run("goals", "progress", goalID)
	require.NoError(t, err)
	assert.Contains(t, out, "Completed")
}

func TestHistoryAddRejectsBadInput(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("history", "add", "--duration", "10m")
	assert.Error(t, err)

	_, err = c.run("history", "add", "--start", "2024-05-01 10:00")
	assert.Error(t, err)

	_, err = c.run("history", "add", "--start", "2024-05-01 10:00", "--end", "2024-05-01 09:00")
	assert.Error(t, err)

	out, err := c.run("history")
	require.NoError(t, err)
	assert.Contains(t, out, "0 of 0 sessions")
}

func TestGoalsUpdateAndDelete(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("goals", "add", "distance", "5")
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	_, err = c.run("goals", "update", id)
	assert.Error(t, err)

	end := time.Now().AddDate(0, 0, 7).Format(time.DateOnly)
	out, err = c.run("goals", "update", id, "--target", "8", "--end", end)
	require.NoError(t, err)

	var g struct {
		Target  float64 `json:"target_value"`
		EndDate string  `json:"end_date"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Equal(t, 8.0, g.Target)
	assert.True(t, strings.HasPrefix(g.EndDate, end))

	_, err = c.run("goals", "update", id, "--target", "0")
	assert.Error(t, err)

	_, err = c.run("goals", "delete", id)
	require.NoError(t, err)

	out, err = c.run("goals", "list", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, err = c.run("goals", "delete", id)
	assert.Error(t, err)
}
