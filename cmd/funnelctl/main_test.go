package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dsn string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--driver", "sqlite", "--dsn", dsn, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestOperatorWorkflow(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "funnel.db")

	out, err := run(t, dsn, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied")

	out, err = run(t, dsn, "seed", "--file", "testdata/seed.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 1 campaigns, 3 prospects")

	out, err = run(t, dsn, "health", "--strict")
	require.Error(t, err)
	var report struct {
		CorruptedCount       int      `json:"corrupted_count"`
		TotalProspects       int      `json:"total_prospects"`
		CorruptedCampaignIDs []string `json:"corrupted_campaign_ids"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.CorruptedCount)
	assert.Equal(t, 3, report.TotalProspects)
	assert.Equal(t, []string{"camp-1"}, report.CorruptedCampaignIDs)

	_, err = run(t, dsn, "health")
	assert.NoError(t, err, "anomalies only fail the command with --strict")

	out, err = run(t, dsn, "repair")
	require.NoError(t, err)
	assert.Contains(t, out, `"fixed_count": 1`)

	_, err = run(t, dsn, "health", "--strict")
	assert.NoError(t, err)
}

func TestSeedRejectsUnknownStatus(t *testing.T) {
	f := &seedFile{Campaigns: []seedCampaign{{
		WorkspaceID: "ws-1",
		Name:        "x",
		Type:        "connector",
		Prospects:   []seedProspect{{FirstName: "A", Status: "archived"}},
	}}}
	dsn := filepath.Join(t.TempDir(), "funnel.db")
	s, err := (&options{driver: "sqlite", dsn: dsn, logLevel: "error"}).open(testContext(t))
	require.NoError(t, err)
	defer s.Close()

	_, err = f.apply(testContext(t), s.db)
	assert.ErrorContains(t, err, "unknown status")
}

func TestLoadSeedFileMissing(t *testing.T) {
	_, err := loadSeedFile("testdata/nope.yaml")
	assert.Error(t, err)
}
