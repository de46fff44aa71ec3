package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/shelf-crawler/internal/config"
	"github.com/maltedev/shelf-crawler/internal/models"
	"github.com/maltedev/shelf-crawler/internal/sink"
)

func TestApplyFlags_OnlyChangedFlagsOverride(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
	require.NoError(t, cmd.Flags().Parse([]string{"--concurrency", "8", "--sink", "sqlite"}))

	c := &config.Config{
		Crawler: config.CrawlerConfig{MaxRetries: 5, Concurrency: 2},
		Sink:    config.SinkConfig{Type: "memory"},
	}
	applyFlags(cmd, c)

	assert.Equal(t, 5, c.Crawler.MaxRetries)
	assert.Equal(t, 8, c.Crawler.Concurrency)
	assert.Equal(t, "sqlite", c.Sink.Type)
}

func TestOpenSink(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		cfg  config.SinkConfig
		want any
	}{
		{cfg: config.SinkConfig{Type: "memory"}, want: &sink.Memory{}},
		{cfg: config.SinkConfig{Type: "file", Path: filepath.Join(dir, "out")}, want: &sink.File{}},
		{cfg: config.SinkConfig{Type: "sqlite", Path: filepath.Join(dir, "out.db")}, want: &sink.SQLite{}},
	}

	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			s, err := openSink(tt.cfg)
			require.NoError(t, err)
			defer s.Close()
			assert.IsType(t, tt.want, s)

			require.NoError(t, s.Append(context.Background(), "details_j", map[string]string{"url": "https://shop.se/p/1"}))
			records, err := s.Records(context.Background(), "details_j")
			require.NoError(t, err)
			assert.Len(t, records, 1)
		})
	}
}

func TestLoadUnits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "units.json")
	unit := models.NewDetailUnit(&models.ListingCard{URL: "https://www.trademax.se/p/1", PopularityIndex: 4}, "explore-job")
	unit.State = models.StateSucceeded
	unit.RetryCount = 2
	require.NoError(t, writeJSON(path, nil, []*models.WorkUnit{unit}))

	units, err := loadUnits(path, "new-job", false, []string{"https://www.trademax.se/p/2"})
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, "explore-job", units[0].UserData.JobID)
	assert.Equal(t, 4, units[0].UserData.PopularityIndex)
	assert.Equal(t, models.StatePending, units[0].State)
	assert.Zero(t, units[0].RetryCount)

	assert.Equal(t, "new-job", units[1].UserData.JobID)
	assert.Equal(t, models.KindDetail, units[1].Kind)

	units, err = loadUnits(path, "new-job", true, nil)
	require.NoError(t, err)
	assert.Equal(t, "new-job", units[0].UserData.JobID)
}

func TestLoadUnits_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "units.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, err := loadUnits(path, "j", false, nil)
	assert.Error(t, err)

	_, err = loadUnits(filepath.Join(t.TempDir(), "missing.json"), "j", false, nil)
	assert.Error(t, err)
}
