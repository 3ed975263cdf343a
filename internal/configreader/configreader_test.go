package configreader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fknsrs.biz/p/feedsync/internal/config"
)

type testConfig struct {
	Config       string          `name:"config" yaml:"config" toml:"config"`
	Addr         string          `name:"addr" yaml:"addr" toml:"addr"`
	Workers      int             `name:"workers" yaml:"workers" toml:"workers"`
	Verbose      bool            `name:"verbose" yaml:"verbose" toml:"verbose"`
	SyncCooldown config.Duration `name:"sync_cooldown" yaml:"sync_cooldown" toml:"sync_cooldown"`
	BatchPause   time.Duration   `name:"batch_pause" yaml:"batch_pause" toml:"batch_pause"`
	Channels     []string        `name:"channels" yaml:"channels" toml:"channels"`
	Ignored      string          `name:"-" yaml:"-" toml:"-"`
	internal     string
}

func TestReadEnvironment(t *testing.T) {
	a := assert.New(t)

	cfg := testConfig{Addr: ":8080", Workers: 1}

	require.NoError(t, Read("test", nil, []string{
		"WORKERS=4",
		"Verbose=yes",
		"SYNC_COOLDOWN=90s",
		"IGNORED=x",
		"UNRELATED=y",
	}, &cfg))

	a.Equal(":8080", cfg.Addr)
	a.Equal(4, cfg.Workers)
	a.True(cfg.Verbose)
	a.Equal(time.Second*90, cfg.SyncCooldown.Duration())
	a.Equal("", cfg.Ignored)
}

func TestReadEnvironmentPrefix(t *testing.T) {
	a := assert.New(t)

	var cfg testConfig

	require.NoError(t, Read("/usr/local/bin/feed-sync", nil, []string{
		"FEED_SYNC_WORKERS=8",
		"WORKERS=2",
		"ADDR=:6000",
		"feed_sync_batch_pause=1500ms",
		"CHANNELS=UC1, UC2,,UC3",
	}, &cfg))

	a.Equal(8, cfg.Workers)
	a.Equal(":6000", cfg.Addr)
	a.Equal(time.Millisecond*1500, cfg.BatchPause)
	a.Equal([]string{"UC1", "UC2", "UC3"}, cfg.Channels)
}

func TestReadEnvironmentErrors(t *testing.T) {
	for _, env := range []string{"WORKERS=many", "SYNC_COOLDOWN=soon", "BATCH_PAUSE=10"} {
		t.Run(env, func(t *testing.T) {
			var cfg testConfig
			assert.Error(t, Read("test", nil, []string{env}, &cfg))
		})
	}
}

func TestReadArgumentsThenEnvironment(t *testing.T) {
	a := assert.New(t)

	var cfg testConfig

	require.NoError(t, Read("test", []string{"-addr", ":9000", "-workers=2", "-sync_cooldown=1m", "-verbose", "-batch_pause", "3s"}, []string{"WORKERS=3"}, &cfg))

	a.Equal(":9000", cfg.Addr)
	a.Equal(3, cfg.Workers)
	a.True(cfg.Verbose)
	a.Equal(time.Minute, cfg.SyncCooldown.Duration())
	a.Equal(time.Second*3, cfg.BatchPause)
}

func TestReadHelp(t *testing.T) {
	var cfg testConfig

	err := Read("test", []string{"-h"}, nil, &cfg)
	assert.ErrorIs(t, err, ErrHelp)
}

func TestReadUnknownFlag(t *testing.T) {
	var cfg testConfig

	err := Read("test", []string{"-nope"}, nil, &cfg)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrHelp)
}

func TestReadFile(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
	}{
		{"config.yaml", "addr: \":7000\"\nworkers: 5\nsync_cooldown: 2m\n"},
		{"config.toml", "addr = \":7000\"\nworkers = 5\nsync_cooldown = \"2m\"\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			p := filepath.Join(t.TempDir(), tc.name)
			require.NoError(t, os.WriteFile(p, []byte(tc.content), 0644))

			var cfg testConfig

			require.NoError(t, Read("test", []string{"-config", p}, []string{"WORKERS=6"}, &cfg))

			a.Equal(":7000", cfg.Addr)
			a.Equal(6, cfg.Workers)
			a.Equal(time.Minute*2, cfg.SyncCooldown.Duration())
		})
	}
}

func TestReadRejectsUnsupported(t *testing.T) {
	var n int
	assert.Error(t, Read("test", nil, nil, &n))
	assert.Error(t, Read("test", nil, nil, testConfig{}))

	var bad struct {
		Weights map[string]int
	}
	assert.Error(t, Read("test", nil, nil, &bad))
}
