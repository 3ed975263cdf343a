package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type LevelList []logrus.Level

func (a LevelList) MarshalText() ([]byte, error) {
	if len(a) == 0 {
		return []byte("-"), nil
	}

	var s string

	for i, e := range a {
		if i != 0 {
			s += ","
		}

		s += e.String()
	}

	return []byte(s), nil
}

func (a *LevelList) UnmarshalText(d []byte) error {
	if string(d) == "" || string(d) == "-" {
		*a = LevelList{}
		return nil
	}

	var aa LevelList

	for _, e := range strings.Split(string(d), ",") {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}

		l, err := logrus.ParseLevel(e)
		if err != nil {
			return fmt.Errorf("config.LevelList.UnmarshalText: could not parse value as logrus level: %w", err)
		}

		aa = append(aa, l)
	}

	*a = aa

	return nil
}

type LogQueries struct {
	Enabled    bool
	SlowerThan time.Duration
}

func (l LogQueries) String() string {
	if l.Enabled {
		if l.SlowerThan != 0 {
			return ">" + l.SlowerThan.String()
		}

		return "all"
	}

	return "none"
}

func (l LogQueries) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *LogQueries) UnmarshalText(d []byte) error {
	s := string(d)

	switch s {
	case "all":
		l.Enabled = true
		l.SlowerThan = 0
		return nil
	case "", "none":
		l.Enabled = false
		l.SlowerThan = 0
		return nil
	default:
		if s[0] == '>' && len(s) > 1 {
			d, err := time.ParseDuration(s[1:])
			if err != nil {
				return fmt.Errorf("config.LogQueries.UnmarshalText: could not parse value as duration: %w", err)
			}
			l.Enabled = true
			l.SlowerThan = d
			return nil
		}

		return fmt.Errorf("config.LogQueries.UnmarshalText: unrecognised input %q; valid options are none, all, or >x where x is a duration", s)
	}
}

func (l *LogQueries) IsZero() bool {
	return l.Enabled == false && l.SlowerThan == 0
}

// Duration is a time.Duration that reads and writes its text form ("5m",
// "1h30m") so it can be set from flags, environment variables, and config
// files alike.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("config.Duration.UnmarshalText: could not parse value as duration: %w", err)
	}

	*d = Duration(v)

	return nil
}

type Config struct {
	Config               string       `name:"config" toml:"config" yaml:"config" help:"Config file location."`
	LogLevel             logrus.Level `name:"log_level" toml:"log_level" yaml:"log_level" help:"Global log level."`
	LogDebugLevels       LevelList    `name:"log_debug_levels" toml:"log_debug_levels" yaml:"log_debug_levels" help:"Which log levels to include stack data on."`
	LogQueries           LogQueries   `name:"log_queries" toml:"log_queries" yaml:"log_queries" help:"Log SQL queries."`
	LogSORM              bool         `name:"log_sorm" toml:"log_sorm" yaml:"log_sorm" help:"Log SORM queries."`
	ApplicationAddr      string       `name:"application_addr" toml:"application_addr" yaml:"application_addr" help:"Address to listen on for application server."`
	ApplicationDatabase  string       `name:"application_database" toml:"application_database" yaml:"application_database" help:"Database location for application."`
	ApplicationCachePath string       `name:"application_cache_path" toml:"application_cache_path" yaml:"application_cache_path" help:"Location for HTTP client cache."`
	BackgroundWorkers    int          `name:"background_workers" toml:"background_workers" yaml:"background_workers" help:"How many background workers to run."`

	YouTubeAPIKey   string `name:"youtube_api_key" toml:"youtube_api_key" yaml:"youtube_api_key" help:"API key for the YouTube Data API."`
	YouTubeEndpoint string `name:"youtube_endpoint" toml:"youtube_endpoint" yaml:"youtube_endpoint" help:"Override base URL for the YouTube Data API."`
	ChzzkEndpoint   string `name:"chzzk_endpoint" toml:"chzzk_endpoint" yaml:"chzzk_endpoint" help:"Base URL for the CHZZK service API."`

	UpstreamDelay       Duration `name:"upstream_delay" toml:"upstream_delay" yaml:"upstream_delay" help:"Minimum delay between consecutive upstream API calls."`
	RetryBase           Duration `name:"retry_base" toml:"retry_base" yaml:"retry_base" help:"Base backoff for retried upstream calls."`
	MetadataCacheMaxAge Duration `name:"metadata_cache_max_age" toml:"metadata_cache_max_age" yaml:"metadata_cache_max_age" help:"How long cached upstream channel pages stay fresh."`

	SyncCooldown     Duration `name:"sync_cooldown" toml:"sync_cooldown" yaml:"sync_cooldown" help:"Cooldown applied after a recent-mode channel sync."`
	SyncFullPages    int      `name:"sync_full_pages" toml:"sync_full_pages" yaml:"sync_full_pages" help:"Maximum number of upstream pages fetched by a full sync."`
	SyncUpsertChunk  int      `name:"sync_upsert_chunk" toml:"sync_upsert_chunk" yaml:"sync_upsert_chunk" help:"Number of video rows written per upsert statement batch."`
	RetentionDays    int      `name:"retention_days" toml:"retention_days" yaml:"retention_days" help:"Size of the rolling cache window in days."`
	RetentionVODDays int      `name:"retention_vod_days" toml:"retention_vod_days" yaml:"retention_vod_days" help:"Extra days VOD rows are kept past the window."`
	SnapshotInterval Duration `name:"snapshot_interval" toml:"snapshot_interval" yaml:"snapshot_interval" help:"Minimum spacing between stored view count snapshots of one video."`

	BatchConcurrency  int      `name:"batch_concurrency" toml:"batch_concurrency" yaml:"batch_concurrency" help:"How many channels a batch sync runs at once."`
	BatchPause        Duration `name:"batch_pause" toml:"batch_pause" yaml:"batch_pause" help:"Pause between batch sync chunks."`
	SchedulerInterval Duration `name:"scheduler_interval" toml:"scheduler_interval" yaml:"scheduler_interval" help:"How often scheduled refresh jobs are enqueued; zero disables the scheduler."`
	RefreshOlderThan  Duration `name:"refresh_older_than" toml:"refresh_older_than" yaml:"refresh_older_than" help:"Scheduled refresh picks channels last synced longer ago than this."`
}
