package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni/v2"
	"go.etcd.io/bbolt"

	"fknsrs.biz/p/feedsync/handlers"
	"fknsrs.biz/p/feedsync/internal/batchsync"
	"fknsrs.biz/p/feedsync/internal/catchpanic"
	"fknsrs.biz/p/feedsync/internal/channelsync"
	"fknsrs.biz/p/feedsync/internal/chzzk"
	"fknsrs.biz/p/feedsync/internal/config"
	"fknsrs.biz/p/feedsync/internal/configreader"
	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/ctxdb"
	"fknsrs.biz/p/feedsync/internal/ctxhttpclient"
	"fknsrs.biz/p/feedsync/internal/ctxjobqueue"
	"fknsrs.biz/p/feedsync/internal/ctxlogger"
	"fknsrs.biz/p/feedsync/internal/ctxtimer"
	"fknsrs.biz/p/feedsync/internal/feed"
	"fknsrs.biz/p/feedsync/internal/httpcache"
	"fknsrs.biz/p/feedsync/internal/jobqueue"
	"fknsrs.biz/p/feedsync/internal/jobs"
	"fknsrs.biz/p/feedsync/internal/logrusstackhook"
	"fknsrs.biz/p/feedsync/internal/queuenames"
	"fknsrs.biz/p/feedsync/internal/retention"
	"fknsrs.biz/p/feedsync/internal/retry"
	"fknsrs.biz/p/feedsync/internal/schema"
	"fknsrs.biz/p/feedsync/internal/sqlitelogger"
	"fknsrs.biz/p/feedsync/internal/store"
	"fknsrs.biz/p/feedsync/internal/upstream"
	"fknsrs.biz/p/feedsync/internal/youtubeapi"
)

func init() {
	sorm.SetParameterPrefix("?")
}

var cfg = config.Config{
	LogLevel:             logrus.InfoLevel,
	LogDebugLevels:       config.LevelList{logrus.DebugLevel, logrus.TraceLevel},
	LogQueries:           config.LogQueries{Enabled: true, SlowerThan: time.Millisecond * 100},
	LogSORM:              false,
	ApplicationAddr:      ":8080",
	ApplicationDatabase:  "database.db?_busy_timeout=5000&_foreign_keys=1",
	ApplicationCachePath: "cache.db",
	BackgroundWorkers:    1,

	ChzzkEndpoint:       chzzk.DefaultEndpoint,
	UpstreamDelay:       config.Duration(time.Millisecond * 250),
	RetryBase:           config.Duration(time.Millisecond * 500),
	MetadataCacheMaxAge: config.Duration(time.Minute * 10),

	SyncCooldown:     config.Duration(channelsync.DefaultCooldown),
	SyncFullPages:    channelsync.DefaultFullPages,
	SyncUpsertChunk:  store.DefaultUpsertChunk,
	RetentionDays:    retention.WindowDays,
	RetentionVODDays: 30,
	SnapshotInterval: config.Duration(store.DefaultSnapshotInterval),

	BatchConcurrency:  batchsync.DefaultConcurrency,
	BatchPause:        config.Duration(batchsync.DefaultPause),
	SchedulerInterval: config.Duration(time.Minute * 15),
	RefreshOlderThan:  config.Duration(jobs.DefaultRefreshOlderThan),
}

func init() {
	for _, configPath := range []string{"config.toml", "config.yaml", "config.yml"} {
		if st, err := os.Stat(configPath); err == nil && st != nil && !st.IsDir() {
			cfg.Config = configPath
		}
	}
}

type simpleQueryLogger struct {
	logger *logrus.Logger
}

func (s *simpleQueryLogger) LogQuery(query string, args []interface{}) {
	fields := logrus.Fields{
		"db.query":      query,
		"db.args.count": len(args),
	}

	for i, e := range args {
		fields[fmt.Sprintf("db.args.%d", i)] = e
	}

	s.logger.WithFields(fields).Info("sorm query start")
}

func (s *simpleQueryLogger) LogQueryAfter(query string, args []interface{}, duration time.Duration, err error) {
	fields := logrus.Fields{
		"db.query":      query,
		"db.duration":   duration,
		"db.error":      err,
		"db.args.count": len(args),
	}

	for i, e := range args {
		fields[fmt.Sprintf("db.args.%d", i)] = e
	}

	s.logger.WithFields(fields).Info("sorm query finish")
}

// services is everything the http and job workers share.
type services struct {
	store       *store.Store
	syncer      *channelsync.Syncer
	feed        *feed.Engine
	coordinator *batchsync.Coordinator
	scheduler   *jobs.Scheduler
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := configreader.Read(os.Args[0], os.Args[1:], os.Environ(), &cfg); err != nil {
		if errors.Is(err, configreader.ErrHelp) {
			return
		}
		panic(err)
	}

	ctx = ctxclock.WithClock(ctx, ctxclock.NewRealClock())

	logger := logrus.New()

	logger.SetLevel(cfg.LogLevel)
	if len(cfg.LogDebugLevels) > 0 {
		logger.AddHook(logrusstackhook.NewStackHook(cfg.LogDebugLevels, nil))
	}

	logger.WithFields(logrus.Fields{
		"config.config":                 cfg.Config,
		"config.log_level":              cfg.LogLevel,
		"config.log_debug_levels":       cfg.LogDebugLevels,
		"config.log_queries":            cfg.LogQueries,
		"config.log_sorm":               cfg.LogSORM,
		"config.application_addr":       cfg.ApplicationAddr,
		"config.application_cache_path": cfg.ApplicationCachePath,
		"config.application_database":   cfg.ApplicationDatabase,
		"config.background_workers":     cfg.BackgroundWorkers,
		"config.youtube_api_key_set":    cfg.YouTubeAPIKey != "",
		"config.chzzk_endpoint":         cfg.ChzzkEndpoint,
		"config.upstream_delay":         cfg.UpstreamDelay,
		"config.sync_cooldown":          cfg.SyncCooldown,
		"config.sync_full_pages":        cfg.SyncFullPages,
		"config.retention_days":         cfg.RetentionDays,
		"config.retention_vod_days":     cfg.RetentionVODDays,
		"config.batch_concurrency":      cfg.BatchConcurrency,
		"config.scheduler_interval":     cfg.SchedulerInterval,
	}).Info("program starting")

	if cfg.LogSORM {
		sorm.SetQueryLogger(&simpleQueryLogger{logger})
	}

	ctx = ctxlogger.WithLogger(ctx, logger)

	// statements are always counted; they're only logged when asked for
	const dbDriver = "sqlite3:logged"

	sql.Register(dbDriver, sqlitelogger.New(
		dbDriver,
		&sqlite3.SQLiteDriver{},
		&sqlitelogger.BasicFilter{
			CancelAll:     cfg.LogQueries.IsZero(),
			LogSlowerThan: cfg.LogQueries.SlowerThan,
			IgnorePackageStackFrames: []string{
				// standard library
				"database/sql",
				"net/http",
				"runtime",
				// libraries
				"github.com/gorilla/mux",
				"github.com/shogo82148/go-sql-proxy",
				"github.com/urfave/negroni/v2",
				// middleware
				"fknsrs.biz/p/feedsync/internal/catchpanic",
				"fknsrs.biz/p/feedsync/internal/ctxclock",
				"fknsrs.biz/p/feedsync/internal/ctxdb",
				"fknsrs.biz/p/feedsync/internal/ctxhttpclient",
				"fknsrs.biz/p/feedsync/internal/ctxjobqueue",
				"fknsrs.biz/p/feedsync/internal/ctxlogger",
				"fknsrs.biz/p/feedsync/internal/ctxtimer",
				"fknsrs.biz/p/feedsync/internal/sqlitelogger",
				// main
				"main",
			},
			IgnoreFunctionQueries: []string{
				"fknsrs.biz/p/feedsync/internal/jobqueue.(*Worker).Run",
			},
		},
	))

	db, err := sql.Open(dbDriver, cfg.ApplicationDatabase)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if err := schema.Migrate(ctx, db); err != nil {
		panic(err)
	}

	ctx = ctxdb.WithDB(ctx, db)

	cacheDB, err := bbolt.Open(cfg.ApplicationCachePath, 0600, &bbolt.Options{Timeout: time.Second * 5})
	if err != nil {
		panic(err)
	}
	defer cacheDB.Close()

	ctx = ctxhttpclient.WithHTTPClient(ctx, &http.Client{
		Timeout:   time.Second * 30,
		Transport: httpcache.NewTransport(nil, httpcache.NewBBoltStorage(cacheDB), cfg.MetadataCacheMaxAge.Duration()),
	})

	svc, err := makeServices(ctx, db)
	if err != nil {
		panic(err)
	}

	w := jobqueue.NewWorker(nil)
	w.SetPriority(queuenames.Priority)

	ctx = ctxjobqueue.WithWorker(ctx, w)

	if err := registerJobQueueWorkerFunctions(ctx, svc); err != nil {
		panic(err)
	}

	workers := []worker{
		{
			name: "application",
			run: func(ctx context.Context) error {
				return runApplicationWorker(ctx, cfg.ApplicationAddr, svc)
			},
		},
		{
			name: "scheduler",
			run: func(ctx context.Context) error {
				return svc.scheduler.Run(ctx)
			},
		},
	}

	for i := 0; i < cfg.BackgroundWorkers; i++ {
		workers = append(workers, worker{
			name: fmt.Sprintf("job_queue.%d", i),
			run: func(ctx context.Context) error {
				return runJobQueueWorker(ctx)
			},
		})
	}

	if err := runAllWorkers(ctx, workers); err != nil {
		logger.WithError(err).Error("program failed")
		os.Exit(1)
	}

	logger.Info("program stopped")
}

func makeServices(ctx context.Context, db *sql.DB) (*services, error) {
	l := ctxlogger.GetLogger(ctx)

	st := store.New(
		db,
		store.WithUpsertChunk(cfg.SyncUpsertChunk),
		store.WithSnapshotInterval(cfg.SnapshotInterval.Duration()),
	)

	policy := retry.DefaultPolicy()
	if cfg.RetryBase > 0 {
		policy.Base = cfg.RetryBase.Duration()
	}

	var adapters []upstream.Adapter

	adapters = append(adapters, chzzk.New(
		chzzk.WithEndpoint(cfg.ChzzkEndpoint),
		chzzk.WithHTTPClient(&http.Client{Timeout: time.Second * 30}),
		chzzk.WithRetryPolicy(policy),
		chzzk.WithSpacer(upstream.NewSpacer(cfg.UpstreamDelay.Duration())),
	))

	if cfg.YouTubeAPIKey != "" {
		yt, err := youtubeapi.New(
			ctx,
			cfg.YouTubeAPIKey,
			cfg.YouTubeEndpoint,
			youtubeapi.WithRetryPolicy(policy),
			youtubeapi.WithSpacer(upstream.NewSpacer(cfg.UpstreamDelay.Duration())),
			youtubeapi.WithPlaylistMemo(st),
		)
		if err != nil {
			return nil, fmt.Errorf("makeServices: %w", err)
		}

		adapters = append(adapters, yt)
	} else {
		l.Warn("no youtube api key configured; youtube channels will fail to sync")
	}

	syncer := channelsync.New(
		st,
		upstream.NewRegistry(adapters...),
		channelsync.WithCooldown(cfg.SyncCooldown.Duration()),
		channelsync.WithFullPages(cfg.SyncFullPages),
		channelsync.WithWindowDays(cfg.RetentionDays),
	)

	return &services{
		store:  st,
		syncer: syncer,
		feed:   feed.New(st),
		coordinator: batchsync.New(
			syncer,
			st,
			batchsync.WithConcurrency(cfg.BatchConcurrency),
			batchsync.WithPause(cfg.BatchPause.Duration()),
		),
		scheduler: jobs.NewScheduler(cfg.SchedulerInterval.Duration(), cfg.RefreshOlderThan.Duration()),
	}, nil
}

type worker struct {
	name string
	run  func(ctx context.Context) error
}

// runAllWorkers runs every worker until ctx is done. A worker that returns
// cleanly is restarted; one that fails stops all of them.
func runAllWorkers(ctx context.Context, workers []worker) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	done := make(chan error, len(workers))

	for id, w := range workers {
		go func(id int, w worker) {
			l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
				"worker.id":   id + 1,
				"worker.name": w.name,
			})

			ctx := ctxlogger.WithLogger(ctx, l)

			for {
				err := catchpanic.CatchErr0(func() error { return w.run(ctx) })

				if ctx.Err() != nil {
					done <- nil
					return
				}

				if err != nil {
					fl := l.WithError(err)
					if origin := catchpanic.Origin(err); origin != "" {
						fl = fl.WithField("worker.panic_origin", origin)
					}
					fl.Error("worker failed")

					err = fmt.Errorf("worker %d (%s) failed: %w", id+1, w.name, err)
					cancel(err)
					done <- err
					return
				}

				l.Info("worker restarted")

				time.Sleep(time.Second)
			}
		}(id, w)
	}

	var errs []error
	for range workers {
		if err := <-done; err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func runApplicationWorker(ctx context.Context, addr string, svc *services) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithFields(logrus.Fields{
		"args.addr": addr,
	}).Info("running application worker")

	api := &handlers.API{
		Store:         svc.store,
		Syncer:        svc.syncer,
		Pager:         svc.feed,
		Batch:         svc.coordinator,
		RetentionDays: cfg.RetentionDays,
		VODGraceDays:  cfg.RetentionVODDays,
	}

	m := mux.NewRouter()
	api.Routes(m)

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseFunc(ctxlogger.Register(l))
	n.UseFunc(ctxtimer.Register(nil))
	n.UseFunc(ctxclock.Register(ctxclock.GetClock(ctx)))
	n.UseFunc(ctxdb.Register(ctxdb.GetDB(ctx)))
	n.UseFunc(ctxhttpclient.Register(ctxhttpclient.GetHTTPClient(ctx)))
	n.UseFunc(ctxjobqueue.Register(ctxjobqueue.GetWorker(ctx)))
	n.UseFunc(ctxtimer.AddLoggerHooks())
	n.UseFunc(ctxclock.AddLoggerHooks())
	n.UseFunc(sqlitelogger.AddLoggerHooks())
	n.UseFunc(ctxlogger.Log())
	n.UseHandler(m)

	s := &http.Server{
		Addr:              addr,
		Handler:           n,
		ReadHeaderTimeout: time.Second * 10,
		BaseContext:       func(l net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		l.Info("starting server")
		errs <- s.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

func registerJobQueueWorkerFunctions(ctx context.Context, svc *services) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithFields(logrus.Fields{}).Info("registering job queue worker functions")

	w := ctxjobqueue.GetWorker(ctx)
	if w == nil {
		return fmt.Errorf("job queue worker not available in context")
	}

	fns := &jobs.Functions{
		Syncer:        svc.syncer,
		Batch:         svc.coordinator,
		Purger:        svc.store,
		RetentionDays: cfg.RetentionDays,
		VODGraceDays:  cfg.RetentionVODDays,
	}

	return w.RegisterAll(fns.Map())
}

func runJobQueueWorker(ctx context.Context) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithFields(logrus.Fields{}).Info("running job queue worker")

	w := ctxjobqueue.GetWorker(ctx)
	if w == nil {
		return fmt.Errorf("job queue worker not available in context")
	}

	return w.Run(ctx)
}
