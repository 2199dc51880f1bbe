// Package app wires the client core together from a Config.
package app

import (
	"context"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kimhsiao/wishwell/backend/internal/config"
	"github.com/kimhsiao/wishwell/backend/internal/crypto"
	"github.com/kimhsiao/wishwell/backend/internal/db"
	"github.com/kimhsiao/wishwell/backend/internal/docstore"
	"github.com/kimhsiao/wishwell/backend/internal/engagement"
	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
	"github.com/kimhsiao/wishwell/backend/internal/logging"
	"github.com/kimhsiao/wishwell/backend/internal/remote"
	"github.com/kimhsiao/wishwell/backend/internal/services"
	"github.com/kimhsiao/wishwell/backend/internal/sync/connectivity"
	"github.com/kimhsiao/wishwell/backend/internal/sync/queue"
	"github.com/kimhsiao/wishwell/backend/internal/sync/scheduler"
	"github.com/kimhsiao/wishwell/backend/internal/telemetry"
)

// App holds the wired components.
type App struct {
	Config      *config.Config
	Logger      *logging.Logger
	DB          *db.DB
	Preferences *db.PreferenceRepository
	Reported    *connectivity.Reported
	Prober      connectivity.Prober
	Metrics     *telemetry.Metrics
	Ledger      *engagement.Ledger
	Queue       *queue.Queue
	Service     *services.WishService
	Scheduler   *scheduler.Scheduler
}

type options struct {
	logOut  io.Writer
	creator queue.RecordCreator
	prober  connectivity.Prober
	sinks   []telemetry.Recorder
}

// Option customizes Open.
type Option func(*options)

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOut = w }
}

// WithCreator replaces the HTTP remote client.
func WithCreator(c queue.RecordCreator) Option {
	return func(o *options) { o.creator = c }
}

// WithProber replaces the HTTP reachability probe.
func WithProber(p connectivity.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithTelemetrySink adds a recorder that receives every event.
func WithTelemetrySink(r telemetry.Recorder) Option {
	return func(o *options) { o.sinks = append(o.sinks, r) }
}

// Open builds every component from cfg. The caller must Close the App.
func Open(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{logOut: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "load time zone", err)
	}

	logger := logging.New(o.logOut, logging.ParseLevel(cfg.Logging.Level))

	database, err := db.OpenMigrated(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:      cfg,
		Logger:      logger,
		DB:          database,
		Preferences: db.NewPreferenceRepository(database.DB),
		Reported:    connectivity.NewReported(true),
	}

	recorders := append([]telemetry.Recorder{}, o.sinks...)
	if cfg.Telemetry.Enabled {
		a.Metrics = telemetry.NewMetrics(prometheus.NewRegistry())
		recorders = append(recorders, a.Metrics, telemetry.NewLogRecorder(logger))
	}
	var rec telemetry.Recorder = telemetry.Noop{}
	if len(recorders) > 0 {
		rec = telemetry.Multi(recorders...)
	}

	a.Prober = o.prober
	if a.Prober == nil {
		a.Prober = connectivity.NewHTTPProber(
			connectivity.WithURL(cfg.Probe.URL),
			connectivity.WithTimeout(cfg.Probe.Timeout),
			connectivity.WithFallback(a.Reported),
			connectivity.WithLogger(logger),
		)
	}

	creator := o.creator
	if creator == nil {
		token, err := crypto.DecryptToken(cfg.Remote.TokenEncrypted, cfg.Remote.MachineID)
		if err != nil {
			database.Close()
			return nil, apperrors.Wrap(apperrors.ErrConfig, "decrypt remote token", err)
		}
		creator = remote.NewHTTPCreator(remote.Config{
			BaseURL: cfg.Remote.BaseURL,
			Token:   token,
			Timeout: cfg.Remote.Timeout,
		})
	}

	docs := db.NewDocumentStore(database.DB,
		db.WithDocumentAuthorizer(docstore.OwnerOnly),
		db.WithDocumentMaxAttempts(cfg.Engagement.MaxTxAttempts),
	)
	a.Ledger = engagement.NewLedger(docs,
		engagement.WithLocation(loc),
		engagement.WithLogger(logger),
		engagement.WithTelemetry(rec),
	)

	a.Queue = queue.NewQueue(db.NewKVStore(database.DB), creator, a.Prober,
		queue.WithMaxLength(cfg.Queue.MaxLength),
		queue.WithRetryBase(cfg.Queue.RetryBase),
		queue.WithRetryMax(cfg.Queue.RetryMax),
		queue.WithStorageKey(cfg.Queue.StorageKey),
		queue.WithLogger(logger),
		queue.WithTelemetry(rec),
		queue.WithEngagement(a.Ledger),
		queue.WithPostTypes(a.Preferences),
	)

	a.Service = services.NewWishService(creator, a.Prober, a.Queue, a.Ledger,
		services.WithPostTypes(a.Preferences),
		services.WithPreferences(a.Preferences),
		services.WithCreateTimeout(cfg.Remote.Timeout),
		services.WithLogger(logger),
		services.WithTelemetry(rec),
	)

	a.Scheduler = scheduler.NewScheduler(a.Queue, &scheduler.SchedulerConfig{
		FlushInterval: cfg.Scheduler.FlushInterval,
		TriggerRate:   cfg.Scheduler.TriggerRate,
		TriggerBurst:  cfg.Scheduler.TriggerBurst,
	}, scheduler.WithLogger(logger), scheduler.WithReported(a.Reported))

	return a, nil
}

// Context attaches the session user, which the document store rules check.
func (a *App) Context(ctx context.Context) context.Context {
	return docstore.WithUser(ctx, a.Config.Session.UserID)
}

// UserID returns the session user.
func (a *App) UserID() string {
	return a.Config.Session.UserID
}

// Close stops the scheduler and closes the database.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
