// Package bot assembles the intake pipeline, the chat platform adapters and
// the background jobs into one long-running process.
package bot

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/cooldog631-ai/aim-bot/internal/api"
	"github.com/cooldog631-ai/aim-bot/internal/config"
	"github.com/cooldog631-ai/aim-bot/internal/intake"
	"github.com/cooldog631-ai/aim-bot/internal/logger"
	"github.com/cooldog631-ai/aim-bot/internal/messenger"
	"github.com/cooldog631-ai/aim-bot/internal/metrics"
	"github.com/cooldog631-ai/aim-bot/internal/reminder"
	"github.com/cooldog631-ai/aim-bot/internal/store"
)

// Daemon runs every configured platform adapter against one pipeline, plus
// the session janitor, the daily reminder and the HTTP API.
type Daemon struct {
	db          *gorm.DB
	cfg         *config.Config
	ports       []messenger.Port
	transcriber intake.Transcriber
	extractor   intake.Extractor
	registry    *prometheus.Registry
	log         *logger.Logger
	out         io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	DB     *gorm.DB
	Config *config.Config
	// Ports overrides the adapters built from Config.Platforms.
	Ports []messenger.Port
	// Transcriber and Extractor override the AI backends built from Config.AI.
	Transcriber intake.Transcriber
	Extractor   intake.Extractor
	Registry    *prometheus.Registry // defaults to a fresh registry
	Log         *logger.Logger
	Out         io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: config is required")
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	return &Daemon{
		db:          opts.DB,
		cfg:         opts.Config,
		ports:       opts.Ports,
		transcriber: opts.Transcriber,
		extractor:   opts.Extractor,
		registry:    opts.Registry,
		log:         opts.Log,
		out:         opts.Out,
	}, nil
}

// Run builds all subsystems and blocks until ctx is cancelled or one of
// them fails. Every other subsystem is then stopped.
func (d *Daemon) Run(ctx context.Context) error {
	m := metrics.New(d.registry)

	st, err := store.New(d.db)
	if err != nil {
		return fmt.Errorf("bot: %w", err)
	}

	if d.transcriber == nil {
		gw, closeFn, err := buildTranscriber(ctx, d.cfg, d.log, m)
		if err != nil {
			return err
		}
		defer closeFn()
		d.transcriber = gw
	}
	if d.extractor == nil {
		gw, err := buildExtractor(d.cfg, d.log, m)
		if err != nil {
			return fmt.Errorf("bot: extraction: %w", err)
		}
		d.extractor = gw
	}
	if len(d.ports) == 0 {
		if d.ports, err = buildPorts(d.cfg, d.log); err != nil {
			return err
		}
	}

	sessions := intake.NewSessionManager(intake.ManagerOpts{
		Timeout:   d.cfg.SessionTimeout(),
		Retention: d.cfg.Retention(),
		Log:       d.log,
		Metrics:   m,
	})
	pipeline, err := intake.New(intake.Opts{
		Sessions:    sessions,
		Transcriber: d.transcriber,
		Extractor:   d.extractor,
		Sink:        st,
		Recorder:    st,
		Fields:      d.cfg.FieldSet(),
		Language:    d.cfg.AI.Language,
		Log:         d.log,
		Metrics:     m,
	})
	if err != nil {
		return fmt.Errorf("bot: %w", err)
	}

	var rem *reminder.Reminder
	if d.cfg.Reminder.Enabled {
		rem, err = reminder.New(reminder.Opts{
			Schedule: d.cfg.Reminder.Cron,
			Text:     d.cfg.Reminder.Text,
			Lister:   st,
			Ports:    d.ports,
			Log:      d.log,
			Metrics:  m,
		})
		if err != nil {
			return fmt.Errorf("bot: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, port := range d.ports {
		pipeline.Attach(port)
		g.Go(func() error {
			fmt.Fprintf(d.out, "Connecting to %s...\n", port.Platform())
			if err := port.Run(gctx); err != nil {
				return fmt.Errorf("bot: %s: %w", port.Platform(), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return sessions.Run(gctx, d.cfg.SweepInterval(), func(s *intake.Session) {
			pipeline.Expired(gctx, s)
		})
	})

	if rem != nil {
		g.Go(func() error { return rem.Run(gctx) })
	}

	if d.cfg.API.Enabled {
		g.Go(func() error {
			return api.Start(gctx, api.StartOpts{
				Store:    st,
				Gatherer: d.registry,
				Port:     d.cfg.API.Port,
				Out:      d.out,
				Log:      d.log,
			})
		})
	}

	d.log.Info("bot: running", "platforms", len(d.ports), "fields", d.cfg.FieldSet().Names())
	err = g.Wait()
	fmt.Fprintf(d.out, "Shutting down.\n")
	return err
}
