package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/franckalain/pockettrainer/internal/config"
	"github.com/franckalain/pockettrainer/internal/database"
	"github.com/franckalain/pockettrainer/internal/metrics"
	"github.com/franckalain/pockettrainer/internal/ml"
	"github.com/franckalain/pockettrainer/internal/server"
	"github.com/franckalain/pockettrainer/internal/session"
)

var useMemory bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the websocket and HTTP server",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		// Initialize database
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, db.Close()) }()

		// Initialize ML service
		model, err := ml.NewModel(cfg.ML.Type, ml.ProviderSettings{
			ConfigPath: cfg.ML.ConfigPath,
			APIKey:     cfg.ML.APIKey,
			BaseURL:    cfg.ML.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to create ML model: %w", err)
		}
		if err := model.Load(cmd.Context()); err != nil {
			return fmt.Errorf("failed to load ML model: %w", err)
		}
		if closer, ok := model.(interface{ Close() error }); ok {
			defer func() { err = multierr.Append(err, closer.Close()) }()
		}

		loc, err := cfg.Location()
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.NewManager("pockettrainer", "server", reg)

		client := ml.NewClient(model,
			ml.WithTimeout(cfg.ML.RequestTimeout.Std()),
			ml.WithLogger(logger.With().Str("component", "ml").Logger()),
		)
		builder := ml.NewBuilder(ml.BuilderConfig{
			VisionModel:      cfg.ML.VisionModel,
			MeasurementModel: cfg.ML.MeasurementModel,
			TextModel:        cfg.ML.TextModel,
			MaxTokens:        cfg.ML.MaxTokens,
		})

		// Initialize and start server
		srv := server.New(db, client,
			server.WithBuilder(builder),
			server.WithMetrics(m, reg),
			server.WithLogger(logger),
			server.WithStaticDir(cfg.Server.StaticDir),
			server.WithDebug(cfg.Server.Debug),
			server.WithFrameTimeout(cfg.Capture.FrameTimeout.Std()),
			server.WithSessionSettings(session.Settings{
				DetectFirst:    cfg.Session.DetectFirst,
				WorkoutPlan:    cfg.Session.WorkoutPlan,
				Location:       loc,
				ImageTransport: session.ImageTransport(cfg.ML.ImageTransport),
				Timer:          cfg.Capture.DefaultTimer,
			}),
		)
		if err := srv.Start(cmd.Context(), cfg.Server.Port); err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	},
}

func openStore(cfg *config.Config) (database.DB, error) {
	opts := []database.Option{database.WithBlobBaseURL(cfg.Server.PublicBaseURL)}
	if useMemory {
		return database.NewMemoryStore(opts...), nil
	}
	db, err := database.NewSQLiteDB(cfg.Database.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
