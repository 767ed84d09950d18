package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"go.flowcatalyst.tech/dispatch/internal/common/mongo"
	"go.flowcatalyst.tech/dispatch/internal/config"
)

// App holds initialized infrastructure that is guaranteed to be connected.
// If you have an *App, the database has been pinged and is ready.
//
// Queue initialization is left to the binary since publisher/consumer setup
// and stream configuration vary by deployment.
type App struct {
	Config *config.Config
	Mongo  *mongo.Client

	cleanupFuncs []func() error
}

// AppOptions configures which infrastructure to initialize.
type AppOptions struct {
	// NeedsMongoDB indicates a MongoDB connection is required
	NeedsMongoDB bool
}

// Initialize loads configuration and connects required infrastructure.
//
// Usage:
//
//	app, cleanup, err := lifecycle.Initialize(ctx, lifecycle.AppOptions{
//	    NeedsMongoDB: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
func Initialize(ctx context.Context, opts AppOptions) (*App, func(), error) {
	app := &App{}

	cfg, err := config.LoadWithFile()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.Config = cfg

	if opts.NeedsMongoDB {
		slog.Info("Connecting to MongoDB", "database", cfg.MongoDB.Database)

		client, err := mongo.Connect(ctx, cfg.MongoDB)
		if err != nil {
			app.Cleanup()
			return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		app.Mongo = client

		app.AddCleanup(func() error {
			slog.Info("Disconnecting from MongoDB")
			return client.Disconnect(context.Background())
		})

		slog.Info("Connected to MongoDB", "database", cfg.MongoDB.Database)
	}

	return app, app.Cleanup, nil
}

// AddCleanup registers a cleanup function to be called on shutdown.
// Functions run in reverse order of registration.
func (app *App) AddCleanup(fn func() error) {
	app.cleanupFuncs = append(app.cleanupFuncs, fn)
}

// Cleanup runs all cleanup functions in reverse order.
func (app *App) Cleanup() {
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		if err := app.cleanupFuncs[i](); err != nil {
			slog.Error("Cleanup error", "error", err)
		}
	}
}
