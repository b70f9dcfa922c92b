package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oarkflow/log"

	"github.com/oarkflow/webguard"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dsn := flag.String("dsn", "webguard.db", "sqlite dsn for the security store")
	configPath := flag.String("config", "", "optional scoring config file (hot reloaded)")
	flag.Parse()

	logger := log.Logger{
		Level:      log.InfoLevel,
		TimeField:  "ts",
		TimeFormat: time.RFC3339,
		Writer:     &log.ConsoleWriter{ColorOutput: true},
	}

	watcher, err := webguard.NewConfigWatcher(*configPath, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := watcher.Watch(); err != nil {
		logger.Warn().Err(err).Msg("config hot reload unavailable")
	}
	defer watcher.Close()

	store, err := webguard.NewSQLStore(*dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open security store")
	}
	defer store.Close()

	guard := webguard.NewGuard(webguard.StoresFrom(store), webguard.Options{
		Config: watcher.Current(),
		Logger: &logger,
		Credentials: webguard.ChannelCredentials{
			WebhookURL:    os.Getenv("GUARD_WEBHOOK_URL"),
			WebhookSecret: os.Getenv("GUARD_WEBHOOK_SECRET"),
			SlackURL:      os.Getenv("GUARD_SLACK_URL"),
		},
	})
	watcher.OnReload(func(cfg *webguard.Config) {
		guard.Aggregator.Reconfigure(cfg.Scoring)
	})
	guard.Start()
	defer guard.Close()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(guard.Middleware())
	guard.RegisterAdminRoutes(app.Group("/admin"))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	go func() {
		logger.Info().Str("addr", *addr).Msg("webguard listening")
		if err := app.Listen(*addr); err != nil {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")
	_ = app.Shutdown()
}
