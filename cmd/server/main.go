// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/19stream/internal/api/connect"
	"github.com/osa030/19stream/internal/app/filter"
	"github.com/osa030/19stream/internal/app/notification"
	"github.com/osa030/19stream/internal/app/playback"
	"github.com/osa030/19stream/internal/app/related"
	"github.com/osa030/19stream/internal/app/session"
	"github.com/osa030/19stream/internal/infra/config"
	"github.com/osa030/19stream/internal/infra/logger"
	"github.com/osa030/19stream/internal/infra/spotify"
	"github.com/osa030/19stream/internal/infra/store"
	"github.com/osa030/19stream/internal/infra/widget"
	"github.com/osa030/19stream/internal/infra/youtube"
)

var (
	app        = kingpin.New("19stream-server", "19stream playback session server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available candidate filters and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %+v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return errors.Wrap(err, "failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			zlog.Warn().Msgf("Failed to close store: %v", err)
		}
	}()

	spotifyClient, err := spotify.New(ctx, spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		Market:       cfg.Spotify.Market,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create Spotify client")
	}

	refresher, err := related.NewRefresherFromConfig(cfg, spotifyClient)
	if err != nil {
		return errors.Wrap(err, "failed to create related refresher")
	}

	notifier := notification.NewManager()
	notifier.Start(ctx)
	defer func() {
		cancel()
		notifier.Wait()
		notifier.Close()
	}()

	if rs, ok := st.(*store.RedisStore); ok {
		notifier.Subscribe(store.NewRedisPublisher(rs.Client(), cfg.Store.Channel))
		zlog.Info().Msgf("Publishing snapshots to redis: channel=%s", cfg.Store.Channel)
	}

	var (
		bridge    *widget.Bridge
		playerUI  playback.Widget
		allowList = cfg.Widget.AllowedOrigins
	)
	if cfg.Widget.Enabled {
		bridge = widget.NewBridge(allowList)
		playerUI = bridge
		defer bridge.Close()
	} else {
		zlog.Info().Msg("Widget disabled, every track is simulated")
	}

	ctrl := playback.NewController(playback.Config{}, playerUI)
	defer ctrl.Close()

	deps := session.Dependencies{
		Player:    ctrl,
		Catalog:   spotifyClient,
		Refresher: refresher,
		Store:     st,
		Publisher: notifier,
	}
	lookup, err := youtube.New(youtube.Config{
		APIKey:     cfg.YouTube.APIKey,
		SearchURL:  cfg.YouTube.SearchURL,
		MaxResults: cfg.YouTube.MaxResults,
		CacheTTL:   cfg.YouTube.CacheTTL(),
		RateLimit:  cfg.YouTube.RateLimit,
	})
	switch {
	case err == nil:
		deps.Lookup = lookup
	case errors.Is(err, youtube.ErrNoAPIKey):
		zlog.Info().Msg("YouTube API key not configured, video lookup disabled")
	default:
		return errors.Wrap(err, "failed to create YouTube client")
	}

	coordinator, err := session.New(session.NewConfig(cfg), deps)
	if err != nil {
		return errors.Wrap(err, "failed to create session coordinator")
	}
	if err := coordinator.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start session")
	}
	defer coordinator.Stop()

	hub := widget.NewHub(allowList, func(ctx context.Context) (any, error) {
		return coordinator.Snapshot(ctx)
	})
	go hub.Run(ctx)
	hubID := notifier.Subscribe(hub)
	defer notifier.Unsubscribe(hubID)

	playerService := apiconnect.NewPlayerService(coordinator, notifier)
	servicePath, serviceHandler := playerService.Handler(
		connect.WithInterceptors(apiconnect.NewTokenInterceptor(cfg.Server.ControlToken)),
	)
	if cfg.Server.ControlToken == "" {
		zlog.Warn().Msg("Control token not configured, RPCs are unauthenticated")
	}

	router := widget.NewServer(bridge, hub).Router(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)
	router.Handle(servicePath+"*", serviceHandler)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// End watch streams first so Shutdown does not wait on them
	playerService.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return nil
}

// printFilters prints available candidate filters.
func printFilters() {
	registered := filter.GetRegistered()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available Filters:")
	for _, name := range names {
		f := registered[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
	fmt.Printf("  %-30s - %s\n", "market_filter", "Rejects tracks not playable in the configured market")
}
