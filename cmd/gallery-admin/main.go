package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amaradri/gallery-admin/internal/auth"
	"github.com/amaradri/gallery-admin/internal/blob"
	"github.com/amaradri/gallery-admin/internal/clientgallery"
	"github.com/amaradri/gallery-admin/internal/config"
	"github.com/amaradri/gallery-admin/internal/gallery"
	"github.com/amaradri/gallery-admin/internal/inbox"
	"github.com/amaradri/gallery-admin/internal/logging"
	"github.com/amaradri/gallery-admin/internal/mcpserver"
	"github.com/amaradri/gallery-admin/internal/rtdb"
	"github.com/amaradri/gallery-admin/internal/server"
	"github.com/amaradri/gallery-admin/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	// Handle subcommands before config loading.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hash-password":
			hashPassword()
			return
		case "gen-api-key":
			genAPIKey()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func hashPassword() {
	fmt.Fprint(os.Stderr, "Enter password: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}
	hash, err := auth.HashPassword(scanner.Text())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func genAPIKey() {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(key)
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("gallery-admin starting",
		slog.String("version", Version),
		slog.String("state_backend", cfg.StateBackend),
		slog.String("blob_backend", cfg.BlobBackend),
		slog.Bool("inbox", cfg.InboxDir != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	statePath := cfg.StateDBPath
	if statePath == "" {
		statePath = state.DefaultPath()
	}

	appState, err := state.LoadAt(statePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	checks := make(map[string]server.Pinger)

	// The bolt file doubles as the state store on single-host setups.
	var store clientgallery.Store = appState

	if cfg.StateBackend == config.StateRedis {
		rs, err := rtdb.New(cfg.RedisURL, cfg.RedisKeyPrefix)
		if err != nil {
			return err
		}
		defer rs.Close()

		store = rs
		checks["redis"] = rs
	}

	var (
		blobs       gallery.BlobStore
		blobHandler http.Handler
	)

	switch cfg.BlobBackend {
	case config.BlobS3:
		s3, err := blob.NewS3(ctx, blob.S3Config{
			Endpoint:   cfg.S3Endpoint,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Bucket:     cfg.S3Bucket,
			UseSSL:     cfg.S3UseSSL,
			PublicBase: cfg.BlobPublicURL,
			URLExpiry:  cfg.S3URLExpiry,
		})
		if err != nil {
			return err
		}

		blobs = s3
		checks["s3"] = s3
	case config.BlobDir:
		dir, err := blob.NewDir(cfg.BlobDir, cfg.BlobPublicURL)
		if err != nil {
			return err
		}

		blobs = dir
		blobHandler = dir
	}

	engine := gallery.New(store, blobs, logger, gallery.Options{SkipMissing: cfg.GallerySkipMissing})
	galleries := clientgallery.New(store, logger)

	users, err := cfg.ParseAdminUsers()
	if err != nil {
		return fmt.Errorf("parsing admin users: %w", err)
	}

	keys, err := cfg.ParseAdminAPIKeys()
	if err != nil {
		return fmt.Errorf("parsing admin API keys: %w", err)
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "gallery-admin", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, mcpserver.Deps{
		Engine:    engine,
		Galleries: galleries,
		History:   appState,
		Logger:    logger.With(slog.String("service", "mcp")),
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := server.NewMux(server.MuxConfig{
		Engine:     engine,
		Galleries:  galleries,
		History:    appState,
		Gate:       auth.NewGate(users, keys, logger),
		MCPHandler: mcpHandler,
		Blobs:      blobHandler,
		Checks:     checks,
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serve(gctx, cfg.ListenAddr, mux, logger, len(users)+len(keys))
	})

	// A failed initial load is not fatal: staff can fix the data and
	// reload from the API.
	g.Go(func() error {
		if err := engine.Load(gctx); err != nil {
			logger.Warn("initial gallery load failed", slog.String("error", err.Error()))
		}

		return nil
	})

	if cfg.InboxDir != "" {
		watcher := inbox.NewWatcher(cfg.InboxDir, engine, logger)
		g.Go(func() error {
			err := watcher.Watch(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
	}

	return g.Wait()
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger, accounts int) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("starting HTTP server",
		slog.String("listen", addr),
		slog.Int("accounts", accounts),
	)

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}
