// Command pistas serves a searchable catalog of the audio files in a remote
// bucket, reached through the native B2 API or an S3-compatible endpoint.
//
// Run with:
//
//	B2_APPLICATION_KEY=<keyID>_<secret> B2_BUCKET_ID=<id> go run ./cmd/pistas
//	go run ./cmd/pistas --config pistas.yaml --warm
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koustreak/pistas/internal/catalog"
	"github.com/koustreak/pistas/internal/config"
	"github.com/koustreak/pistas/internal/filestore"
	"github.com/koustreak/pistas/internal/filestore/b2"
	"github.com/koustreak/pistas/internal/filestore/minio"
	"github.com/koustreak/pistas/internal/logger"
	"github.com/koustreak/pistas/internal/search"
	"github.com/koustreak/pistas/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pistas: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the pistas command.
func newRootCmd() *cobra.Command {
	var (
		configPath string
		warm       bool
	)

	cmd := &cobra.Command{
		Use:   "pistas",
		Short: "Searchable catalog over a remote audio bucket",
		Long: `pistas crawls a B2 (or S3-compatible) bucket into an in-memory catalog and
serves paging, ranked search and audio streaming over HTTP.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, warm)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", os.Getenv("PISTAS_CONFIG"), "path to a YAML config file")
	cmd.Flags().BoolVar(&warm, "warm", false, "crawl the catalog at startup instead of on first use")
	return cmd
}

func run(ctx context.Context, configPath string, warm bool) error {
	// -----------------------------------------------------------------------
	// 1. Configuration and logging
	// -----------------------------------------------------------------------
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logger())
	logger.SetGlobal(log)

	// -----------------------------------------------------------------------
	// 2. Storage driver
	// -----------------------------------------------------------------------
	store, err := newStore(cfg.Filestore(), log)
	if err != nil {
		return err
	}
	defer store.Close()

	// -----------------------------------------------------------------------
	// 3. Catalog and search
	// -----------------------------------------------------------------------
	cache := catalog.NewCacheFromLister(store, cfg.Catalog(), log)
	engine := search.NewEngine(cache, cfg.SearchOptions(), log)

	// -----------------------------------------------------------------------
	// 4. HTTP server
	// -----------------------------------------------------------------------
	srv := server.New(server.Deps{
		Catalog:    cache,
		Searcher:   engine,
		Store:      store,
		Provider:   filestore.Provider(cfg.Provider),
		BucketName: cfg.BucketName,
		PublicURL:  cfg.Server.PublicURL,
	}, server.Config{
		Address:         cfg.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	// -----------------------------------------------------------------------
	// 5. Best-effort connection check
	//    A failure here is logged only; requests retry on their own.
	// -----------------------------------------------------------------------
	if cfg.Credential == "" {
		log.Warn("B2_APPLICATION_KEY is not set; catalog and streaming routes will fail until it is configured")
	} else {
		go func() {
			if err := store.Ping(ctx); err != nil {
				log.ErrorWith("initial connection to the bucket failed", err, map[string]interface{}{"provider": cfg.Provider})
				return
			}
			log.With().Str("provider", cfg.Provider).Str("bucket", cfg.BucketName).Logger().Info("connected to bucket")

			if warm {
				if _, err := cache.Snapshot(ctx); err != nil {
					log.ErrorWith("initial catalog crawl failed", err, nil)
				}
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newStore returns the driver for the configured provider.
func newStore(cfg *filestore.Config, log *logger.Logger) (filestore.Store, error) {
	switch cfg.Provider {
	case filestore.ProviderS3:
		return minio.New(cfg, log)
	default:
		return b2.New(cfg, log)
	}
}
