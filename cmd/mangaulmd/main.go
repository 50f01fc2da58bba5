// Command mangaulmd is the server entrypoint, wiring the catalog, task
// engine, scanner, page server and HTTP surface together. Structured the
// way the teacher's own cmd tree roots every subcommand (cobra + pflag),
// with a single "serve" subcommand standing in for source's main.py/serve.py.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/CaoBiang/Manga-ULM/internal/archivefs"
	"github.com/CaoBiang/Manga-ULM/internal/backup"
	"github.com/CaoBiang/Manga-ULM/internal/catalog"
	"github.com/CaoBiang/Manga-ULM/internal/config"
	"github.com/CaoBiang/Manga-ULM/internal/covercache"
	"github.com/CaoBiang/Manga-ULM/internal/httpapi"
	"github.com/CaoBiang/Manga-ULM/internal/maintenance"
	"github.com/CaoBiang/Manga-ULM/internal/obslog"
	"github.com/CaoBiang/Manga-ULM/internal/pageserver"
	"github.com/CaoBiang/Manga-ULM/internal/scanner"
	"github.com/CaoBiang/Manga-ULM/internal/settings"
	"github.com/CaoBiang/Manga-ULM/internal/tasks"
)

var (
	instanceDir string
	addr        string
)

func main() {
	root := &cobra.Command{
		Use:   "mangaulmd",
		Short: "Manga library catalog, scanner and HTTP server daemon",
	}
	var persistent *pflag.FlagSet = root.PersistentFlags()
	persistent.SortFlags = false
	persistent.StringVar(&instanceDir, "instance-dir", "instance", "directory for the database, covers and backups")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	root.AddCommand(serveCmd)
	root.RunE = serveCmd.RunE

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(instanceDir)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	obslog.Configure(cfg.LogLevel, cfg.LogJSON)
	log := obslog.Logger().WithField("profile", string(cfg.Profile))
	log.Info("starting mangaulmd")

	store, err := catalog.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}

	provider := settings.NewProvider(store)

	reader, err := archivefs.NewReader(256, 1024)
	if err != nil {
		return fmt.Errorf("new archive reader: %w", err)
	}

	engine, err := tasks.Open(cfg.TasksDBPath, 30*24*time.Hour)
	if err != nil {
		return fmt.Errorf("open task engine: %w", err)
	}
	defer engine.Close()

	coverCfg := covercache.Config{BaseDir: cfg.CoverDir, ShardCount: provider.CoverCacheShardCount()}
	covers := covercache.New(coverCfg, reader)

	srv := &httpapi.Server{
		Store:       store,
		Reader:      reader,
		Covers:      covers,
		CoverConfig: coverCfg,
		Settings:    provider,
		Tasks:       engine,
		Scanner: &scanner.Scanner{
			Store: store, Reader: reader, Covers: covers, Settings: provider, Engine: engine,
		},
		Pages:       pageserver.New(reader, provider.ReaderStreamChunkKB, provider.ReaderImageSettings),
		Maintenance: &maintenance.Runner{Store: store, Reader: reader, Covers: coverCfg, Engine: engine},
		Backups:     backup.New(cfg.BackupDir, cfg.DatabasePath),
		BaseContext: ctx,
	}

	httpServer := &http.Server{
		Addr:    addr,
		Handler: httpapi.NewRouter(srv),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
