package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/artifacts"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/gateway/config"
	gatewayserver "github.com/T-Harsha-Vardhan/kt-pro-api/pkg/gateway/server"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/publisher"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/store"
	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/synthesis"
)

type apiDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAPIDeps() apiDeps {
	return apiDeps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runAPI(ctx context.Context, logger *slog.Logger, deps apiDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var artifactStore artifacts.Store
	if cfg.ArtifactBucket != "" {
		s3Store, err := artifacts.NewS3(ctx, artifacts.Config{
			Bucket:          cfg.ArtifactBucket,
			Region:          cfg.ArtifactRegion,
			Endpoint:        cfg.ArtifactEndpoint,
			PublicBaseURL:   cfg.ArtifactPublicBaseURL,
			AccessKeyID:     cfg.ArtifactAccessKeyID,
			SecretAccessKey: cfg.ArtifactSecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("open artifact store: %w", err)
		}
		artifactStore = s3Store
	} else {
		logger.Warn("no artifact bucket configured; frames and audio will not be stored")
	}

	synth, err := synthesis.NewGemini(ctx, cfg.GeminiAPIKey, cfg.SynthesisModel)
	if err != nil {
		return fmt.Errorf("create synthesizer: %w", err)
	}

	pub := publisher.New(st, synth, logger)

	gw := gatewayserver.New(gatewayserver.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Artifacts: artifactStore,
		Publisher: pub,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway", "addr", cfg.Addr, "live_model", cfg.LiveModel)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	gw.WarnLiveRelays()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveRelays(waitCtx) {
		gw.CancelLiveRelays()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps apiDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "kt-api: %v\n", err)
		return 1
	}

	if err := runAPI(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "kt-api: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAPIDeps()))
}
