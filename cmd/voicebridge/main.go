// Command voicebridge runs the realtime voice session bridge: it accepts
// telephony media websockets, drives provider sessions, and serves health
// and metrics endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/voxlane/voicebridge/internal/dotenv"
	"github.com/voxlane/voicebridge/pkg/bridge"
	"github.com/voxlane/voicebridge/pkg/config"
	"github.com/voxlane/voicebridge/pkg/handoff"
	"github.com/voxlane/voicebridge/pkg/metrics"
	"github.com/voxlane/voicebridge/pkg/provider"
	"github.com/voxlane/voicebridge/pkg/provider/deepgram"
	"github.com/voxlane/voicebridge/pkg/provider/geminilive"
	"github.com/voxlane/voicebridge/pkg/provider/openairt"
	"github.com/voxlane/voicebridge/pkg/provider/pipeline"
	"github.com/voxlane/voicebridge/pkg/records"
	"github.com/voxlane/voicebridge/pkg/store"
	"github.com/voxlane/voicebridge/pkg/telephony"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "voicebridge",
		Short:         "Bridge telephony calls to realtime AI voice providers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newCheckConfigCmd())
	return root
}

func loadConfig() (config.Config, error) {
	if err := dotenv.LoadFile(".env"); err != nil {
		return config.Config{}, err
	}
	return config.LoadFromEnv()
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// newFactory is the single place concrete adapter types are named.
func newFactory() provider.Factory {
	return func(cfg provider.Config) (provider.Adapter, error) {
		switch cfg.Type {
		case provider.TypeOpenAIRealtime:
			return openairt.New(cfg), nil
		case provider.TypeGeminiLive:
			return geminilive.New(cfg), nil
		case provider.TypeDeepgramAgent:
			return deepgram.New(cfg), nil
		case provider.TypePipeline:
			return pipeline.New(cfg), nil
		default:
			return nil, fmt.Errorf("no adapter for provider type %q", cfg.Type)
		}
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.TenantStore {
	case config.TenantStorePostgres:
		return store.NewPGStore(ctx, cfg.DatabaseURL)
	default:
		return store.NewFileStore(cfg.TenantFile)
	}
}

// recordSink persists each finished conversation and publishes it for
// downstream consumers. Persistence failure does not block publishing.
type recordSink struct {
	store store.Store
	pub   *records.Publisher
	log   *slog.Logger
}

func (s *recordSink) Publish(ctx context.Context, rec records.Conversation) error {
	if err := s.store.SaveConversation(ctx, rec); err != nil {
		s.log.Error("save conversation", "call_id", rec.CallID, "error", err)
	}
	return s.pub.Publish(ctx, rec)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg, newLogger())
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open tenant store: %w", err)
	}
	defer st.Close()

	publisher := records.NewPublisher(records.PublisherConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		Enabled: len(cfg.KafkaBrokers) > 0,
	}, logger)
	defer publisher.Close()

	control := telephony.NewControlClient(cfg.ControlBaseURL, cfg.ControlToken, cfg.ControlTimeout)
	presence := handoff.NewHTTPPresence(cfg.PresenceBaseURL, cfg.PresenceToken, cfg.ControlTimeout)
	tickets := handoff.NewHTTPTicketing(cfg.TicketBaseURL, cfg.TicketToken, cfg.ControlTimeout)
	escalator := handoff.NewOrchestrator(presence, tickets, control, logger)

	supervisor := bridge.NewSupervisor(bridge.SupervisorDeps{
		Tenants:      st,
		Factory:      newFactory(),
		Escalator:    escalator,
		Sink:         &recordSink{store: st, pub: publisher, log: logger},
		Metrics:      metrics.Default,
		Logger:       logger,
		WriteTimeout: cfg.WSWriteTimeout,
	})

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.MediaPath, supervisor.HandleMedia)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting voicebridge",
		"addr", cfg.Addr,
		"media_path", cfg.MediaPath,
		"tenant_store", string(cfg.TenantStore))

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
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	if !supervisor.Shutdown(shutdownCtx) {
		logger.Warn("sessions did not drain before deadline", "active", supervisor.Count())
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("voicebridge stopped")
	return nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return errors.New("VOICEBRIDGE_DATABASE_URL is required for migrate")
			}
			if err := store.Migrate(cfg.DatabaseURL); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			newLogger().Info("migrations applied")
			return nil
		},
	}
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate service and tenant configuration without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.TenantStore == config.TenantStoreFile {
				st, err := store.NewFileStore(cfg.TenantFile)
				if err != nil {
					return fmt.Errorf("tenant file: %w", err)
				}
				st.Close()
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
			return nil
		},
	}
}
