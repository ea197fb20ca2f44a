package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"legion/pkg/bridge"
	"legion/pkg/bus"
	"legion/pkg/channel"
	"legion/pkg/emotion"
	"legion/pkg/llm"
	"legion/pkg/memory"
	"legion/pkg/minion"
	"legion/pkg/persona"
	"legion/pkg/server"
	"legion/pkg/store"
	"legion/pkg/task"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Legion daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func runServe(ctx context.Context, cfg config) error {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close() //nolint:errcheck // shutdown path

	b := bus.New()
	b.SetRecorder(st.AppendEvent)

	invoker, err := newInvoker(ctx, cfg)
	if err != nil {
		return err
	}

	minionCfg := minion.Config{
		QueueSize:      cfg.QueueSize,
		InvokeTimeout:  time.Duration(cfg.InvokeTimeout),
		ReactToSelf:    cfg.ReactToSelf,
		ReactToMinions: cfg.reactToMinions(),
	}
	mem := memory.NewStore(st.DB())
	roster := minion.NewRoster(minionCfg, b, st, invoker, emotion.New(emotion.Config{}), mem)
	defer roster.StopAll()

	var lib *persona.Library
	if cfg.PersonaDir != "" {
		var errs []error
		lib, errs = persona.NewLibrary(cfg.PersonaDir)
		for _, err := range errs {
			log.Printf("persona: %v", err)
		}
		w, err := persona.Watch(lib, func() {
			log.Printf("persona: library reloaded, %d personas", lib.Len())
		})
		if err != nil {
			log.Printf("persona: watch disabled: %v", err)
		} else {
			defer w.Close() //nolint:errcheck // shutdown path
		}
	}

	br := bridge.New(b)
	srv := server.New(channel.NewService(b, st), roster, task.New(b, st), st, lib, br)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("legiond listening on %s", cfg.ListenAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("legiond shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		b.Drain()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newInvoker builds the LLM client. Without an API key the daemon still
// runs; spawned minions then fail their turns with minion.error events
// rather than blocking the rest of the system.
func newInvoker(ctx context.Context, cfg config) (minion.Invoker, error) {
	if cfg.GeminiAPIKey == "" {
		log.Printf("no Gemini API key configured; minion invocations will fail")
		return unconfiguredInvoker{}, nil
	}
	client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if cfg.InvokeTimeout > 0 {
		client.SetTimeout(time.Duration(cfg.InvokeTimeout))
	}
	client.SetDefaultModel(cfg.Model)
	return client, nil
}

type unconfiguredInvoker struct{}

func (unconfiguredInvoker) Invoke(ctx context.Context, req llm.Request) (string, error) {
	return "", errors.New("no LLM provider configured")
}
