// Command simulacrumd runs the engine as a standalone HTTP+WebSocket
// service, grounded on the teacher's cmd/<chain>d cobra-root idiom
// (RunE builds dependencies, installs signal handling, blocks on
// graceful shutdown) minus the Cosmos server/tendermint start command
// machinery this engine has no use for.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/log"
	"github.com/spf13/cobra"

	apiws "github.com/openalpha/simulacrum/api/ws"
	httpapi "github.com/openalpha/simulacrum/api/http"
	"github.com/openalpha/simulacrum/internal/config"
	"github.com/openalpha/simulacrum/internal/engine"
	"github.com/openalpha/simulacrum/internal/ledger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "simulacrumd",
		Short: "Run the prediction-market and perpetual-futures engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address the HTTP+WS server listens on")
	return cmd
}

func run(ctx context.Context, addr string) error {
	logger := log.NewLogger(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// No production ledger adapter ships in this repo (no Hedera SDK
	// dependency in the examples this was grounded on) - the in-memory
	// port is the only Port implementation available, same as the
	// teacher's MockSubmitter stands in where no real network adapter
	// is wired.
	port := ledger.NewInMemoryPort()

	eng, err := engine.New(cfg, port, logger)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	engineCtx, cancelEngine := context.WithCancel(ctx)
	defer cancelEngine()
	eng.Start(engineCtx)
	defer eng.Stop()

	hub := apiws.New(eng.Bus(), logger)
	go hub.Run()

	server := httpapi.New(eng, cfg, logger)

	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	mux.HandleFunc("/ws", hub.ServeHTTP)

	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-sigCh:
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
