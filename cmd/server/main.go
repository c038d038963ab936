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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/coop-session-server/internal/catalog"
	"github.com/DoyleJ11/coop-session-server/internal/config"
	"github.com/DoyleJ11/coop-session-server/internal/httpapi"
	"github.com/DoyleJ11/coop-session-server/internal/hub"
	"github.com/DoyleJ11/coop-session-server/internal/lobby"
	"github.com/DoyleJ11/coop-session-server/internal/session"
	"github.com/DoyleJ11/coop-session-server/internal/store"
	"github.com/DoyleJ11/coop-session-server/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer st.Close()

	h := hub.NewHub(context.Background(), lobby.Config{
		Scene:           cfg.Scene,
		Layout:          session.Layout{Spacing: cfg.SpawnSpacing, Height: cfg.SpawnHeight},
		FallbackToFirst: cfg.RosterFallbackFirst,
		LoadTimeout:     cfg.LoadTimeout,
		StoreTimeout:    cfg.StoreTimeout,
	}, catalog.Default(), st, log)

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(h, ws.Options{
		Outbox: cfg.ClientOutbox,
		Rate:   rate.Limit(cfg.ClientRate),
		Burst:  cfg.ClientBurst,
		Log:    log,
	}, log)
	srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// Sessions save every build before the store closes.
		h.Post(hub.ShutdownHub{})
		select {
		case <-h.Done():
		case <-shutdownCtx.Done():
			log.Warn("sessions did not stop in time")
		}
		log.Info("stopped")
		return err
	})
	return g.Wait()
}
