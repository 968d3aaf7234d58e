package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	appcfg "github.com/gambit-chess/gambit-server/internal/config"
	"github.com/gambit-chess/gambit-server/internal/ethsig"
	"github.com/gambit-chess/gambit-server/internal/httpapi"
	"github.com/gambit-chess/gambit-server/internal/match"
	"github.com/gambit-chess/gambit-server/internal/obslog"
	"github.com/gambit-chess/gambit-server/internal/settle"
	"github.com/gambit-chess/gambit-server/internal/ws"
)

func main() {
	_ = godotenv.Load()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Room registry: in-memory by default, Redis when configured.
	var store match.RoomStore
	if cfg.RedisURL != "" {
		rs, err := match.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis store init error: %v", err)
		}
		store = rs
		obslog.L().Info("room_store", zap.String("kind", "redis"))
	} else {
		store = match.NewMemoryStore()
		obslog.L().Info("room_store", zap.String("kind", "memory"))
	}

	var settler match.Settler
	var players httpapi.PlayerReader
	if cfg.SettlementEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		bridge, err := settle.New(ctx, cfg.RPCURL, cfg.ContractAddress, cfg.OperatorKeyHex, cfg.ChainID)
		cancel()
		if err != nil {
			log.Fatalf("settlement bridge init error: %v", err)
		}
		defer bridge.Close()
		settler = bridge
		players = bridge
		obslog.L().Info("settlement_enabled", zap.String("contract", cfg.ContractAddress))
	} else {
		obslog.L().Warn("settlement_disabled")
	}

	hub := ws.NewHub()
	coord := match.NewCoordinator(store, hub, ethsig.Verify, settler, match.Options{
		SignTimeout:      cfg.SignTimeout,
		SettleMaxRetries: cfg.SettleMaxRetries,
		SettleRetryDelay: cfg.SettleRetryDelay,
		MaxRooms:         cfg.MaxConcurrentRooms,
		RankedWagers:     cfg.RankedWagers,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.SetupRoutes(hub, coord, players),
	}

	go func() {
		obslog.L().Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = store.Close()
	obslog.L().Info("shutdown_complete")
}
