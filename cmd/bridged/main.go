// Command bridged runs the bridge client daemon: it drives lock-and-mint
// sessions and serves the caller API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/R3E-Network/bridge_client/internal/chains/bitcoin"
	"github.com/R3E-Network/bridge_client/internal/chains/ethereum"
	"github.com/R3E-Network/bridge_client/internal/config"
	"github.com/R3E-Network/bridge_client/internal/gateway"
	"github.com/R3E-Network/bridge_client/internal/httpapi"
	"github.com/R3E-Network/bridge_client/internal/rpc"
	"github.com/R3E-Network/bridge_client/internal/store"
	"github.com/R3E-Network/bridge_client/internal/store/postgres"
	"github.com/R3E-Network/bridge_client/internal/store/redis"
	"github.com/R3E-Network/bridge_client/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (optional)")
		envFile    = flag.String("env", ".env", "Path to .env file (ignored if missing)")
		origins    = flag.String("ws-origins", "", "Comma-separated websocket origins allowed to stream updates")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	root := logger.New("bridged", cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, root, splitList(*origins)); err != nil {
		root.WithError(err).Fatal("bridged stopped")
	}
	root.Info("bridged stopped")
}

func run(ctx context.Context, cfg *config.Config, root *logger.Logger, origins []string) error {
	network := cfg.Network

	protocol, err := rpc.NewFromConfig(network, root.Named("rpc"))
	if err != nil {
		return err
	}

	sessions, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer sessions.Close()

	btcClient, err := bitcoin.Dial(network.Bitcoin)
	if err != nil {
		return err
	}
	defer btcClient.Shutdown()
	source, err := bitcoin.New(btcClient, network, root.Named("bitcoin"))
	if err != nil {
		return err
	}

	ethClient, err := ethereum.Dial(ctx, network.Ethereum)
	if err != nil {
		return err
	}
	defer ethClient.Close()
	destination, err := ethereum.New(ethClient, network, root.Named("ethereum"))
	if err != nil {
		return err
	}

	manager, err := gateway.NewManager(gateway.ManagerConfig{
		Network:     network,
		Protocol:    protocol,
		Source:      source,
		Destination: destination,
		Store:       sessions,
		Log:         root.Named("gateway"),
	})
	if err != nil {
		return err
	}
	if err := manager.Start(); err != nil {
		return err
	}
	resumeStored(ctx, manager, root)

	handler := httpapi.NewHandler(manager, root.Named("http"), httpapi.Options{AllowedOrigins: origins})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		root.WithField("addr", cfg.Server.Addr).WithField("network", network.Name).Info("serving bridge api")
		return httpapi.Serve(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		<-gctx.Done()
		handler.Close()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return manager.Stop(stopCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		s, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := redis.Open(ctx, cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return store.NewMemory(), nil
	}
}

// resumeStored restarts every stored session that has not settled.
func resumeStored(ctx context.Context, m *gateway.Manager, log *logger.Logger) {
	ids, err := m.List(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to list stored sessions")
		return
	}
	resumed := 0
	for _, id := range ids {
		s, err := m.Status(ctx, id)
		if err != nil {
			log.WithError(err).WithField("session", id).Warn("failed to load session")
			continue
		}
		if s.Settled() {
			continue
		}
		if _, err := m.Resume(ctx, id); err != nil {
			log.WithError(err).WithField("session", id).Warn("failed to resume session")
			continue
		}
		resumed++
	}
	log.WithField("resumed", resumed).WithField("stored", len(ids)).Info("stored sessions loaded")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
