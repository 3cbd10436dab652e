package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/interview-sentry/backend/internal/anomaly"
	"github.com/interview-sentry/backend/internal/config"
	"github.com/interview-sentry/backend/internal/metrics"
	"github.com/interview-sentry/backend/internal/mock"
	"github.com/interview-sentry/backend/internal/monitor"
	"github.com/interview-sentry/backend/internal/policy"
	"github.com/interview-sentry/backend/internal/session"
	"github.com/interview-sentry/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Generate synthetic candidate traffic")
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	registry := session.NewRegistry(cfg.Session.HeartbeatInterval, cfg.Session.HeartbeatTimeout)
	metrics.RegisterActiveSessions(registry.Count)

	classifier := policy.NewClassifier(policy.Limits{
		TabSwitchLimit:  cfg.Policy.TabSwitchLimit,
		TabSwitchWindow: cfg.Policy.TabSwitchWindow,
		InactivityLimit: cfg.Policy.InactivityLimit,
	})

	bridge := anomaly.NewClient(cfg.Anomaly.Endpoint, cfg.Anomaly.Timeout)
	if bridge.Enabled() {
		log.Printf("Forwarding events to anomaly service at %s", cfg.Anomaly.Endpoint)
	} else {
		log.Println("Anomaly forwarding disabled (no endpoint configured)")
	}

	broadcaster := ws.NewBroadcaster(registry, cfg.Admin.BroadcastThrottle, cfg.Admin.SnapshotInterval)
	mon := monitor.New(registry, classifier, bridge, broadcaster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Anomaly.RedisURL != "" {
		sub, err := anomaly.NewSubscriber(cfg.Anomaly.RedisURL, cfg.Anomaly.Channel, mon)
		if err != nil {
			log.Fatalf("Failed to build anomaly subscriber: %v", err)
		}
		go func() {
			if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Anomaly subscriber stopped: %v", err)
			}
		}()
	} else {
		log.Println("Anomaly subscription disabled (no redis_url configured)")
	}

	if *mockMode {
		log.Println("Starting in mock mode")
		gen := mock.NewGenerator(mon)
		gen.Start(ctx)
	}

	server := ws.NewServer(cfg, mon, broadcaster)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
