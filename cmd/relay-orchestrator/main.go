package main

import (
	"log"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/relayloop/relayloop/core/dispatch"
	"github.com/relayloop/relayloop/core/events"
	"github.com/relayloop/relayloop/core/executor"
	"github.com/relayloop/relayloop/core/gateway"
	"github.com/relayloop/relayloop/core/infra/buildinfo"
	"github.com/relayloop/relayloop/core/infra/bus"
	"github.com/relayloop/relayloop/core/infra/config"
	"github.com/relayloop/relayloop/core/infra/locks"
	"github.com/relayloop/relayloop/core/infra/logging"
	"github.com/relayloop/relayloop/core/infra/metrics"
	"github.com/relayloop/relayloop/core/infra/redisutil"
)

func main() {
	buildinfo.Log("orchestrator")
	cfg := config.Load()

	timeouts, err := config.LoadTimeouts(cfg.TimeoutConfigPath)
	if err != nil {
		logging.Warn("orchestrator", "timeouts config unavailable, using defaults", "path", cfg.TimeoutConfigPath, "error", err)
	}

	redisClient, err := redisutil.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer redisClient.Close()

	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		log.Fatalf("connect nats: %v", err)
	}
	defer natsBus.Close()

	dispatcher := dispatch.NewDispatcher(natsBus,
		dispatch.WithTimeouts(timeouts),
		dispatch.WithJobStore(dispatch.NewJobStore(redisClient, timeouts.Defaults.RetainedJobRecords)),
		dispatch.WithMetrics(metrics.NewProm("relayloop")),
	)

	hub := events.NewRedisHub(redisClient)
	store := executor.NewRedisStore(redisClient)
	exec := executor.NewExecutor(dispatcher,
		executor.WithRunStore(store),
		executor.WithEvents(hub),
		executor.WithRunMetrics(metrics.NewRunProm("relayloop")),
		executor.WithRunLock(locks.NewRunLock(redisClient, 0), instanceID()),
	)

	srv := gateway.NewServer(exec, store, hub)
	logging.Info("orchestrator", "listening", "addr", cfg.HTTPAddr, "nats", cfg.NatsURL)
	if err := http.ListenAndServe(cfg.HTTPAddr, srv.Handler()); err != nil {
		log.Fatalf("http server: %v", err)
	}
}

// instanceID names this orchestrator as a run lock owner.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "orchestrator"
	}
	return host + "-" + uuid.NewString()[:8]
}
