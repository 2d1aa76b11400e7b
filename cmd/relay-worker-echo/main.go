package main

import (
	"context"
	"log"
	"time"

	"github.com/relayloop/relayloop/core/actor"
	"github.com/relayloop/relayloop/core/agent/runtime"
	"github.com/relayloop/relayloop/core/infra/buildinfo"
	"github.com/relayloop/relayloop/core/infra/bus"
	"github.com/relayloop/relayloop/core/infra/config"
	"github.com/relayloop/relayloop/core/tool"
)

const workerID = "worker-echo-1"

func main() {
	buildinfo.Log(workerID)
	cfg := config.Load()

	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		log.Fatalf("connect nats: %v", err)
	}
	defer natsBus.Close()

	tools := tool.NewRegistry()
	if err := tools.Register(echoTool()); err != nil {
		log.Fatalf("register tool: %v", err)
	}

	w := runtime.New(runtime.Config{
		WorkerID:   workerID,
		QueueGroup: "workers-echo",
		Subject:    bus.StepSubject("echo"),
		JobTimeout: 30 * time.Second,
	}, natsBus, tools)

	if err := w.Start(); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
}

func echoTool() *tool.Tool {
	return &tool.Tool{
		Name:        "echo",
		Description: "Returns its arguments, for wiring and smoke tests.",
		Risk:        tool.RiskLow,
		Handler: func(_ context.Context, args map[string]any, ac actor.Context) (any, error) {
			return map[string]any{
				"echo":         args,
				"processed_by": workerID,
				"subject":      ac.Subject,
				"completed_at": time.Now().UTC().Format(time.RFC3339),
			}, nil
		},
	}
}
