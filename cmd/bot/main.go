package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pulse-bot/backend/internal/config"
	"github.com/pulse-bot/backend/internal/dispatch"
	"github.com/pulse-bot/backend/internal/gateway"
	"github.com/pulse-bot/backend/internal/procstats"
	"github.com/pulse-bot/backend/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override liveness responder port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := dispatch.New(cfg.Dispatch.QueueSize)
	registerHandlers(dispatcher)
	go dispatcher.Run(ctx)

	// The responder's fate is independent of the gateway: a bind failure
	// is logged but the bot keeps running, and vice versa.
	responder := web.New(cfg.Server.Host, cfg.Server.Port)
	go func() {
		if err := responder.ListenAndServe(ctx); err != nil {
			log.Printf("liveness responder failed: %v", err)
		}
	}()

	if sampler, err := procstats.New(cfg.Stats.Interval.Std()); err != nil {
		log.Printf("procstats unavailable: %v", err)
	} else {
		go sampler.Run(ctx)
	}

	client := gateway.New(gateway.Options{
		Endpoint:       cfg.Gateway.Endpoint,
		Token:          cfg.Gateway.Token,
		InitialBackoff: cfg.Reconnect.InitialBackoff.Std(),
		MaxBackoff:     cfg.Reconnect.MaxBackoff.Std(),
		StartupRetries: cfg.Reconnect.StartupRetries,
		ResumeWithin:   cfg.Reconnect.ResumeWithin.Std(),
	}, nil, dispatcher)

	if err := client.Run(ctx); err != nil {
		log.Printf("gateway: fatal: %v", err)
		os.Exit(1)
	}

	log.Println("shutdown complete")
}

// registerHandlers wires the default event logging. Command behavior
// proper lives with whoever embeds the dispatcher.
func registerHandlers(d *dispatch.Dispatcher) {
	d.Subscribe("READY", func(ev dispatch.Event) {
		var ready struct {
			User struct {
				Username string `json:"username"`
			} `json:"user"`
		}
		if err := json.Unmarshal(ev.Data, &ready); err == nil && ready.User.Username != "" {
			log.Printf("logged in as %s", ready.User.Username)
		}
	})
	d.Subscribe("MESSAGE_CREATE", func(ev dispatch.Event) {
		log.Printf("message event at seq %d", ev.Seq)
	})
}
