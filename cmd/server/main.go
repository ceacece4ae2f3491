package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agent-relay/backend/internal/channel"
	"github.com/agent-relay/backend/internal/config"
	"github.com/agent-relay/backend/internal/event"
	"github.com/agent-relay/backend/internal/mock"
	"github.com/agent-relay/backend/internal/persist"
	"github.com/agent-relay/backend/internal/scheduler"
	"github.com/agent-relay/backend/internal/session"
	"github.com/agent-relay/backend/internal/template"
	"github.com/agent-relay/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Run scripted demo agents")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	stateDir := flag.String("state-dir", "", "Override state directory")
	templatesDir := flag.String("templates-dir", "", "Override templates directory")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *stateDir != "" {
		cfg.Storage.StateDir = *stateDir
	}
	if *templatesDir != "" {
		cfg.Storage.TemplatesDir = *templatesDir
	}

	records := persist.NewStore(cfg.Storage.StateDir)
	log.Printf("State directory: %s", records.Dir())

	bus := event.NewBus(event.Options{
		HistorySize:      cfg.Events.HistorySize,
		ReplayCount:      cfg.Events.ReplayCount,
		SubscriberBuffer: cfg.Events.SubscriberBuffer,
	})
	store := session.NewStore(cfg.Storage.SessionCapacity)
	registry := channel.NewRegistry(records, bus)

	templates, err := template.NewRegistry(cfg.Storage.TemplatesDir)
	if err != nil {
		log.Fatalf("Failed to load templates from %s: %v", cfg.Storage.TemplatesDir, err)
	}
	log.Printf("Loaded %d agent templates from %s", templates.Count(), cfg.Storage.TemplatesDir)
	templates.OnReload(func(count int) {
		bus.Publish(event.New(event.TypeTemplatesLoaded).With(map[string]int{"count": count}))
	})

	if err := restoreSessions(records, store); err != nil {
		log.Fatalf("Session recovery failed: %v", err)
	}
	if err := restoreChannels(records, registry, store); err != nil {
		log.Fatalf("Channel recovery failed: %v", err)
	}
	log.Printf("Recovered %d sessions, %d channels", len(store.All()), len(registry.All()))

	schedTemplates := templates
	if *mockMode {
		// The scripted agents use ad-hoc template names.
		schedTemplates = nil
	}
	sched := scheduler.New(scheduler.Config{
		TickInterval:      cfg.Scheduler.TickInterval,
		MaxRunning:        cfg.Scheduler.MaxRunning,
		ToolExecTimeout:   cfg.Scheduler.ToolExecTimeout,
		HumanInputTimeout: cfg.Scheduler.HumanInputTimeout,
		StatusInterval:    cfg.Scheduler.StatusInterval,
	}, store, registry, schedTemplates, records, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(ctx)

	if _, err := os.Stat(cfg.Storage.TemplatesDir); err == nil {
		go func() {
			if err := templates.Watch(ctx); err != nil {
				log.Printf("Template watcher stopped: %v", err)
			}
		}()
	}

	if *mockMode {
		log.Println("Starting in mock mode")
		gen := mock.NewGenerator(sched, store)
		if err := gen.Start(ctx); err != nil {
			log.Fatalf("Mock generator failed: %v", err)
		}
	}

	server := ws.NewServer(sched, store, registry, templates, bus,
		cfg.Server.AllowedOrigins, cfg.Server.AuthToken, cfg.Server.MaxConnections)

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			next, err := config.LoadOrDefault(*configPath)
			if err != nil {
				log.Printf("Config reload failed, keeping current config: %v", err)
				continue
			}
			for _, change := range config.Diff(cfg, next) {
				log.Printf("Config reload: %s", change)
			}
			sched.SetConfig(scheduler.Config{
				TickInterval:      next.Scheduler.TickInterval,
				MaxRunning:        next.Scheduler.MaxRunning,
				ToolExecTimeout:   next.Scheduler.ToolExecTimeout,
				HumanInputTimeout: next.Scheduler.HumanInputTimeout,
				StatusInterval:    next.Scheduler.StatusInterval,
			})
			cfg = next
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		bus.Close()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// restoreSessions adopts persisted session records back into the store.
// Non-terminal sessions re-enter paused, keeping their former state as the
// resume target; nothing resumes without an explicit request.
func restoreSessions(records *persist.Store, store *session.Store) error {
	raw, err := records.LoadAll(persist.KindSession)
	if err != nil {
		return err
	}

	now := time.Now()
	for key, data := range raw {
		var sess session.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			log.Printf("Skipping unreadable session record %s: %v", key, err)
			continue
		}

		if !sess.State.Terminal() && sess.State != session.Paused {
			sess.PrevState = sess.State
			sess.State = session.Paused
			sess.UpdatedAt = now
			sess.StateSince = now
			if err := records.Save(persist.KindSession, key, &sess); err != nil {
				return err
			}
		}

		if err := store.Adopt(&sess); err != nil {
			log.Printf("Skipping session record %s: %v", key, err)
		}
	}
	return nil
}

// restoreChannels rebuilds the channel registry, pruning members whose
// sessions did not survive recovery.
func restoreChannels(records *persist.Store, registry *channel.Registry, store *session.Store) error {
	raw, err := records.LoadAll(persist.KindChannel)
	if err != nil {
		return err
	}

	channels := make([]*channel.Channel, 0, len(raw))
	for key, data := range raw {
		var ch channel.Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			log.Printf("Skipping unreadable channel record %s: %v", key, err)
			continue
		}
		channels = append(channels, &ch)
	}

	return registry.Restore(channels, store.IsValid)
}
