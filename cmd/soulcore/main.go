// Command soulcore runs the conversational engine: the HTTP API, the
// orchestration kernel, and the background heartbeat, over one shared store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/api"
	"github.com/origo-labs/soulcore-go/pkg/core"
	"github.com/origo-labs/soulcore-go/pkg/delivery"
	"github.com/origo-labs/soulcore-go/pkg/heartbeat"
	"github.com/origo-labs/soulcore-go/pkg/logging"
	"github.com/origo-labs/soulcore-go/pkg/memory"
	"github.com/origo-labs/soulcore-go/pkg/retrieval"
	"github.com/origo-labs/soulcore-go/pkg/retrieval/searxng"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: environment)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if err := logging.Init(cfg.Logging.Level); err != nil {
		return err
	}
	defer logging.Sync()

	log := logging.Named("soulcore")
	log.Info("starting",
		zap.String("store", cfg.Store.Provider),
		zap.String("provider", cfg.Provider.Provider),
		zap.String("model", cfg.Provider.Model))

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	st, err := core.NewStoreFromConfig(&cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	provider, err := core.NewProviderFromConfig(&cfg.Provider, "")
	if err != nil {
		return err
	}
	defer func() { _ = provider.Close() }()

	router, err := core.NewProviderFromConfig(&cfg.Provider, cfg.Router.Model)
	if err != nil {
		return err
	}
	defer func() { _ = router.Close() }()

	scribe, err := core.NewProviderFromConfig(&cfg.Provider, cfg.Heartbeat.ScribeModel)
	if err != nil {
		return err
	}
	defer func() { _ = scribe.Close() }()

	sentry, err := core.NewProviderFromConfig(&cfg.Provider, cfg.Heartbeat.SentryModel)
	if err != nil {
		return err
	}
	defer func() { _ = sentry.Close() }()

	cache, err := retrieval.NewCache(st, time.Duration(cfg.Search.CacheTTLMinutes)*time.Minute, logging.Named("cache"))
	if err != nil {
		return err
	}
	defer cache.Close()

	registry := retrieval.NewRegistry()
	registry.Register("search", searxng.NewClient(&searxng.Config{
		BaseURL:    cfg.Search.URL,
		MaxResults: cfg.Search.MaxResults,
	}, logging.Named("searxng")))

	filter, err := core.NewFilterFromConfig(&cfg.Reranker, &cfg.Embedder, logging.L())
	if err != nil {
		return err
	}

	prompts := core.NewPromptState(&cfg.Persona)
	assembler := memory.NewAssembler(st, cfg.Persona.Name, cfg.Memory.NoteLimit, logging.Named("memory"))

	kernel := core.NewKernel(&core.KernelDeps{
		Store:     st,
		Provider:  provider,
		Router:    router,
		Registry:  registry,
		Cache:     cache,
		Filter:    filter,
		Assembler: assembler,
		Prompts:   prompts,
		Node:      node,
		RouterCfg: cfg.Router,
		Logger:    logging.Named("kernel"),
	})

	var deliverer delivery.Deliverer
	switch cfg.Delivery.Mode {
	case "webhook":
		deliverer = delivery.NewWebhookDeliverer(&delivery.WebhookConfig{URL: cfg.Delivery.WebhookURL})
	default:
		deliverer = delivery.NewStoreDeliverer(st, node, logging.Named("delivery"))
	}

	hb := heartbeat.New(st, provider, scribe, sentry, deliverer, node, heartbeat.Config{
		Interval:      time.Duration(cfg.Heartbeat.IntervalSeconds) * time.Second,
		ReflectEvery:  cfg.Heartbeat.ReflectEvery,
		Protocol:      cfg.Heartbeat.Protocol,
		ExecutorModel: cfg.Provider.Model,
		ScribeModel:   cfg.Heartbeat.ScribeModel,
	}, logging.Named("heartbeat"))
	hb.Start()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	reload := func() error {
		fresh, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if err := logging.Init(fresh.Logging.Level); err != nil {
			return err
		}
		prompts.Reload(&fresh.Persona)
		return nil
	}

	extractor := memory.NewExtractor(st, scribe, node, logging.Named("extractor"))

	server := api.NewServer(&api.Config{
		Host:  cfg.API.Host,
		Port:  cfg.API.Port,
		Model: cfg.Provider.Model,
	}, kernel, extractor, reload, func() {
		stopCh <- syscall.SIGTERM
	}, logging.Named("api"))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case sig := <-stopCh:
		log.Info("shutting down", zap.String("signal", fmt.Sprint(sig)))
	case err := <-serveErr:
		return err
	}

	// Shutdown order matters: stop taking requests, drain background work,
	// then release the store everything writes to.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", zap.Error(err))
	}

	hb.Stop()
	kernel.Wait()

	log.Info("stopped")
	return nil
}

// loadConfig reads configuration from the YAML file when a path is given,
// otherwise from the environment.
func loadConfig(path string) (*core.Config, error) {
	if path != "" {
		return core.LoadConfigFromYAML(path)
	}
	return core.LoadConfigFromEnv()
}
