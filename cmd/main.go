package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/kube9/statuscore/cmd/server"
	"github.com/kube9/statuscore/internal/config"
	"github.com/kube9/statuscore/internal/db"
	"github.com/kube9/statuscore/internal/engine"
	"github.com/kube9/statuscore/internal/fetch"
	"github.com/kube9/statuscore/internal/kubeconfig"
	"github.com/kube9/statuscore/internal/notify"
	"github.com/kube9/statuscore/internal/runner"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		klog.Fatalf("Failed to load configuration: %v", err)
	}

	// Storage: Postgres when configured, in-memory otherwise.
	var store db.Store
	if cfg.DatabaseURL != "" {
		pgStore, err := db.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			klog.ErrorS(err, "failed to connect to PostgreSQL, falling back to in-memory storage")
			store = db.NewMemoryStore(cfg.EventJournalSize)
		} else {
			klog.InfoS("connected to PostgreSQL")
			store = pgStore
		}
	} else {
		store = db.NewMemoryStore(cfg.EventJournalSize)
	}
	defer store.Close()

	contexts := kubeconfig.NewResolver(cfg.KubeconfigPath)
	klog.InfoS("using kubeconfig", "path", contexts.Path())

	journal := notify.NewJournal(store, nil)
	kubectl := &runner.ExecRunner{}

	eng := engine.New(engine.Options{
		Fetcher:         fetch.New(kubectl, cfg.KubectlBinary, cfg.FetchTimeout),
		Runner:          kubectl,
		Binary:          cfg.KubectlBinary,
		Contexts:        contexts,
		Notifier:        journal,
		Recorder:        store,
		TTLs:            cfg.TTLTable(),
		PollInterval:    cfg.PollInterval,
		PollTimeout:     cfg.PollTimeout,
		MutationTimeout: cfg.MutationTimeout,
	})
	defer eng.Close()

	api := server.NewAPIServer(eng, store, contexts)
	go func() {
		if err := api.Start(cfg.APIAddress); err != nil {
			klog.Fatalf("API server failed: %v", err)
		}
	}()

	klog.InfoS("status core ready", "addr", cfg.APIAddress, "kubectl", cfg.KubectlBinary)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	klog.InfoS("shutting down", "signal", sig)
}
