package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"assetedge/backend"
	"assetedge/config"
	"assetedge/engine"
	"assetedge/messaging"
	"assetedge/store"
	"assetedge/www"
)

func main() {
	configPath := flag.String("config", "assetedge.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port > 0 {
		cfg.Web.Port = *port
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Remote backend. The pool connects lazily, so an unreachable server
	// only means the terminal starts offline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pg, err := backend.OpenPostgres(ctx, backend.DSN(&cfg.Backend.Postgres))
	if err != nil {
		cancel()
		log.Fatalf("backend: %v", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Printf("backend schema: %v (starting offline)", err)
	}
	cancel()
	defer pg.Close()

	// Cross-terminal change notices
	var broker messaging.Broker
	if cfg.Messaging.Backend != "" {
		msgClient := messaging.NewClient(cfg)
		defer msgClient.Close()
		if err := msgClient.Connect(); err != nil {
			log.Printf("messaging connect: %v (change notices disabled)", err)
		} else {
			log.Printf("messaging: change notices via %s", msgClient.Backend())
			broker = msgClient
		}
	}

	var db *store.DB
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		OpenDB: func() (*store.DB, error) {
			var err error
			db, err = store.Open(cfg.DatabasePath)
			return db, err
		},
		Backend:  pg,
		Broker:   broker,
		Registry: reg,
		LogFunc:  log.Printf,
		Debug:    *debug,
	})
	if err := eng.Start(); err != nil {
		log.Fatalf("start engine: %v", err)
	}
	defer db.Close()
	defer eng.Stop()

	// Set up HTTP server
	router, stopWeb := www.NewRouter(eng, reg)
	defer stopWeb()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("assetedge listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")

	// Stop SSE event hub first so long-lived connections close
	stopWeb()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}
