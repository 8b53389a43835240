package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/joshp123/thinq/internal/catalog"
	"github.com/joshp123/thinq/internal/config"
	"github.com/joshp123/thinq/internal/facade"
	"github.com/joshp123/thinq/internal/model"
	"github.com/joshp123/thinq/internal/poller"
	"github.com/joshp123/thinq/internal/rate"
	"github.com/joshp123/thinq/internal/server"
	"github.com/joshp123/thinq/internal/session"
	"github.com/joshp123/thinq/internal/thinq"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	loc := cfg.Locale()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var blobStore session.BlobStore
	if cfg.Blob != nil {
		store, err := session.NewS3Store(cfg.Blob)
		if err != nil {
			log.Fatalf("blob store: %v", err)
		}
		blobStore = store
	}

	sess, err := session.NewManager(session.Options{
		StateFile: cfg.Account.StateFile,
		Locale:    loc,
		BlobStore: blobStore,
	})
	if err != nil {
		log.Fatalf("session: %v", err)
	}

	apiHTTP := rate.WrapHTTP(cfg.Poll.MaxRequestsMinute, &http.Client{Timeout: 15 * time.Second})
	clientOpts := []thinq.Option{thinq.WithHTTPClient(apiHTTP)}
	if cfg.Account.GatewayURL != "" {
		clientOpts = append(clientOpts, thinq.WithGatewayURL(cfg.Account.GatewayURL))
	}
	client := thinq.NewClient(loc, sess, clientOpts...)

	gateway, err := client.Gateway(ctx)
	if err != nil {
		log.Fatalf("gateway discovery: %v", err)
	}
	sess.SetOAuthURL(gateway.OAuthURI)
	sess.Start(ctx)

	fetcher := catalog.NewFetcher(client)
	devices, err := fetcher.ListDevices(ctx)
	if err != nil {
		if errors.Is(err, catalog.ErrNoDevices) {
			log.Fatalf("no devices on account; register appliances in the ThinQ app first")
		}
		log.Fatalf("list devices: %v", err)
	}
	log.Printf("found %d devices", len(devices))

	loader := model.NewLoader(client)
	f := facade.New(client, loader, loc.Tag())
	f.SetDevices(devices)

	if cfg.MQTT != nil {
		publisher, err := facade.NewStatePublisher(cfg.MQTT)
		if err != nil {
			log.Fatalf("mqtt: %v", err)
		}
		defer publisher.Close()
		f.SetPublisher(publisher)
	}

	polls := poller.NewManager(fetcher, loader, loc.Tag(), poller.Config{
		Interval:   cfg.Poll.Interval,
		BackoffMax: cfg.Poll.BackoffMax,
	}, f.Publish)
	defer polls.Close()
	for _, dev := range devices {
		polls.Watch(ctx, dev)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(session.MetricsCollectors()...)
	registry.MustRegister(poller.MetricsCollectors()...)
	registry.MustRegister(rate.MetricsCollectors()...)

	srv := server.New(cfg.Core.HTTPAddr, f, registry)
	go func() {
		log.Printf("http listening on %s", cfg.Core.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}
