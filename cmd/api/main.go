package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"actionitems/api/internal/app"
	"actionitems/api/internal/authpw"
	"actionitems/api/internal/cache"
	"actionitems/api/internal/config"
	"actionitems/api/internal/email"
	"actionitems/api/internal/export"
	"actionitems/api/internal/files"
	"actionitems/api/internal/notify"
	"actionitems/api/internal/search"
	"actionitems/api/internal/tablestore"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	store, err := tablestore.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer store.Close()

	for table, headers := range tablestore.DefaultHeaders {
		if err := store.EnsureTable(ctx, table, headers); err != nil {
			log.Fatalf("ensure table %s: %v", table, err)
		}
	}

	service := app.NewService(store, cfg, log.Default())

	if strings.TrimSpace(cfg.RedisURL) != "" {
		cacheStore, err := cache.New(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, running without cache: %v", err)
		} else {
			defer cacheStore.Close()
			service.WithCache(cacheStore)
		}
	}

	service.WithAuthPassword(authpw.NewService(service, cfg.AllowedDomains))

	webhookClient := notify.NewWebhookClient("ActionItems")
	dispatcher := notify.NewDispatcher(service, webhookClient, cfg.NotifyTimeout, cfg.AppBaseURL, log.Default())
	service.WithNotifier(dispatcher)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewScan(service.LoadSearchRecords))
	service.WithSearch(searchService)
	searchService.ReindexAll(ctx)

	service.WithExport(export.NewService(service))

	service.WithEmail(email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}))

	var filesSvc *files.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		filesSvc, err = files.NewService(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: attachment storage unavailable: %v", err)
			filesSvc = nil
		}
	}

	httpServer := app.NewHTTPServer(service, filesSvc, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Action Items API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
