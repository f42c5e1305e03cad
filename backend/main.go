package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"unilink/backend/config"
	"unilink/backend/db"
	"unilink/backend/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Config] %v", err)
	}
	if cfg.UsingDevSecret() {
		log.Println("[Config] WARNING: using the built-in JWT secret; set UNILINK_AUTH_JWT_SECRET")
	}

	if err := db.ApplyMigrations(cfg.Database.Path); err != nil {
		log.Fatalf("[DB] Migration failed: %v", err)
	}
	conn, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("[DB] Open failed: %v", err)
	}
	defer conn.Close()

	app, err := server.New(cfg, conn)
	if err != nil {
		log.Fatalf("[Server] %v", err)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("[Server] Listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[Server] %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[Server] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] Shutdown: %v", err)
	}
}
