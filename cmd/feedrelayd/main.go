// Command feedrelayd is the daemon entry point: it loads config, opens
// the database pool, wires the mailer, and runs the dispatch loop plus
// an optional admin HTTP surface until killed.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/feedrelay/feedrelay/internal/adminhttp"
	"github.com/feedrelay/feedrelay/internal/dispatch"
	"github.com/feedrelay/feedrelay/internal/feed"
	"github.com/feedrelay/feedrelay/internal/mailer"
	"github.com/feedrelay/feedrelay/internal/store"
	"github.com/feedrelay/feedrelay/internal/worker"
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	_ = godotenv.Load()

	configPath := env("YAF2M_CONFIG_PATH", "config.toml")
	pgURL := os.Getenv("POSTGRES_URL")
	if pgURL == "" {
		log.Fatal("POSTGRES_URL is required")
	}
	smtpURL := os.Getenv("SMTP_URL")
	if smtpURL == "" {
		log.Fatal("SMTP_URL is required")
	}
	smtpFrom := os.Getenv("SMTP_FROM")
	if smtpFrom == "" {
		log.Fatal("SMTP_FROM is required")
	}

	maxConns := int32(20)
	if v := os.Getenv("POSTGRES_MAX_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("invalid POSTGRES_MAX_CONNS: %v", err)
		}
		maxConns = int32(n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, pgURL, maxConns)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	mx, err := mailer.New(smtpURL, smtpFrom)
	if err != nil {
		log.Fatalf("configure mailer: %v", err)
	}

	w := worker.New(db, feed.NewFetcher(), mx)
	loop := dispatch.New(configPath, db, w, mx)

	if addr := os.Getenv("ADMIN_ADDR"); addr != "" {
		admin := adminhttp.New(addr, db, loop.Config)
		go func() {
			log.Printf("admin surface listening on %s", addr)
			if err := admin.ListenAndServe(); err != nil {
				log.Printf("admin surface stopped: %v", err)
			}
		}()
	}

	log.Printf("feedrelayd starting, config=%s", configPath)
	if err := loop.Run(ctx); err != nil {
		log.Fatalf("dispatch loop failed: %v", err)
	}
	log.Print("feedrelayd shutting down")
}
