package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"mammo-assist/internal/config"
	"mammo-assist/internal/core"
	"mammo-assist/internal/db"
	httpserver "mammo-assist/internal/http"
	"mammo-assist/internal/httpx"
	"mammo-assist/internal/llm"
	"mammo-assist/internal/shell"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	external := httpx.NewExternalClient(cfg.ExternalHTTPTimeout())
	llmClient, err := llm.New(llm.Options{
		Provider:   cfg.LLMProvider,
		APIKey:     cfg.APIKey(),
		Model:      cfg.LLMModel,
		BaseURL:    cfg.LLMBaseURL,
		MaxTokens:  cfg.LLMMaxTokens,
		HTTPClient: external,
	})
	if err != nil {
		log.Fatalf("llm: %v", err)
	}

	kv, notifier, closeStore := openStorage(ctx, cfg)
	defer closeStore()

	repo := db.NewCaseRepository(kv, cfg.StorageKey, notifier)
	repo.Instance = uuid.NewString()

	store := core.NewCaseStore(ctx, repo, core.NewDiagnostician(llmClient), core.NewImageResolver(external))
	if notifier != nil {
		go followSnapshots(ctx, notifier, repo.Instance, store)
	}

	auth := shell.NewAuthenticator(cfg.LoginEmail, cfg.LoginPassword, cfg.LoginName, cfg.Specialization)
	srv, err := httpserver.NewServer(store, shell.NewSessions(), auth)
	if err != nil {
		log.Fatalf("failed to construct server: %v", err)
	}

	addr := ":" + cfg.Port
	httpSrv := &http.Server{Addr: addr, Handler: srv.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("Listening on %s provider=%s model=%s storage=%s", addr, cfg.LLMProvider, cfg.LLMModel, cfg.StorageDriver)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// openStorage returns the key-value store for the configured driver.  The
// notifier is only set for PostgreSQL.
func openStorage(ctx context.Context, cfg config.Config) (db.KV, *db.Notifier, func()) {
	switch cfg.StorageDriver {
	case "memory":
		log.Printf("storage: in-memory, cases are lost on restart")
		return db.NewMemoryKV(), nil, func() {}
	case "postgres":
		openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		repo, err := db.Open(openCtx, "postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		notifier := db.NewNotifier(repo.DB, cfg.DatabaseURL, cfg.NotifyChannel)
		return repo, notifier, func() { repo.Close() }
	default:
		openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		repo, err := db.Open(openCtx, "sqlite3", cfg.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		return repo, nil, func() { repo.Close() }
	}
}

// followSnapshots reloads the case list whenever another instance writes a
// snapshot.
func followSnapshots(ctx context.Context, notifier *db.Notifier, self string, store *core.CaseStore) {
	notes, err := notifier.Listen(ctx)
	if err != nil {
		log.Printf("notifier listen channel=%s err=%v", notifier.Channel, err)
		return
	}
	for payload := range notes {
		if payload == self {
			continue
		}
		log.Printf("notifier snapshot from=%s, reloading", payload)
		store.Reload(ctx)
	}
}
