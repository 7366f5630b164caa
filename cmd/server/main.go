package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailflow/internal/api"
	"github.com/ignite/mailflow/internal/blacklist"
	"github.com/ignite/mailflow/internal/broker"
	"github.com/ignite/mailflow/internal/cache"
	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/repository/postgres"
	"github.com/ignite/mailflow/internal/service/compose"
	"github.com/ignite/mailflow/internal/service/directory"
	"github.com/ignite/mailflow/internal/service/mailsync"
	"github.com/ignite/mailflow/internal/spam"
	"github.com/ignite/mailflow/internal/storage"
	"github.com/ignite/mailflow/internal/worker"
)

// syncStore joins the incoming mail and cursor repositories into the
// single contract the pull API wants.
type syncStore struct {
	*postgres.IncomingRepo
	*postgres.SyncHistoryRepo
}

func main() {
	log.Println("Starting mailflow server...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("ping database: %v", err)
	}
	cancel()
	log.Println("Connected to database")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	c := cache.New(rdb)

	pool := broker.NewPool(cfg.Broker.URL(), cfg.Broker.PoolSize, cfg.Broker.ConnectTimeout())
	defer pool.Close()

	store, err := storage.NewFileStore(cfg.Storage.LocalPath)
	if err != nil {
		log.Fatalf("open attachment store: %v", err)
	}

	dirRepo := postgres.NewDirectoryRepo(db)
	outRepo := postgres.NewOutgoingRepo(db)
	inRepo := postgres.NewIncomingRepo(db)
	histRepo := postgres.NewSyncHistoryRepo(db)
	blRepo := postgres.NewBlacklistRepo(db)
	spamLogRepo := postgres.NewSpamLogRepo(db)

	var scanner *spam.Scanner
	var gate compose.Scanner
	if cfg.SpamCheck.Enabled {
		scanner = spam.NewScanner(
			cfg.SpamCheck.Host, cfg.SpamCheck.Port,
			domain.ScanningMode(cfg.SpamCheck.ScanningMode),
			cfg.SpamCheck.HybridThreshold, cfg.SpamCheck.Timeout(),
		)
		gate = scanner
		log.Printf("Spam scanning enabled via %s:%d", cfg.SpamCheck.Host, cfg.SpamCheck.Port)
	}

	dirSvc := directory.NewService(dirRepo, c, cfg.Mail)
	composer := compose.NewService(outRepo, dirSvc, store, gate, cfg.Outgoing, cfg.SpamCheck)
	syncSvc := mailsync.NewService(syncStore{inRepo, histRepo}, dirSvc, cfg.Incoming)
	blSvc := blacklist.NewService(blRepo, c)

	transferW := worker.NewTransferWorker(outRepo, pool, cfg.Mail.RootDomainName, 0)
	statusW := worker.NewStatusWorker(outRepo, pool)
	intakeW := worker.NewIntakeWorker(
		inRepo, dirSvc, composer, scanner, spamLogRepo, blSvc, c, pool,
		cfg.SpamCheck, cfg.Incoming, cfg.Mail.RootDomainName,
	)
	newsletterW := worker.NewNewsletterWorker(composer, pool, cfg.Outgoing.MaxBatchSize)
	retentionW := worker.NewRetentionWorker(outRepo, inRepo, spamLogRepo, cfg.Incoming, cfg.SpamCheck)

	sched := worker.NewScheduler(rdb, db)
	if err := worker.RegisterJobs(sched, transferW, statusW, intakeW, newsletterW, retentionW); err != nil {
		log.Fatalf("register jobs: %v", err)
	}
	sched.Start()
	log.Println("Background jobs scheduled")

	handlers := api.NewHandlers(composer, syncSvc, dirSvc, outRepo, transferW, newsletterW, blSvc, scanner, cfg.Mail, cfg.Outgoing)
	server := api.NewServer(handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP API listening on %s", addr)
		errCh <- server.ListenAndServe(addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("server: %v", err)
	case sig := <-stop:
		log.Printf("Received %s, shutting down...", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	<-sched.Stop().Done()
	log.Println("Shutdown complete")
}
