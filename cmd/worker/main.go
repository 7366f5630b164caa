package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailflow/internal/blacklist"
	"github.com/ignite/mailflow/internal/broker"
	"github.com/ignite/mailflow/internal/cache"
	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/repository/postgres"
	"github.com/ignite/mailflow/internal/service/compose"
	"github.com/ignite/mailflow/internal/service/directory"
	"github.com/ignite/mailflow/internal/spam"
	"github.com/ignite/mailflow/internal/storage"
	"github.com/ignite/mailflow/internal/worker"
)

// A standalone consumer process. Deploy it next to cmd/server when one
// binary per role is preferred; job locks keep the two from racing.
func main() {
	log.Println("Starting mailflow worker...")

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
	}

	dirSvc := directory.NewService(dirRepo, c, cfg.Mail)
	composer := compose.NewService(outRepo, dirSvc, store, gate, cfg.Outgoing, cfg.SpamCheck)
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
	log.Println("Worker ready")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Printf("Received %s, shutting down...", sig)

	<-sched.Stop().Done()

	transferred, failed := transferW.Stats()
	accepted, rejected := intakeW.Stats()
	log.Printf("Final counters: transferred=%d failed=%d accepted=%d rejected=%d",
		transferred, failed, accepted, rejected)
}
