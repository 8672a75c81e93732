package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/notify"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payment"
	"github.com/ariefcatur/go-marketplace-orders/internal/queue"
	"github.com/ariefcatur/go-marketplace-orders/internal/rabbitmq"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/ariefcatur/go-marketplace-orders/internal/store"
)

// runner is both sides of a queue backend.
type runner interface {
	queue.Queue
	queue.Runner
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	dsn := cfg.PostgresDSN
	if cfg.StoreDriver == store.DriverSQLite {
		dsn = cfg.SQLiteDSN
	}
	st, err := store.Open(ctx, cfg.StoreDriver, dsn)
	if err != nil {
		log.Fatalf("store open: %v", err)
	}
	defer st.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.NewCache(rdb)

	// the producer outlives ctx so jobs still running at shutdown can publish
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start(context.Background())

	var q runner
	switch cfg.QueueBackend {
	case "rabbitmq":
		rq, err := rabbitmq.Dial(cfg.RabbitMQURL, cfg.QueueName, cfg.QueueWorkers)
		if err != nil {
			log.Fatalf("rabbitmq: %v", err)
		}
		defer rq.Close()
		q = rq
	default:
		q = queue.NewRedis(rdb, cfg.QueueName, cfg.QueueWorkers)
	}

	// Jobs only cancel and announce; the gateway is never called from here.
	gw := payment.NewClient(cfg.PaymentBaseURL, cfg.PaymentUsername, cfg.PaymentPassword, cfg.PaymentCurrency, cache)
	svc := orders.NewService(st, cache, q, orders.KafkaEvents{Producer: prod}, notify.KafkaNotifier{P: prod}, gw, orders.Config{
		ServiceName:       cfg.ServiceName + "-worker",
		CallbackURL:       cfg.PaymentCallbackURL,
		PaymentTimeout:    cfg.OrderPaymentTimeout,
		LowStockThreshold: cfg.LowStockThreshold,
	})

	done := make(chan error, 1)
	go func() {
		log.Printf("worker started: backend=%s queue=%s workers=%d", cfg.QueueBackend, cfg.QueueName, cfg.QueueWorkers)
		done <- q.Run(ctx, &orders.JobHandler{Svc: svc})
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Println("shutting down worker...")
		cancel()
		err = <-done
	case err = <-done:
		cancel()
	}
	if err != nil {
		log.Printf("worker exit: %v", err)
	}
	// Run has returned, so no job is still running
	prod.Close()
	prod.WaitClosed()
}
