package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/notify"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payment"
	"github.com/ariefcatur/go-marketplace-orders/internal/queue"
	"github.com/ariefcatur/go-marketplace-orders/internal/rabbitmq"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/ariefcatur/go-marketplace-orders/internal/reviews"
	"github.com/ariefcatur/go-marketplace-orders/internal/store"
)

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
	if cfg.StoreDriver == store.DriverSQLite {
		if err := st.SeedDemo(ctx); err != nil {
			log.Fatalf("seed: %v", err)
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.NewCache(rdb)

	// Kafka producer: order events and queued notifications
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start(ctx)

	// Job queue
	var q queue.Queue
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

	// Services & handlers
	gw := payment.NewClient(cfg.PaymentBaseURL, cfg.PaymentUsername, cfg.PaymentPassword, cfg.PaymentCurrency, cache)
	svc := orders.NewService(st, cache, q, orders.KafkaEvents{Producer: prod}, notify.KafkaNotifier{P: prod}, gw, orders.Config{
		ServiceName:       cfg.ServiceName,
		CallbackURL:       cfg.PaymentCallbackURL,
		PaymentTimeout:    cfg.OrderPaymentTimeout,
		LowStockThreshold: cfg.LowStockThreshold,
	})
	auth := httpx.NewAuth(cfg.JWTSecret)

	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Orders: svc, Carts: orders.NewCartService(st), Cache: cache, Auth: auth}).Register(router)
	(&httpx.PaymentsHandler{Orders: svc, Auth: auth, WebhookSecret: cfg.PaymentWebhookSecret}).Register(router)
	(&httpx.CatalogHandler{
		Catalog: &orders.CatalogService{Store: st, Cache: cache, Writer: st},
		Reviews: reviews.NewService(st, cache),
		Auth:    auth,
	}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s (store=%s queue=%s)", cfg.HTTPAddr, cfg.StoreDriver, cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // close inbox, flush writer
	cancel()
	prod.WaitClosed()
}
