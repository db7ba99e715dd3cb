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

	"github.com/stridekart/checkout/internal/catalog"
	"github.com/stridekart/checkout/internal/checkout"
	"github.com/stridekart/checkout/internal/config"
	"github.com/stridekart/checkout/internal/httpx"
	kafkax "github.com/stridekart/checkout/internal/kafka"
	"github.com/stridekart/checkout/internal/orders"
	"github.com/stridekart/checkout/internal/payment"
	"github.com/stridekart/checkout/internal/postgres"
	"github.com/stridekart/checkout/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// one producer per lifecycle topic
	pPlaced := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024)
	pPlaced.Start(ctx)
	pConfirmed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderConfirmed, 1024)
	pConfirmed.Start(ctx)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024)
	pCancelled.Start(ctx)

	ledger := &orders.Ledger{DB: db}
	store := &catalog.Store{DB: db}
	inv := &catalog.Inventory{DB: db}
	gateway := payment.NewRazorpayClient(cfg.GatewayKey, cfg.GatewaySecret, cfg.GatewayBaseURL)

	svc := &checkout.Service{
		Inventory: inv,
		Catalog:   store,
		Ledger:    ledger,
		Gateway:   gateway,
		Events: &checkout.Emitter{
			Placed:    pPlaced,
			Confirmed: pConfirmed,
			Cancelled: pCancelled,
			Service:   cfg.ServiceName,
		},
		Currency:             cfg.Currency,
		CODDepositCents:      cfg.CODDepositCents,
		ShippingFlatCents:    cfg.ShippingFlatCents,
		FreeShippingMinCents: cfg.FreeShippingMinCents,
	}

	router := httpx.NewRouter()
	ch := &httpx.CheckoutHandler{Svc: svc, Reader: ledger, Redis: rdb, GatewayKey: cfg.GatewayKey}
	ch.Register(router)
	oh := &httpx.OrdersHandler{Reader: ledger, Updater: ledger, Products: store, Redis: rdb}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range []*kafkax.Producer{pPlaced, pConfirmed, pCancelled} {
		p.Close()
	}
	cancel()
	for _, p := range []*kafkax.Producer{pPlaced, pConfirmed, pCancelled} {
		p.WaitClosed()
	}
}
