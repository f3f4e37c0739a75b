package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"mercadito/internal/checkout"
	"mercadito/internal/config"
	"mercadito/internal/gateway"
	"mercadito/internal/httpapi"
	"mercadito/internal/ledger"
	"mercadito/internal/rates"
	"mercadito/internal/settlement"
	"mercadito/internal/shipping"
	"mercadito/internal/storage"
	"mercadito/internal/websocket"
	"mercadito/pkg/messaging"
)

type App struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	wsHub     *websocket.Hub
	publisher messaging.Publisher
	outbox    *messaging.OutboxDispatcher
	httpSrv   *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	ledgerStore := ledger.NewStore(store.Pool())

	// One client per outbound concern, all sharing the configured timeout.
	// Provider clients are built from the explicit config; nothing reads the
	// environment past this point.
	gwClient := &http.Client{Timeout: cfg.GatewayTimeout}
	gateways := map[string]gateway.Adapter{
		"mercadopago": gateway.NewMercadoPago(cfg.MercadoPago, gwClient),
		"modo":        gateway.NewModo(cfg.Modo, gwClient),
	}

	ratesrc := rates.NewClient(cfg.RatesURL, gwClient)
	shipsrc := shipping.NewClient(cfg.ShippingURL, gwClient)

	wsHub := websocket.NewHub()

	checkoutSvc := checkout.NewService(ledgerStore, gateways, ratesrc, shipsrc,
		cfg.PublicBaseURL, cfg.DefaultGateway, logger)
	settlementSvc := settlement.NewHandler(ledgerStore, gateways, wsHub,
		cfg.RefundPointsOnCancel, logger)

	publisher, err := messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.SettledExchange)
	if err != nil {
		store.Close()
		return nil, err
	}

	api := httpapi.NewServer(checkoutSvc, settlementSvc, ledgerStore, logger)
	wsHandler := websocket.NewHandler(wsHub, ledgerStore, logger)
	api.Handle("GET /orders/{orderID}/ws", wsHandler.ServeWS)

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	outbox := messaging.NewOutboxDispatcher(store.Pool(), publisher, "settlement_outbox",
		cfg.OutboxInterval, cfg.OutboxBatchSize, logger)

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		wsHub:     wsHub,
		publisher: publisher,
		outbox:    outbox,
		httpSrv:   httpSrv,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)

	a.outbox.Start(ctx)

	go a.wsHub.Run(ctx)

	go func() {
		a.logger.Info("checkout http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	a.publisher.Close()
	a.store.Close()
}

func Run() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	if err := app.Run(ctx); err != nil {
		return err
	}

	return nil
}
