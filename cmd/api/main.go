package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agriconnect/internal/config"
	"agriconnect/internal/handler"
	"agriconnect/internal/infra/cache"
	"agriconnect/internal/infra/db"
	"agriconnect/internal/infra/logger"
	"agriconnect/internal/infra/messaging"
	infraRepo "agriconnect/internal/infra/repository"
	"agriconnect/internal/infra/telemetry"
	"agriconnect/internal/server"
	"agriconnect/internal/usecase"
	auth "agriconnect/internal/usecase/auth_usecase"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type uuidGenerator struct{}

func (g *uuidGenerator) NewID() string {
	return uuid.NewString()
}

// 発行先（RabbitMQ / ログのみ）
type publisher interface {
	usecase.EventPublisher
	Close() error
}

func main() {
	//.envは無くてもよい
	_ = godotenv.Load()

	//金額はJSONで数値として返す
	decimal.MarshalJSONWithoutQuotes = true

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New(os.Stdout, cfg.LogLevel, cfg.GoEnv)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup("agriconnect", cfg.TraceStdout)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(gormDB); err != nil {
		return err
	}

	//イベント発行先
	var pub publisher = messaging.NewLogPublisher(log)
	if cfg.AMQPURL != "" {
		rmq, err := messaging.NewRabbitMQPublisher(messaging.RabbitMQConfig{
			URL:      cfg.AMQPURL,
			Exchange: cfg.AMQPExchange,
		}, log)
		if err != nil {
			return err
		}
		pub = rmq
	}
	defer pub.Close()

	//レシートの重複チェック
	var receipts usecase.ReceiptStore = cache.NoopReceiptStore{}
	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer client.Close()
		receipts = cache.NewRedisReceiptStore(client, cfg.PaymentReceiptTTL)
	}

	policy, err := usecase.NewStatusPolicy(cfg)
	if err != nil {
		return err
	}

	//Repository（GORM実装）生成
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	productRepo := infraRepo.NewProductGormRepository(gormDB)
	reviewRepo := infraRepo.NewReviewGormRepository(gormDB)
	chatRepo := infraRepo.NewChatMessageGormRepository(gormDB)
	txm := infraRepo.NewTxManagerGorm(gormDB)

	//usecaseに渡す部品
	idGen := &uuidGenerator{}
	clock := usecase.SystemClock

	//bcrypt（会員登録：Hash / ログイン：Verify）
	hasher := auth.NewBcryptPasswordHasher(12)
	verifier := auth.NewBcryptPasswordVerifier()
	issuer := auth.NewJWTIssuer(cfg.JWTSecret, cfg.TokenTTL)

	//Usecase生成
	registerUC := auth.NewRegisterUserUsecase(userRepo, hasher, issuer, clock)
	loginUC := auth.NewLoginUsecase(userRepo, verifier, issuer, clock)
	orderUC := usecase.NewOrderUsecase(txm, userRepo, policy, pub, idGen, clock, log,
		usecase.OrderOptions{RestockOnCancel: cfg.RestockOnCancel})
	paymentUC := usecase.NewPaymentUsecase(txm, receipts, pub, idGen, clock, log, cfg.PaymentAccountPrefix)
	productUC := usecase.NewProductUsecase(txm, productRepo, userRepo, clock)
	reviewUC := usecase.NewReviewUsecase(reviewRepo, productRepo, userRepo, clock)
	chatUC := usecase.NewChatUsecase(chatRepo, userRepo, clock)
	userUC := usecase.NewUserUsecase(userRepo)

	//Handler生成
	e := server.New(log, server.Handlers{
		Auth:    handler.NewAuthHandler(registerUC, loginUC),
		Product: handler.NewProductHandler(productUC),
		Order:   handler.NewOrderHandler(orderUC),
		Payment: handler.NewPaymentHandler(paymentUC),
		Review:  handler.NewReviewHandler(reviewUC),
		Chat:    handler.NewChatHandler(chatUC, userUC),
	}, server.RouteDeps{JWTSecret: cfg.JWTSecret, Users: userRepo})

	//Server起動
	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			slog.String("addr", addr),
			slog.String("db_driver", cfg.DBDriver),
			slog.String("status_policy", policy.Name()),
		)
		errCh <- server.Start(e, addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", slog.String("signal", sig.String()))
	}
	return server.Shutdown(e, 10*time.Second)
}
