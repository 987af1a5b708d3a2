package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jhoicas/dte-engine/internal/application/reconciliation"
	"github.com/jhoicas/dte-engine/internal/application/transmission"
	"github.com/jhoicas/dte-engine/internal/infrastructure/firmador"
	"github.com/jhoicas/dte-engine/internal/infrastructure/hacienda"
	"github.com/jhoicas/dte-engine/internal/infrastructure/postgres"
	httpRouter "github.com/jhoicas/dte-engine/internal/interfaces/http"
	"github.com/jhoicas/dte-engine/internal/workers"
	"github.com/jhoicas/dte-engine/pkg/config"
	"github.com/jhoicas/dte-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Msg("iniciando motor de transmisión DTE")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	docRepo := postgres.NewDocumentRepository(pool)
	contRepo := postgres.NewContingencyRepository(pool)
	loteRepo := postgres.NewLoteRepository(pool)
	ledgerRepo := postgres.NewLedgerRepository(pool)
	companyRepo := postgres.NewCompanyRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	signer := firmador.NewClient(cfg.Firmador.BaseURL, cfg.Firmador.Timeout, log.Zerolog())
	hapi := hacienda.NewClient(cfg.Hacienda.BaseURL, cfg.Hacienda.Timeout, log.Zerolog())

	tuning := transmission.Tuning{
		MaxSignatureRetries: cfg.Engine.MaxSignatureRetries,
		MaxDTEsPerLote:      cfg.Engine.MaxDTEsPerLote,
		MaxLoteAttempts:     cfg.Engine.MaxLoteAttempts,
		LoteBackoffBase:     cfg.Engine.LoteBackoffBase,
		MaxDTEsPerEvent:     transmission.DefaultTuning().MaxDTEsPerEvent,
	}

	periodService := transmission.NewPeriodService(
		contRepo, docRepo, loteRepo, companyRepo, ledgerRepo,
		signer, hapi, tuning, log.Zerolog(),
	)
	loteService := transmission.NewLoteService(
		docRepo, loteRepo, contRepo, companyRepo, txRunner,
		hapi, tuning, log.Zerolog(),
	)
	submitter := transmission.NewSubmitter(
		docRepo, companyRepo, txRunner, periodService,
		signer, hapi, tuning, log.Zerolog(),
	)
	reconciliationUC := reconciliation.NewUseCase(docRepo, companyRepo, hapi, log.Zerolog())

	worker := workers.NewRecoveryWorker(
		submitter, periodService, loteService,
		docRepo, contRepo, loteRepo, companyRepo,
		hapi, cfg.Worker, tuning, log.Zerolog(),
	)
	worker.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 30,
		WriteTimeout: time.Second * 60,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	httpRouter.Router(app, httpRouter.RouterDeps{
		Submitter:        submitter,
		Periods:          periodService,
		ReconciliationUC: reconciliationUC,
		DocRepo:          docRepo,
		LedgerRepo:       ledgerRepo,
		ContRepo:         contRepo,
		LoteRepo:         loteRepo,
		JWTSecret:        cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("señal de apagado recibida, cerrando...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	worker.Wait()
	log.Info().Msg("motor detenido")
}
