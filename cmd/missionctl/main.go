// Mission Control service entrypoint. Wires the collaborator clients, the
// mission lifecycle engine, the telemetry loop, and both ingress paths,
// then serves until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stage7/missionctl/internal/auth"
	"github.com/stage7/missionctl/internal/client"
	"github.com/stage7/missionctl/internal/common/config"
	"github.com/stage7/missionctl/internal/common/httpmw"
	"github.com/stage7/missionctl/internal/common/logger"
	"github.com/stage7/missionctl/internal/common/metrics"
	"github.com/stage7/missionctl/internal/common/tracing"
	"github.com/stage7/missionctl/internal/events/bus"
	"github.com/stage7/missionctl/internal/mission/dispatch"
	"github.com/stage7/missionctl/internal/mission/handlers"
	"github.com/stage7/missionctl/internal/mission/registry"
	"github.com/stage7/missionctl/internal/mission/service"
	"github.com/stage7/missionctl/internal/reflection"
	"github.com/stage7/missionctl/internal/telemetry"
	"github.com/stage7/missionctl/internal/userinput"
)

const serverName = "missioncontrol"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig(cfg.Logging))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	metrics.Register()

	if err := run(cfg, log); err != nil {
		log.Fatal("mission control exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Message bus: NATS when configured, in-memory otherwise.
	var messageBus bus.MessageBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSMessageBus(cfg.NATS, log)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		messageBus = natsBus
		log.Info("connected to NATS", zap.String("url", cfg.NATS.URL))
	} else {
		messageBus = bus.NewMemoryMessageBus(log)
		log.Info("using in-memory message bus")
	}
	defer messageBus.Close()

	// Outbound clients share one authenticated transport.
	httpTimeout := cfg.Collaborators.RequestTimeoutDuration()
	tokens := client.NewSecurityTokenSource(
		cfg.Collaborators.SecurityManagerURL,
		cfg.Auth.ClientID,
		cfg.Auth.ClientSecret,
		&http.Client{Timeout: httpTimeout},
	)
	base := client.New(httpTimeout, tokens, log)

	traffic := client.NewTrafficManager(base, cfg.Collaborators.TrafficManagerURL)
	librarian := client.NewLibrarian(base, cfg.Collaborators.LibrarianURL)
	brain := client.NewBrain(base, cfg.Collaborators.BrainURL)
	engineer := client.NewEngineer(base, cfg.Collaborators.EngineerURL)
	capabilities := client.NewCapabilitiesManager(base, cfg.Collaborators.CapabilitiesManagerURL)
	postOffice := client.NewPostOffice(base, cfg.Collaborators.PostOfficeURL)

	// Core components.
	svc := service.NewService(registry.New(), traffic, librarian, postOffice, log)
	inputs := userinput.NewRouter(traffic, log)
	svc.SetPendingInputCleaner(inputs)

	aggregator := telemetry.NewAggregator(svc, brain, engineer, traffic, postOffice, cfg.Telemetry.IntervalDuration(), log)
	aggregator.SetReflector(reflection.NewCoordinator(svc, capabilities, log))
	go aggregator.Run(ctx)

	dispatcher := dispatch.NewDispatcher(svc, inputs, messageBus, log)
	consumer := dispatch.NewConsumer(dispatcher, messageBus, cfg.NATS.ServiceQueue, cfg.NATS.QueueGroup, log)
	if err := consumer.Start(); err != nil {
		return fmt.Errorf("starting queue consumer: %w", err)
	}
	defer consumer.Stop()

	verifier, err := buildVerifier(cfg, httpTimeout)
	if err != nil {
		return fmt.Errorf("building token verifier: %w", err)
	}

	// HTTP ingress.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, serverName))
	router.Use(httpmw.OtelTracing(serverName))

	h := handlers.New(dispatcher, svc, inputs, aggregator, messageBus, log)
	h.RegisterPublic(router)
	h.Register(router.Group("/", auth.Middleware(verifier, log)))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown incomplete", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracing shutdown incomplete", zap.Error(err))
	}
	return nil
}

// buildVerifier assembles the composite token verifier: local public-key
// verification when a key file is configured, then the security service's
// verify endpoint as fallback.
func buildVerifier(cfg *config.Config, timeout time.Duration) (auth.Verifier, error) {
	var verifiers []auth.Verifier
	if cfg.Auth.PublicKeyPath != "" {
		local, err := auth.NewLocalVerifier(cfg.Auth.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading public key from %s: %w", cfg.Auth.PublicKeyPath, err)
		}
		verifiers = append(verifiers, local)
	}
	verifiers = append(verifiers, auth.NewRemoteVerifier(
		cfg.Collaborators.SecurityManagerURL,
		&http.Client{Timeout: timeout},
	))
	return auth.NewCompositeVerifier(verifiers...), nil
}
