package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/health"

	"phone-otp-mfa/internal/audit"
	auditrepo "phone-otp-mfa/internal/audit/repository"
	"phone-otp-mfa/internal/authsession"
	"phone-otp-mfa/internal/config"
	credrepo "phone-otp-mfa/internal/credential/repository"
	credservice "phone-otp-mfa/internal/credential/service"
	"phone-otp-mfa/internal/db"
	"phone-otp-mfa/internal/devotp"
	healthhandler "phone-otp-mfa/internal/health/handler"
	"phone-otp-mfa/internal/observability"
	"phone-otp-mfa/internal/phone"
	"phone-otp-mfa/internal/phone/ratelimit"
	"phone-otp-mfa/internal/phone/sms"
	"phone-otp-mfa/internal/render"
	"phone-otp-mfa/internal/security"
	"phone-otp-mfa/internal/server"
	"phone-otp-mfa/internal/smsotp"
	smsotphandler "phone-otp-mfa/internal/smsotp/handler"
	"phone-otp-mfa/internal/telemetry"
	otelsetup "phone-otp-mfa/internal/telemetry/otel"
)

const serviceVersion = "0.1.0"

type app struct {
	runner *server.Runner
}

// teardown releases what build acquired, newest first.
type teardown []func(context.Context) error

func (t *teardown) add(fn func(context.Context) error) { *t = append(*t, fn) }

func (t teardown) run(ctx context.Context, logger *slog.Logger) {
	for i := len(t) - 1; i >= 0; i-- {
		if err := t[i](ctx); err != nil {
			logger.Warn("release resource", "error", err)
		}
	}
}

type stores struct {
	creds    credrepo.Repository
	actions  credrepo.RequiredActionRepository
	audit    auditrepo.Repository
	limiter  ratelimit.Limiter
	sessions authsession.Store
	pingers  map[string]healthhandler.Pinger
	closers  []func() error
}

func (st *stores) close(context.Context) error {
	var errs []error
	for i := len(st.closers) - 1; i >= 0; i-- {
		errs = append(errs, st.closers[i]())
	}
	return errors.Join(errs...)
}

// build wires the service. On error everything opened so far is released before returning.
func build(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: cfg.OTELServiceName,
		Environment: cfg.Env,
	})

	var release teardown
	defer func() {
		if err == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.DefaultShutdownTimeout)
		defer cancel()
		release.run(ctx, logger)
	}()

	providers, err := otelsetup.NewProviders(ctx, otelsetup.Config{
		Endpoint:       cfg.OTELEndpoint,
		ServiceName:    cfg.OTELServiceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	release.add(providers.Shutdown)
	providers.SetGlobal()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	release.add(st.close)

	sender, err := newSender(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	codes, err := security.NewCodeMAC(cfg.CodePepper)
	if err != nil {
		return nil, fmt.Errorf("code mac: %w", err)
	}
	credentials := credservice.NewProvider(st.creds, st.actions, security.NewHasher(cfg.BcryptCost), codes, credservice.Config{
		MaxFailedAttempts: cfg.MaxFailedAttempts,
		TrustWindow:       time.Duration(cfg.TrustWindowSeconds) * time.Second,
	})

	var devCodes devotp.Store
	if cfg.DevOTPEnabled() {
		devCodes = devotp.NewMemoryStore()
		logger.Warn("dev OTP mode enabled: sent codes are readable at /dev/sms-otp/code")
	}
	delivery := phone.NewProvider(phone.Config{
		CodeLength:    cfg.CodeLength,
		CodeTTL:       cfg.CodeTTL(),
		PerPhoneLimit: cfg.SendLimitPerPhone,
		PerIPLimit:    cfg.SendLimitPerIP,
		Window:        cfg.SendWindow(),
	}, sender, st.limiter, codes, devCodes, logger)

	emitter := telemetry.NewAsyncEmitter(otelsetup.NewEventEmitter(providers.LoggerProvider))
	auditLogger := audit.NewLogger(st.audit, audit.ClientIPFromContext, emitter)

	observer, err := smsotp.NewMetricsObserver(providers.MeterProvider.Meter("phone-otp-mfa/smsotp"))
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	step, err := smsotp.NewAuthenticator(smsotp.Deps{
		Store:    credentials,
		Sender:   delivery,
		Codec:    smsotp.NewCookieCodec(credentials, cfg.RealmBasePath, cfg.CookieSecure),
		Actions:  credentials,
		Audit:    auditLogger,
		Observer: observer,
		Logger:   logger,
	}, smsotp.Config{TrustWindowSeconds: cfg.TrustWindowSeconds})
	if err != nil {
		return nil, err
	}

	tokens, err := security.NewFlowTokens(cfg.FlowTokenSecret, cfg.FlowTokenIssuer, cfg.FlowSessionTTL())
	if err != nil {
		return nil, fmt.Errorf("flow tokens: %w", err)
	}
	renderer, err := render.New()
	if err != nil {
		return nil, err
	}
	proxies, err := cfg.TrustedProxies()
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	h, err := smsotphandler.New(step, tokens, st.sessions, renderer, smsotphandler.Config{
		BasePath:       cfg.RealmBasePath,
		ContinueURL:    cfg.FlowContinueURL,
		DevCodes:       devCodes,
		TrustedProxies: proxies,
	}, logger)
	if err != nil {
		return nil, err
	}

	healthSrv := health.NewServer()
	grpcSrv := server.NewGRPCServer()
	server.RegisterServices(grpcSrv, server.Deps{Health: healthSrv, Reflection: cfg.Env != "production"})

	httpLn, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen http: %w", err)
	}
	release.add(func(context.Context) error { return httpLn.Close() })
	grpcLn, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		return nil, fmt.Errorf("listen grpc: %w", err)
	}

	checker := healthhandler.NewChecker(healthSrv, st.pingers, logger)
	go checker.Run(ctx, cfg.HealthInterval())

	return &app{runner: &server.Runner{
		HTTP:         server.NewHTTPServer(h.Routes()),
		HTTPListener: httpLn,
		GRPC:         grpcSrv,
		GRPCListener: grpcLn,
		Health:       healthSrv,
		Logger:       logger,
		Cleanup: func(ctx context.Context) {
			if err := emitter.Drain(ctx); err != nil {
				logger.Warn("audit telemetry drain incomplete", "error", err)
			}
			if err := providers.Shutdown(ctx); err != nil {
				logger.Warn("telemetry shutdown", "error", err)
			}
			if err := st.close(ctx); err != nil {
				logger.Warn("close store", "error", err)
			}
		},
	}}, nil
}

// openStores selects Postgres and Redis when configured and in-memory stores otherwise.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	st := &stores{pingers: map[string]healthhandler.Pinger{}}

	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		repo := credrepo.NewPostgresRepository(conn.DB)
		st.creds, st.actions = repo, repo
		st.audit = auditrepo.NewPostgresRepository(conn.DB)
		st.pingers["postgres"] = conn
		st.closers = append(st.closers, conn.Close)
	} else {
		logger.Warn("DATABASE_URL is empty: credentials and audit logs are kept in memory")
		repo := credrepo.NewMemoryRepository()
		st.creds, st.actions = repo, repo
		st.audit = auditrepo.NewMemoryRepository()
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = st.close(ctx)
			return nil, fmt.Errorf("redis: %w", err)
		}
		st.limiter = ratelimit.NewRedisLimiter(client, "sms_otp")
		st.sessions = authsession.NewRedisStore(client, "", cfg.FlowSessionTTL())
		st.pingers["redis"] = healthhandler.RedisPinger{Client: client}
		st.closers = append(st.closers, client.Close)
	} else {
		logger.Warn("REDIS_ADDR is empty: send limits and flow notes are kept in memory")
		st.limiter = ratelimit.NewMemoryLimiter()
		st.sessions = authsession.NewMemoryStore(cfg.FlowSessionTTL())
	}
	return st, nil
}

func newSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sms.Sender, error) {
	switch cfg.SMSProvider {
	case config.SMSProviderLog:
		return sms.NewLogSender(logger), nil
	case config.SMSProviderSMSLocal:
		return sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender), nil
	case config.SMSProviderSNS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		return sms.NewSNSSender(sns.NewFromConfig(awsCfg), cfg.SNSSenderID), nil
	default:
		return nil, errors.New("unknown SMS provider " + cfg.SMSProvider)
	}
}
