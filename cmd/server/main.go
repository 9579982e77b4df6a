// Copyright 2026 The Auth9 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auth9/auth9/internal/abac"
	"github.com/auth9/auth9/internal/action"
	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/authz"
	"github.com/auth9/auth9/internal/broker"
	"github.com/auth9/auth9/internal/cache"
	"github.com/auth9/auth9/internal/config"
	"github.com/auth9/auth9/internal/identity"
	"github.com/auth9/auth9/internal/idp"
	"github.com/auth9/auth9/internal/invite"
	"github.com/auth9/auth9/internal/mailer"
	"github.com/auth9/auth9/internal/observability/logger"
	"github.com/auth9/auth9/internal/observability/metrics"
	"github.com/auth9/auth9/internal/observability/tracing"
	"github.com/auth9/auth9/internal/rbac"
	"github.com/auth9/auth9/internal/relying"
	"github.com/auth9/auth9/internal/scim"
	"github.com/auth9/auth9/internal/secrets"
	"github.com/auth9/auth9/internal/security"
	"github.com/auth9/auth9/internal/sso"
	"github.com/auth9/auth9/internal/store/postgres"
	"github.com/auth9/auth9/internal/tenant"
	"github.com/auth9/auth9/internal/token"
	transportGRPC "github.com/auth9/auth9/internal/transport/grpc"
	transportHTTP "github.com/auth9/auth9/internal/transport/http"
	"github.com/auth9/auth9/internal/webhook"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting auth9 control plane")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	if tracer != nil {
		defer tracer.Shutdown(ctx)
	}

	// Initialize meter
	_, err = metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	// Initialize database
	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	tenantRepo := postgres.NewTenantRepository(db)
	memberRepo := postgres.NewMemberRepository(db)
	serviceRepo := postgres.NewServiceRepository(db)
	clientRepo := postgres.NewClientRepository(db)
	roleRepo := postgres.NewRoleRepository(db)
	permissionRepo := postgres.NewPermissionRepository(db)
	grantRepo := postgres.NewGrantRepository(db)
	invitationRepo := postgres.NewInvitationRepository(db)
	policyRepo := postgres.NewPolicyRepository(db)
	actionRepo := postgres.NewActionRepository(db)
	webhookRepo := postgres.NewWebhookRepository(db)
	loginEventRepo := postgres.NewLoginEventRepository(db)
	alertRepo := postgres.NewAlertRepository(db)
	scimGroupRepo := postgres.NewScimGroupRepository(db)
	scimLogRepo := postgres.NewScimLogRepository(db)
	ssoRepo := postgres.NewSsoRepository(db)

	// Initialize helpers
	auditLogger := audit.NewSlogLogger()
	hasher := secrets.NewArgon2Hasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	box, err := secrets.NewBox([]byte(cfg.Security.SettingsEncryptionKey))
	if err != nil {
		slog.Error("failed to initialize settings encryption", logger.Error(err))
		os.Exit(1)
	}

	// The role projection cache is shared between the HTTP and gRPC
	// surfaces; redis keeps replicas consistent when configured.
	var resolverCache cache.Cache
	if cfg.Cache.URL != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.Cache.URL)
		if err != nil {
			slog.Error("failed to connect to cache", logger.Error(err))
			os.Exit(1)
		}
		defer redisCache.Close()
		resolverCache = redisCache
		slog.Info("connected to cache")
	} else {
		resolverCache = cache.NewMemory()
	}

	signer, err := token.NewSignerFromConfig(cfg.JWT.Issuer, cfg.JWT.SigningKey, cfg.JWT.PrivateKeyPEM)
	if err != nil {
		slog.Error("failed to initialize token signer", logger.Error(err))
		os.Exit(1)
	}

	// Initialize services
	resolver := rbac.NewResolver(grantRepo, roleRepo, resolverCache, cfg.Cache.TTL)
	tokenService := token.NewService(signer, userRepo, clientRepo, resolver, auditLogger,
		cfg.JWT.IdentityTokenTTL, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)
	identityService := identity.NewService(userRepo, auditLogger)
	tenantService := tenant.NewService(tenantRepo, memberRepo, auditLogger)
	relyingManager := relying.NewManager(serviceRepo, clientRepo, hasher, auditLogger)
	rbacService := rbac.NewService(roleRepo, permissionRepo, grantRepo, resolver, auditLogger)

	mail := mailer.NewLogMailer()
	inviteService := invite.NewService(invitationRepo, tenantService, rbacService, hasher, mail,
		auditLogger, cfg.Server.PortalURL, cfg.Security.InvitationTTL)

	abacEngine := abac.NewEngine(policyRepo)
	abacService := abac.NewService(policyRepo, auditLogger)

	actionEngine, err := action.NewEngine(actionRepo, cfg.Actions.DefaultTimeout)
	if err != nil {
		slog.Error("failed to initialize action engine", logger.Error(err))
		os.Exit(1)
	}
	actionService := action.NewService(actionRepo, actionEngine)

	dispatcher := webhook.NewDispatcher(webhookRepo, auditLogger)
	webhookService := webhook.NewService(webhookRepo, dispatcher, auditLogger)

	securityService := security.NewService(loginEventRepo, alertRepo, dispatcher, auditLogger, security.Policy{
		FailureThreshold: cfg.Detection.BruteForceThreshold,
		SprayThreshold:   cfg.Detection.SprayThreshold,
		Window:           time.Duration(cfg.Detection.WindowMinutes) * time.Minute,
		DeviceHistory:    cfg.Detection.DeviceHistorySize,
		TravelWindow:     cfg.Detection.TravelWindow,
	})

	idpClient := idp.NewClient(cfg.IdP)
	scimService := scim.NewService(userRepo, scimGroupRepo, scimLogRepo, idpClient, auditLogger)
	ssoService := sso.NewService(ssoRepo, box, auditLogger)

	stateKey := cfg.Security.StateSigningKey
	if stateKey == "" {
		stateKey = cfg.JWT.SigningKey
	}
	authBroker := broker.NewBroker(serviceRepo, clientRepo, idpClient, identityService,
		tokenService, actionEngine, []byte(stateKey),
		cfg.Server.PublicURL+"/api/v1/auth/callback",
		cfg.IdP.ClientID, cfg.IdP.ClientSecret, cfg.JWT.IdentityTokenTTL)

	authzEngine := authz.NewEngine(&cfg.Security, tenantService, resolver, abacEngine, auditLogger)

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(transportHTTP.Services{
		Tokens:     tokenService,
		Broker:     authBroker,
		Authorizer: authzEngine,
		Tenants:    tenantService,
		Users:      identityService,
		Invites:    inviteService,
		Relying:    relyingManager,
		RBAC:       rbacService,
		Policies:   abacService,
		Webhooks:   webhookService,
		Actions:    actionService,
		Security:   securityService,
		Scim:       scimService,
		Sso:        ssoService,
		Mail:       mail,
	}, auditLogger, cfg.Server.PublicURL, cfg.Server.PortalURL,
		cfg.IdP.EventWebhookKey, cfg.Security.PasswordResetHMACKey)

	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Create gRPC server
	grpcServer := transportGRPC.NewServer(tokenService, resolver)
	grpcAddr := fmt.Sprintf("%s:%s", cfg.GRPC.Host, cfg.GRPC.Port)
	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		slog.Error("failed to listen for grpc", logger.Error(err))
		os.Exit(1)
	}

	// Start retention cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := securityService.PurgeLoginEvents(ctx, 90*24*time.Hour); err != nil {
				slog.ErrorContext(ctx, "failed to purge login events", logger.Error(err))
			}
			if _, err := scimService.PurgeLog(ctx, 90*24*time.Hour); err != nil {
				slog.ErrorContext(ctx, "failed to purge scim log", logger.Error(err))
			}
		}
	}()

	// Start servers
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			slog.Error("grpc server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	grpcServer.GracefulStop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
