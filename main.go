package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"bloodlink-push/config"
	"bloodlink-push/connectors"
	"bloodlink-push/handlers"
	"bloodlink-push/hub"
	"bloodlink-push/logging"
	"bloodlink-push/middleware"
	"bloodlink-push/store"
	"bloodlink-push/vapid"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, flush := logging.New(cfg.Debug)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to start server", "error", err)
	}
	defer app.Close()

	go func() {
		if err := serve(cfg, app.Server, logger); err != nil {
			logger.Errorw("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("Shutdown failed", "error", err)
	}
	<-app.QueueDone
}

func serve(cfg config.Config, srv *http.Server, logger *zap.SugaredLogger) error {
	if cfg.HTTPMode {
		logger.Infow("Server listening (HTTP, TLS disabled)", "addr", cfg.Addr)
		logger.Warn("Traffic is unencrypted. Ensure you are running behind a secure proxy.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	if _, err := os.Stat(cfg.CertFile); os.IsNotExist(err) {
		logger.Infow("Certificate not found, generating self-signed certificate", "cert", cfg.CertFile)
		if err := generateSelfSignedCert(cfg.CertFile, cfg.KeyFile); err != nil {
			return fmt.Errorf("generate certificate: %w", err)
		}
	}

	logger.Infow("Server listening (TLS 1.3 strict)", "addr", cfg.Addr)
	if err := srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// App is the wired service. QueueDone closes once the retry processor has
// stopped after the run context ends.
type App struct {
	Server    *http.Server
	Hub       *hub.Hub
	Store     store.Store
	QueueDone <-chan struct{}
}

func (a *App) Close() error {
	return a.Store.Close()
}

func run(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*App, error) {
	s, err := store.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if cfg.JWTSecret != "" {
		middleware.SetJWTSecret(cfg.JWTSecret)
	}

	setupAdminUser(ctx, s, cfg.InitialAdminPassword, logger)

	keys, err := vapid.LoadKeys(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("load vapid keys: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h := hub.NewHub(s, logger, reg, hub.Options{
		QueueInterval: cfg.QueueInterval,
		MaxAttempts:   cfg.QueueMaxAttempts,
	})

	h.RegisterConnector(store.ProviderWebPush, connectors.NewWebPushConnector(keys, cfg.PushTTL, logger))
	h.RegisterConnector(store.ProviderMock, connectors.NewMockConnector(logger))
	if cfg.FCMCreds != "" {
		fcmConn, err := connectors.NewFCMConnector(ctx, cfg.FCMCreds, logger)
		if err != nil {
			logger.Errorw("FCM disabled", "error", err)
		} else {
			h.RegisterConnector(store.ProviderFCM, fcmConn)
		}
	} else {
		logger.Info("FCM credentials not configured, token registration disabled")
	}

	queueDone := h.StartQueueProcessor(ctx)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))
	registerRoutes(router, s, h, keys, cfg, reg)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !cfg.HTTPMode {
		server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
			CipherSuites: []uint16{
				tls.TLS_AES_128_GCM_SHA256,
				tls.TLS_AES_256_GCM_SHA384,
				tls.TLS_CHACHA20_POLY1305_SHA256,
			},
		}
	}

	return &App{
		Server:    server,
		Hub:       h,
		Store:     s,
		QueueDone: queueDone,
	}, nil
}

func registerRoutes(router *gin.Engine, s store.Store, h *hub.Hub, keys vapid.Keys, cfg config.Config, reg *prometheus.Registry) {
	startTime := time.Now()

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Public routes (no auth)
	router.POST("/auth/login", handlers.LoginHandler(s))
	router.GET("/notifications/vapid-public-key", handlers.VAPIDPublicKeyHandler(keys))
	router.GET("/notifications/firebase-config", handlers.FirebaseConfigHandler(cfg.Firebase))

	auth := router.Group("/")
	auth.Use(middleware.JWTAuthMiddleware())
	{
		auth.POST("/auth/refresh", handlers.RefreshHandler())

		donors := auth.Group("/notifications")
		donors.Use(middleware.RequireRole(middleware.RoleDonor))
		{
			donors.POST("/subscribe", handlers.SubscribeHandler(h))
			donors.POST("/token/register", handlers.RegisterTokenHandler(h))
			donors.POST("/unsubscribe", handlers.UnsubscribeHandler(h))
			donors.POST("/token/remove", handlers.RemoveTokenHandler(h))
			donors.GET("/subscriptions", handlers.ListSubscriptionsHandler(h))
			donors.POST("/sync", handlers.SyncHandler(h))
		}

		dispatchers := auth.Group("/")
		dispatchers.Use(middleware.RequireRole(middleware.RoleDispatcher))
		{
			dispatchers.POST("/notifications/send", handlers.SendHandler(h))
			dispatchers.GET("/stats", handlers.StatsHandler(h, startTime))
		}

		admin := auth.Group("/admin")
		admin.Use(middleware.RequireRole(middleware.RoleAdmin))
		{
			admin.POST("/users", handlers.CreateUserHandler(s))
			admin.GET("/users", handlers.ListUsersHandler(s))
			admin.DELETE("/users/:username", handlers.DeleteUserHandler(s))
			admin.PUT("/users/:username/role", handlers.UpdateUserRoleHandler(s))
			admin.GET("/users/:username/token", handlers.GetTokenHandler(s))
			admin.GET("/users/:username/subscriptions", handlers.UserSubscriptionsHandler(h))
			admin.DELETE("/users/:username/subscriptions", handlers.PurgeUserSubscriptionsHandler(h))
			admin.GET("/queue", handlers.GetQueueHandler(h))
		}
	}
}

func setupAdminUser(ctx context.Context, s store.Store, initialPassword *string, logger *zap.SugaredLogger) {
	hasAdmin, err := s.HasAdminUser(ctx)
	if err != nil {
		logger.Errorw("Failed to check for admin user", "error", err)
		return
	}
	if hasAdmin {
		return
	}

	// A user named "admin" without the admin role is promoted instead.
	user, err := s.GetUser(ctx, "admin")
	if err != nil {
		logger.Errorw("Failed to check for existing admin username", "error", err)
		return
	}
	if user != nil {
		if err := s.UpdateUserRole(ctx, "admin", middleware.RoleAdmin); err != nil {
			logger.Errorw("Failed to promote admin user", "error", err)
			return
		}
		logger.Warn("Promoted existing user 'admin' to admin role")
		return
	}

	var password string
	if initialPassword != nil && *initialPassword != "" {
		password = *initialPassword
	} else {
		password, err = randomPassword(12)
		if err != nil {
			logger.Errorw("Failed to generate admin password", "error", err)
			return
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logger.Errorw("Failed to hash password", "error", err)
		return
	}

	if err := s.CreateUser(ctx, "admin", string(hash), middleware.RoleAdmin); err != nil {
		logger.Errorw("Failed to create admin user", "error", err)
		return
	}

	if initialPassword != nil && *initialPassword != "" {
		logger.Info("Admin user created with the configured initial password")
		return
	}
	logger.Warnw("Admin user created, change this password", "username", "admin", "password", password)
}

func randomPassword(n int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	limit := big.NewInt(int64(len(charset)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b), nil
}

func generateSelfSignedCert(certPath, keyPath string) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0755); err != nil {
		return err
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"bloodlink"},
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),

		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return err
	}

	certOut, err := os.Create(certPath)
	if err != nil {
		return err
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return err
	}

	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer keyOut.Close()
	return pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
}
