package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gorilla/mux"
	"github.com/gradedge/gradedge/internal/config"
	"github.com/gradedge/gradedge/internal/handlers"
	"github.com/gradedge/gradedge/internal/middleware"
	"github.com/gradedge/gradedge/internal/repository"
	"github.com/gradedge/gradedge/internal/service"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	if err := godotenv.Load(); err == nil {
		logger.Info("Loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	userStore, auditStore := initDocumentStores(cfg, logger)
	challengeStore := initChallengeStore(cfg, logger)

	otpService := service.NewOTPService(challengeStore, &cfg.OTP, logger)

	var setupService *service.SetupService
	if cfg.SetupLink.Secret != "" {
		setupService, err = service.NewSetupService(&cfg.SetupLink, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize setup link service")
		}
	} else {
		logger.Warn("SETUP_LINK_SECRET not set; account setup links disabled")
	}

	var mailer service.Sender
	if cfg.SMTP.Host != "" {
		mailer, err = service.NewSMTPSender(&cfg.SMTP, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize SMTP sender")
		}
	} else {
		logger.Warn("SMTP_HOST not set; email notifications disabled")
	}

	authService := service.NewAuthService(
		userStore,
		auditStore,
		otpService,
		setupService,
		mailer,
		&cfg.Auth,
		&cfg.OTP,
		logger,
	)

	authHandlers := handlers.NewAuthHandlers(authService, cfg.OTP.DebugEcho, logger)
	studentHandlers := handlers.NewStudentHandlers(authService, cfg.OTP.DebugEcho, logger)
	adminHandlers := handlers.NewAdminHandlers(authService, logger)

	router := setupRouter(authHandlers, studentHandlers, adminHandlers, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// initDocumentStores returns the DynamoDB-backed stores when a table is
// configured, falling back to process memory otherwise.
func initDocumentStores(cfg *config.Config, logger *logrus.Logger) (repository.UserStore, repository.AuditStore) {
	if cfg.DynamoDB.TableName == "" {
		logger.Warn("DYNAMODB_TABLE_NAME not set; using in-memory stores")
		return repository.NewMemoryUserStore(), repository.NewMemoryAuditStore()
	}

	client, err := initDynamoDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	return repository.NewUserRepository(client, cfg.DynamoDB.TableName, logger),
		repository.NewAuditRepository(client, cfg.DynamoDB.TableName, logger)
}

func initChallengeStore(cfg *config.Config, logger *logrus.Logger) repository.ChallengeStore {
	if cfg.Redis.Endpoint == "" {
		logger.Warn("REDIS_ENDPOINT not set; using in-memory OTP challenge store")
		return repository.NewMemoryChallengeStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	logger.Info("Redis client initialized")
	return repository.NewRedisChallengeStore(client, logger)
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO())
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.Info("DynamoDB client initialized")
	return client, nil
}

func setupRouter(
	authHandlers *handlers.AuthHandlers,
	studentHandlers *handlers.StudentHandlers,
	adminHandlers *handlers.AdminHandlers,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	auth := router.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/login", authHandlers.Login).Methods("POST", "OPTIONS")
	auth.HandleFunc("/logout", authHandlers.Logout).Methods("POST", "OPTIONS")
	auth.HandleFunc("/signup", authHandlers.Signup).Methods("POST", "OPTIONS")
	auth.HandleFunc("/account-setup", authHandlers.AccountSetup).Methods("POST", "OPTIONS")
	auth.HandleFunc("/password-reset/init", authHandlers.PasswordResetInit).Methods("POST", "OPTIONS")
	auth.HandleFunc("/password-reset/verify", authHandlers.PasswordResetVerify).Methods("POST", "OPTIONS")
	auth.HandleFunc("/password-reset/resend", authHandlers.PasswordResetResend).Methods("POST", "OPTIONS")

	student := router.PathPrefix("/api/student").Subrouter()
	student.HandleFunc("/{username}", studentHandlers.Profile).Methods("GET", "OPTIONS")
	student.HandleFunc("/{username}/send-otp", studentHandlers.SendOTP).Methods("POST", "OPTIONS")
	student.HandleFunc("/{username}/verify-otp", studentHandlers.VerifyOTP).Methods("POST", "OPTIONS")
	student.HandleFunc("/{username}/update-credentials", studentHandlers.UpdateCredentials).Methods("PUT", "OPTIONS")

	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.HandleFunc("/logs", adminHandlers.RecentLogs).Methods("GET", "OPTIONS")

	return router
}
