package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"chat-backend/cmd"
	"chat-backend/internal/api"
	"chat-backend/internal/auth"
	"chat-backend/internal/chatstore"
	"chat-backend/internal/database"
	"chat-backend/internal/llm"
	"chat-backend/internal/messaging"
	"chat-backend/internal/storage"
	"chat-backend/internal/stream"
)

type APIConfig struct {
	DatabaseURL string `env:"DATABASE_URL" envDefault:"chat-backend.db"`
	ChatDataDir string `env:"CHAT_DATA_DIR" envDefault:".chats"`

	APIPort       string `env:"API_PORT" envDefault:"8001"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8001"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"*"`
	SecureCookies bool   `env:"SECURE_COOKIES" envDefault:"false"`

	// RABBITMQ_URL is optional; without it transcript saves run through an
	// in-process queue.
	RabbitMQURL string `env:"RABBITMQ_URL"`

	ModelsConfig      string        `env:"MODELS_CONFIG"`
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"5m"`
	StreamRetention   time.Duration `env:"STREAM_RETENTION" envDefault:"5m"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	// Attachments go to S3 when a bucket is configured, otherwise to
	// UPLOAD_DIR on local disk, served under /files/.
	UploadDir         string `env:"UPLOAD_DIR" envDefault:".uploads"`
	S3Bucket          string `env:"S3_BUCKET"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3Region          string `env:"AWS_REGION"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3PublicURL       string `env:"S3_PUBLIC_URL"`
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store := chatstore.NewStore(cfg.ChatDataDir)
	streams := stream.NewRegistry(cfg.StreamRetention, stream.DefaultMaxStreams)
	sessions := auth.NewSessions(db, cfg.SessionTTL)

	catalog, err := llm.LoadCatalog(cfg.ModelsConfig)
	if err != nil {
		log.Fatalf("Failed to load model catalog: %v", err)
	}

	// Transcript persistence queue: RabbitMQ when configured, otherwise an
	// in-process queue drained by the same binary.
	var publisher messaging.Publisher
	var receiver messaging.Receiver
	if cfg.RabbitMQURL != "" {
		rabbitPublisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		rabbitReceiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to start RabbitMQ consumer: %v", err)
		}
		publisher, receiver = rabbitPublisher, rabbitReceiver
	} else {
		queue := messaging.NewInMemoryQueue()
		publisher, receiver = queue, queue
	}
	defer publisher.Close()

	worker := messaging.NewWorker(store, receiver)
	worker.Start()

	// Attachment object store.
	var objects storage.ObjectStore
	var localFiles *storage.LocalObjectStore
	if cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicURL:       cfg.S3PublicURL,
		})
		if err != nil {
			log.Fatalf("Failed to create S3 object store: %v", err)
		}
		if err := s3Store.CreateBucket(context.Background()); err != nil {
			log.Fatalf("Failed to create attachment bucket: %v", err)
		}
		objects = s3Store
	} else {
		localFiles, err = storage.NewLocalObjectStore(cfg.UploadDir, cfg.PublicBaseURL)
		if err != nil {
			log.Fatalf("Failed to create local object store: %v", err)
		}
		objects = localFiles
	}

	// --- Chi Router Setup ---
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	chatService := api.NewChatService(db, store, streams, publisher, catalog, cfg.GenerationTimeout)
	settingsService := api.NewSettingsService(db)
	uploadService := api.NewUploadService(objects)
	authService := api.NewAuthService(sessions, cfg.SecureCookies)

	r.Route("/api", func(r chi.Router) {
		authService.AddRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(sessions.Middleware)
			chatService.AddRoutes(r)
			settingsService.AddRoutes(r)
			uploadService.AddRoutes(r)
		})
	})

	if localFiles != nil {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(localFiles.Dir()))))
	}

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	receiver.Close()
	worker.Wait()

	log.Println("Server stopped.")
}
