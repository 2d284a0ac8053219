package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"

	"chat-backend/cmd"
	"chat-backend/internal/chatstore"
	"chat-backend/internal/messaging"
)

// WorkerConfig covers the standalone transcript-save worker. It only makes
// sense with RabbitMQ: without a broker the API server drains its own
// in-process queue and this binary has nothing to consume.
type WorkerConfig struct {
	ChatDataDir string `env:"CHAT_DATA_DIR" envDefault:".chats"`
	RabbitMQURL string `env:"RABBITMQ_URL,required"`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	store := chatstore.NewStore(cfg.ChatDataDir)

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to start RabbitMQ consumer: %v", err)
	}

	worker := messaging.NewWorker(store, receiver)
	worker.Start()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, waiting for workers to finish...")

	receiver.Close()
	worker.Wait()

	log.Println("Worker process stopped.")
}
