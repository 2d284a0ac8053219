package messaging

import (
	"encoding/json"
	"log/slog"
	"sync"

	"chat-backend/internal/chatstore"
)

// Worker drains the save queue and writes transcripts to the chat store.
// A failed save is logged and dropped; the stream the client saw is never
// affected by persistence errors.
type Worker struct {
	store    *chatstore.Store
	receiver Receiver
	wg       sync.WaitGroup
}

func NewWorker(store *chatstore.Store, receiver Receiver) *Worker {
	return &Worker{store: store, receiver: receiver}
}

// Start launches the consume loop. Stop the worker by closing its receiver,
// then call Wait to drain in-flight tasks.
func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for task := range w.receiver.Tasks() {
			w.process(task)
		}
	}()
}

func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) process(task Task) {
	switch task.Type() {
	case SaveTranscriptQueue:
		var payload SaveTranscriptPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("invalid save transcript payload", "error", err)
			if err := task.Reject(); err != nil {
				slog.Error("error rejecting task", "error", err)
			}
			return
		}

		if err := w.store.SaveChat(payload.ChatID, payload.Messages, payload.UserID); err != nil {
			slog.Error("failed to save chat transcript", "chat_id", payload.ChatID, "user_id", payload.UserID, "error", err)
			if err := task.Nack(); err != nil {
				slog.Error("error nacking task", "error", err)
			}
			return
		}

		if err := task.Ack(); err != nil {
			slog.Error("error acking task", "error", err)
		}
	default:
		slog.Warn("received task from unexpected queue", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting task", "error", err)
		}
	}
}
