package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/UnendingLoop/ImageAugmentor/internal/mwlogger"
	"github.com/UnendingLoop/ImageAugmentor/internal/queue"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/retry"
)

// уведомление теряет смысл, если долго ретраить
var publishStrategy = retry.Strategy{
	Attempts: 3,
	Delay:    time.Second,
	Backoff:  2,
}

// Publisher - worker-side notifier: hands result messages over to the api process via kafka
type Publisher struct {
	producer queue.Producer
}

func NewPublisher(p queue.Producer) *Publisher {
	return &Publisher{producer: p}
}

func (p *Publisher) Notify(ctx context.Context, msg model.ResultMessage) error {
	v, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode result message %q: %w", msg.SessionID, err)
	}
	return p.producer.SendWithRetry(ctx, publishStrategy, []byte(msg.OwnerUserID), v)
}

// Committer - подтверждение обработки сообщения в очереди
type Committer interface {
	Commit(ctx context.Context, msg kafkago.Message) error
}

// Relay - api-side consumer of result messages, fans them out to the local hub
type Relay struct {
	hub      *Hub
	queue    <-chan kafkago.Message
	consumer Committer
}

func NewRelay(hub *Hub, q <-chan kafkago.Message, cons Committer) *Relay {
	return &Relay{hub: hub, queue: q, consumer: cons}
}

func (r *Relay) Start(ctx context.Context) {
	logger := mwlogger.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-r.queue:
			if !ok {
				logger.Info().Msg("Result channel closed, stopping relay...")
				return
			}

			var res model.ResultMessage
			if err := json.Unmarshal(msg.Value, &res); err != nil || res.OwnerUserID == "" {
				logger.Error().Err(err).Str("key", string(msg.Key)).Msg("Dropping undecodable result message")
			} else if err := r.hub.Notify(ctx, res); err != nil {
				logger.Error().Err(err).Str("session_id", res.SessionID).Msg("Failed to relay result")
			}

			if err := r.consumer.Commit(ctx, msg); err != nil {
				logger.Error().Err(err).Msg("Failed to commit result message")
			}
		}
	}
}
