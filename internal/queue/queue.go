// Package queue encodes augmentation jobs into kafka-messages and publishes them
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/retry"
)

// Producer - контракт продюсера wbf kafka
type Producer interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key []byte, v []byte) error
}

// Стратегия ретрая отправки в очередь
var RetryStrategy = retry.Strategy{
	Attempts: 5,
	Delay:    3 * time.Second,
	Backoff:  1.5,
}

type JobPublisher struct {
	producer Producer
}

func NewJobPublisher(p Producer) *JobPublisher {
	return &JobPublisher{producer: p}
}

// Enqueue - the message key is the sessionId, the value is the job payload
func (p *JobPublisher) Enqueue(ctx context.Context, job model.Job) error {
	if err := Validate(job); err != nil {
		return err
	}

	v, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %q: %w", job.SessionID, err)
	}

	return p.producer.SendWithRetry(ctx, RetryStrategy, []byte(job.SessionID), v)
}

// Decode - reads a job from a consumed message
func Decode(msg kafkago.Message) (model.Job, error) {
	var job model.Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return model.Job{}, fmt.Errorf("failed to decode job from message %q: %w", string(msg.Key), err)
	}
	if err := Validate(job); err != nil {
		return model.Job{}, err
	}
	return job, nil
}

func Validate(job model.Job) error {
	switch {
	case job.SessionID == "", job.TempPath == "", job.OwnerUserID == "":
		return model.ErrInvalidJob
	case job.VariantCount < 1:
		return fmt.Errorf("%w: variant count %d", model.ErrInvalidJob, job.VariantCount)
	}
	return nil
}
