package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wevoice/wesub-sub003/internal/config"
)

const (
	// QueueName is the durable queue carrying side-effect jobs.
	QueueName = "subtitle_side_effects"

	// ExchangeName is the direct exchange jobs are published through.
	ExchangeName = "subtitle_jobs"

	// dedupWindow is how long a job id stays claimed. Side effects are
	// at-least-once and idempotent, so the window only trims duplicate
	// submissions, not correctness.
	dedupWindow = 10 * time.Minute
)

// Job kinds
const (
	KindIndexRefresh   = "index_refresh"
	KindProviderSync   = "provider_sync"
	KindProviderDelete = "provider_delete"
	KindExport         = "export"
)

// Job is one idempotent side-effect task. ID is deterministic per
// triggering version or language, so the runner can deduplicate
// concurrent submissions.
type Job struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// IndexRefreshPayload keys the search-index refresh by language;
// last-write-wins.
type IndexRefreshPayload struct {
	VideoID      string `json:"video_id"`
	LanguageCode string `json:"language_code"`
}

// SyncPayload drives provider back-sync and export rendering for one
// version.
type SyncPayload struct {
	VideoID       string `json:"video_id"`
	LanguageCode  string `json:"language_code"`
	VersionNumber int    `json:"version_number"`
}

// ProviderDeletePayload withdraws a language from linked providers
// after its last public version was hidden.
type ProviderDeletePayload struct {
	VideoID      string `json:"video_id"`
	LanguageCode string `json:"language_code"`
}

// NewJob builds a job with a marshaled payload.
func NewJob(id, kind string, payload interface{}) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return &Job{ID: id, Kind: kind, Payload: data}, nil
}

// IndexRefreshID returns the deterministic job id for an index refresh.
func IndexRefreshID(videoID, languageCode string) string {
	return fmt.Sprintf("index:%s:%s", videoID, languageCode)
}

// ProviderSyncID returns the deterministic job id for a provider sync.
func ProviderSyncID(versionID string) string {
	return fmt.Sprintf("provider:%s", versionID)
}

// ProviderDeleteID returns the deterministic job id for a provider
// withdrawal.
func ProviderDeleteID(videoID, languageCode string) string {
	return fmt.Sprintf("provider_delete:%s:%s", videoID, languageCode)
}

// ExportID returns the deterministic job id for an export render.
func ExportID(versionID string) string {
	return fmt.Sprintf("export:%s", versionID)
}

// Runner accepts side-effect jobs for at-least-once execution. Submit
// deduplicates concurrent submissions with the same id.
type Runner interface {
	Submit(ctx context.Context, job *Job) error
}

// Deduper claims job ids for a window. Satisfied by the Redis cache.
type Deduper interface {
	ClaimJob(ctx context.Context, jobID string, window time.Duration) (bool, error)
}

// AMQPRunner publishes jobs to a durable queue.
type AMQPRunner struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	dedup   Deduper
}

// NewAMQPRunner connects to the broker and declares the job queue.
// dedup may be nil, in which case every submission publishes.
func NewAMQPRunner(cfg config.QueueConfig, dedup Deduper) (*AMQPRunner, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange
	err = channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	_, err = channel.QueueDeclare(
		QueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	err = channel.QueueBind(
		QueueName,
		QueueName,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &AMQPRunner{conn: conn, channel: channel, dedup: dedup}, nil
}

// Close closes the broker connection
func (r *AMQPRunner) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// Submit publishes a job unless the same id was claimed within the
// dedup window.
func (r *AMQPRunner) Submit(ctx context.Context, job *Job) error {
	if r.dedup != nil {
		claimed, err := r.dedup.ClaimJob(ctx, job.ID, dedupWindow)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = r.channel.PublishWithContext(ctx,
		ExchangeName,
		QueueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    job.ID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	return nil
}

// Consume starts consuming jobs from the queue. Handler errors requeue
// the message.
func (r *AMQPRunner) Consume(ctx context.Context, handler func(*Job) error) error {
	// Set QoS to limit concurrent processing
	err := r.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := r.channel.Consume(
		QueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var job Job
				if err := json.Unmarshal(msg.Body, &job); err != nil {
					msg.Nack(false, false)
					continue
				}

				if err := handler(&job); err != nil {
					msg.Nack(false, true)
				} else {
					msg.Ack(false)
				}
			}
		}
	}()

	return nil
}
