package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/usecase"
)

// publishTimeout bounds one publish plus its broker confirm.
const publishTimeout = 5 * time.Second

var _ usecase.ReplyPublisher = (*ReplyPublisher)(nil)

// ReplyPublisher publishes job replies to the requester's reply queue via
// the default exchange, with publisher confirms.
type ReplyPublisher struct {
	url     string
	conn    *amqplib.Connection
	channel *amqplib.Channel
	logger  *zap.Logger
	mu      sync.RWMutex
	// pubMu serializes publish+confirm pairs on the shared channel.
	pubMu  sync.Mutex
	closed bool
}

// NewReplyPublisher connects to RabbitMQ and starts watching the connection.
func NewReplyPublisher(url string, logger *zap.Logger) (*ReplyPublisher, error) {
	p := &ReplyPublisher{
		url:    url,
		logger: logger,
	}

	if err := p.connect(); err != nil {
		return nil, err
	}

	// Watch for connection closures and reconnect
	go p.watchConnection()

	return p, nil
}

func (p *ReplyPublisher) connect() error {
	conn, err := amqplib.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq: channel: %w", err)
	}

	// Enable publisher confirms
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("rabbitmq: enable confirms: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = ch
	p.mu.Unlock()

	p.logger.Info("RabbitMQ reply publisher initialized")
	return nil
}

// watchConnection monitors the connection and reconnects on failure.
func (p *ReplyPublisher) watchConnection() {
	for {
		p.mu.RLock()
		if p.closed {
			p.mu.RUnlock()
			return
		}
		conn := p.conn
		p.mu.RUnlock()

		// Block until the connection closes
		reason, ok := <-conn.NotifyClose(make(chan *amqplib.Error, 1))
		if !ok {
			// Channel closed normally
			return
		}

		p.logger.Warn("Reply publisher connection lost",
			zap.String("reason", reason.Error()),
		)

		for attempt := 0; ; attempt++ {
			p.mu.RLock()
			if p.closed {
				p.mu.RUnlock()
				return
			}
			p.mu.RUnlock()

			time.Sleep(backoff(attempt))

			if err := p.connect(); err != nil {
				p.logger.Warn("Reply publisher reconnect failed", zap.Error(err), zap.Int("attempt", attempt+1))
				continue
			}

			p.logger.Info("Reply publisher reconnected")
			break
		}
	}
}

// Reply implements usecase.ReplyPublisher.
func (p *ReplyPublisher) Reply(ctx context.Context, replyTo, correlationID string, reply *usecase.JobReply) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal reply: %w", err)
	}

	p.mu.RLock()
	ch := p.channel
	p.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return fmt.Errorf("rabbitmq: channel not available (reconnecting)")
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(publishCtx,
		"",      // default exchange
		replyTo, // routing key = reply queue
		false,   // mandatory
		false,   // immediate
		amqplib.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqplib.Persistent,
			CorrelationId: correlationID,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}

	// Wait for broker confirmation
	acked, err := confirm.WaitContext(publishCtx)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish confirmation timeout (correlation_id=%s): %w", correlationID, err)
	}
	if !acked {
		return fmt.Errorf("rabbitmq: broker nacked reply (correlation_id=%s)", correlationID)
	}

	p.logger.Debug("Published reply",
		zap.String("reply_to", replyTo),
		zap.String("correlation_id", correlationID),
		zap.Int("body_size", len(body)),
	)
	return nil
}

// Close stops reconnecting and closes the connection.
func (p *ReplyPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
