package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"grit-server/pkg/config"
	"grit-server/pkg/metrics"
	"grit-server/pkg/telemetry"
)

// ScoreBatchMessage is the wire format for one published score batch.
type ScoreBatchMessage struct {
	SessionID string                  `json:"session_id"`
	Scores    []telemetry.ScorePacket `json:"scores"`
	Timestamp time.Time               `json:"timestamp"`
}

// EventMessage is the wire format for one published game event.
type EventMessage struct {
	Event     telemetry.GameEvent `json:"event"`
	Timestamp time.Time           `json:"timestamp"`
}

// AMQPClient publishes score batches and game events to the event bus.
// Downstream consumers (dashboards, training-load pipelines) are outside
// this process; a publish failure never fails ingestion.
type AMQPClient struct {
	logger    *logrus.Logger
	config    config.MessagingConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPClient creates an AMQP client. Call Connect before publishing.
func NewAMQPClient(cfg config.MessagingConfig, logger *logrus.Logger) *AMQPClient {
	return &AMQPClient{
		logger:   logger,
		config:   cfg,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the connection, declares the exchange and queue,
// and starts the reconnect monitor.
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}
	if c.config.URL == "" {
		return fmt.Errorf("AMQP URL not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)
	go func() {
		conn, err := amqp.Dial(c.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	var err error
	select {
	case result := <-connChan:
		conn = result.conn
		err = result.err
	case <-ctx.Done():
		return fmt.Errorf("connection to AMQP server timed out after 5 seconds")
	}
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}
	c.conn = conn

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	c.channel = channel

	if err := channel.ExchangeDeclare(
		c.config.ExchangeName,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP exchange: %w", err)
	}

	if _, err := channel.QueueDeclare(
		c.config.QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	if err := channel.QueueBind(c.config.QueueName, "scores.#", c.config.ExchangeName, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to bind AMQP queue: %w", err)
	}

	c.connected = true
	c.stopChan = make(chan struct{})
	go c.monitorConnection()

	c.logger.WithFields(logrus.Fields{
		"exchange": c.config.ExchangeName,
		"queue":    c.config.QueueName,
	}).Info("Connected to AMQP server")

	return nil
}

// Disconnect closes the AMQP connection and stops the monitor.
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}
	close(c.stopChan)
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.connected = false
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status.
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishScoreBatch publishes one score batch, routing key
// "scores.<session_id>". Fire-and-forget with a short timeout.
func (c *AMQPClient) PublishScoreBatch(sessionID string, scores []telemetry.ScorePacket) error {
	message := ScoreBatchMessage{
		SessionID: sessionID,
		Scores:    scores,
		Timestamp: time.Now(),
	}
	return c.publish("scores."+sessionID, message)
}

// PublishEvent publishes one game event, routing key
// "events.<session_id>".
func (c *AMQPClient) PublishEvent(event telemetry.GameEvent) error {
	message := EventMessage{Event: event, Timestamp: time.Now()}
	return c.publish("events."+event.SessionID, message)
}

func (c *AMQPClient) publish(routingKey string, message interface{}) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"routing_key": routingKey,
				"recover":     r,
			}).Error("Recovered from panic while publishing to AMQP")
		}
	}()

	if !c.IsConnected() {
		metrics.RecordAMQPPublish("disconnected")
		return fmt.Errorf("not connected to AMQP server")
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal AMQP message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	publishChan := make(chan error, 1)
	go func() {
		c.connMutex.RLock()
		defer c.connMutex.RUnlock()

		if !c.connected || c.channel == nil {
			select {
			case <-ctx.Done():
			case publishChan <- fmt.Errorf("lost AMQP connection before publishing"):
			}
			return
		}

		err := c.channel.Publish(
			c.config.ExchangeName,
			routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				Expiration:   "3600000", // 1 hour, scores go stale fast
			},
		)
		select {
		case <-ctx.Done():
		case publishChan <- err:
		}
	}()

	select {
	case err := <-publishChan:
		if err != nil {
			metrics.RecordAMQPPublish("error")
			return fmt.Errorf("failed to publish to AMQP: %w", err)
		}
	case <-ctx.Done():
		metrics.RecordAMQPPublish("timeout")
		return fmt.Errorf("publishing to AMQP timed out")
	}

	metrics.RecordAMQPPublish("ok")
	return nil
}

// monitorConnection watches for connection loss and reconnects with
// exponential backoff.
func (c *AMQPClient) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	c.connMutex.RLock()
	if c.conn != nil {
		c.conn.NotifyClose(closeChan)
	}
	c.connMutex.RUnlock()

	for {
		select {
		case <-c.stopChan:
			return
		case closeErr := <-closeChan:
			c.connMutex.Lock()
			c.connected = false
			c.connMutex.Unlock()

			c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

			for attempt := 1; attempt <= 10; attempt++ {
				if err := c.Connect(); err == nil {
					c.logger.Info("Successfully reconnected to AMQP server")
					return
				} else {
					c.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")
				}

				backoff := time.Duration(1<<uint(attempt-1)) * time.Second
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
				time.Sleep(backoff)
			}
			return
		}
	}
}
