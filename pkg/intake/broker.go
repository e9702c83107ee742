// Package intake connects the custody service to the warehouse message
// broker: it consumes equipment.created announcements and publishes
// equipment.transferred events for downstream services.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/equiptrack/custody-middleware/internal/metrics"
	apperrors "github.com/equiptrack/custody-middleware/pkg/app/errors"
	"github.com/equiptrack/custody-middleware/pkg/config"
	"github.com/equiptrack/custody-middleware/pkg/equipment"
	"github.com/equiptrack/custody-middleware/pkg/holder"
	"github.com/equiptrack/custody-middleware/pkg/reconcile"
)

// EquipmentCreatedMessage is the wire format the warehouse service publishes
// when a new unit enters inventory. Fields the custody ledger does not track
// are ignored on decode.
type EquipmentCreatedMessage struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SerialNumber    string `json:"serial_number"`
	Category        string `json:"category"`
	Manufacturer    string `json:"manufacturer"`
	Status          string `json:"status"`
	Location        string `json:"location"`
	CurrentHolderID string `json:"current_holder_id"`
}

// TransferredMessage is the wire format published after a committed custody
// change. Holder fields are nullable; null means the warehouse.
type TransferredMessage struct {
	TransferID     string    `json:"transfer_id"`
	EquipmentID    string    `json:"equipment_id"`
	EquipmentName  string    `json:"equipment_name"`
	SerialNumber   string    `json:"serial_number"`
	FromHolderID   *string   `json:"from_holder_id"`
	ToHolderID     *string   `json:"to_holder_id"`
	TransferDate   time.Time `json:"transfer_date"`
	TransferReason string    `json:"transfer_reason,omitempty"`
	ChainTxRef     string    `json:"blockchain_tx_id,omitempty"`
}

// Registrar is the contract the listener drives for each accepted message.
type Registrar interface {
	RegisterEquipment(ctx context.Context, req *reconcile.RegistrationRequest, source string) (*reconcile.RegistrationResult, error)
}

// Broker owns the RabbitMQ connection for both directions. A broker built
// from a config with an empty URI is valid: Listen does nothing and
// PublishTransferred silently drops, so the custody service runs without a
// message broker.
type Broker struct {
	config  *config.IntakeConfig
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger

	// amqp channels are not safe for concurrent publishing.
	publishMu sync.Mutex
}

// NewBroker connects to RabbitMQ and declares the exchanges and queues both
// sides expect. The declarations match the warehouse service's, so whichever
// service starts first creates them.
func NewBroker(cfg *config.IntakeConfig, logger *zap.Logger) (*Broker, error) {
	if cfg.URI == "" {
		logger.Info("Message broker not configured, intake listener disabled")
		return &Broker{config: cfg, logger: logger}, nil
	}

	conn, err := amqp.Dial(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := channel.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}
	queue, err := channel.QueueDeclare(cfg.Queue, true, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
	}
	if err := channel.QueueBind(queue.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to bind queue %s: %w", cfg.Queue, err)
	}

	if err := channel.ExchangeDeclare(cfg.PublishExchange, "direct", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.PublishExchange, err)
	}

	logger.Info("Connected to RabbitMQ",
		zap.String("consume_queue", cfg.Queue),
		zap.String("publish_exchange", cfg.PublishExchange))

	return &Broker{config: cfg, conn: conn, channel: channel, logger: logger}, nil
}

// Enabled reports whether a broker connection exists.
func (b *Broker) Enabled() bool {
	return b.conn != nil
}

// Close closes the broker connection.
func (b *Broker) Close() {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}

// Listen consumes equipment.created messages until ctx is cancelled.
// Delivery is at least once: messages are acked only after handling, and a
// transient failure requeues the message while a permanent one drops it.
func (b *Broker) Listen(ctx context.Context, registrar Registrar) error {
	if !b.Enabled() {
		return nil
	}

	deliveries, err := b.channel.Consume(b.config.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", b.config.Queue, err)
	}

	b.logger.Info("Listening for equipment created messages",
		zap.String("queue", b.config.Queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", b.config.Queue)
			}
			b.handle(ctx, registrar, delivery)
		}
	}
}

// handle processes one delivery. Permanent failures (malformed payloads,
// duplicates, validation errors) are acked so the queue does not loop on
// them; everything else is nacked back for redelivery.
func (b *Broker) handle(ctx context.Context, registrar Registrar, delivery amqp.Delivery) {
	var msg EquipmentCreatedMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		b.logger.Warn("Discarding malformed intake message", zap.Error(err))
		metrics.IntakeMessagesTotal.WithLabelValues("invalid").Inc()
		_ = delivery.Ack(false)
		return
	}
	if msg.SerialNumber == "" || msg.Name == "" {
		b.logger.Warn("Discarding intake message without name or serial number",
			zap.String("id", msg.ID))
		metrics.IntakeMessagesTotal.WithLabelValues("invalid").Inc()
		_ = delivery.Ack(false)
		return
	}

	res, err := registrar.RegisterEquipment(ctx, &reconcile.RegistrationRequest{
		Name:          msg.Name,
		SerialNumber:  msg.SerialNumber,
		Category:      msg.Category,
		Manufacturer:  msg.Manufacturer,
		Location:      msg.Location,
		InitialHolder: holder.FromUser(msg.CurrentHolderID),
	}, "intake")

	switch {
	case err == nil:
		b.logger.Info("Equipment created from intake message",
			zap.String("equipment_id", res.Equipment.ID),
			zap.String("serial_number", msg.SerialNumber))
		metrics.IntakeMessagesTotal.WithLabelValues("registered").Inc()
		_ = delivery.Ack(false)

	case apperrors.Is(err, apperrors.CategoryDataConflict):
		// The unit is already tracked; redelivery and the warehouse service's
		// own retries both land here.
		b.logger.Info("Equipment already tracked, dropping duplicate intake message",
			zap.String("serial_number", msg.SerialNumber))
		metrics.IntakeMessagesTotal.WithLabelValues("duplicate").Inc()
		_ = delivery.Ack(false)

	case apperrors.Is(err, apperrors.CategoryDataError):
		b.logger.Warn("Discarding invalid intake message",
			zap.String("serial_number", msg.SerialNumber),
			zap.Error(err))
		metrics.IntakeMessagesTotal.WithLabelValues("invalid").Inc()
		_ = delivery.Ack(false)

	default:
		b.logger.Error("Transient failure handling intake message, requeueing",
			zap.String("serial_number", msg.SerialNumber),
			zap.Error(err))
		metrics.IntakeMessagesTotal.WithLabelValues("requeued").Inc()
		_ = delivery.Nack(false, true)
	}
}

// PublishTransferred announces a committed custody change. It implements
// reconcile.TransferPublisher and is a no-op without a broker connection.
func (b *Broker) PublishTransferred(ctx context.Context, unit *equipment.Equipment, transfer *equipment.Transfer) error {
	if !b.Enabled() {
		return nil
	}

	msg := TransferredMessage{
		TransferID:     transfer.ID,
		EquipmentID:    unit.ID,
		EquipmentName:  unit.Name,
		SerialNumber:   unit.SerialNumber,
		FromHolderID:   transfer.FromHolder.Nullable(),
		ToHolderID:     transfer.ToHolder.Nullable(),
		TransferDate:   transfer.TransferDate,
		TransferReason: transfer.Reason,
		ChainTxRef:     transfer.ChainTxRef,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode transfer message: %w", err)
	}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()
	err = b.channel.Publish(b.config.PublishExchange, b.config.PublishKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish transfer message: %w", err)
	}

	b.logger.Debug("Published transfer message",
		zap.String("transfer_id", transfer.ID),
		zap.String("routing_key", b.config.PublishKey))
	return nil
}
