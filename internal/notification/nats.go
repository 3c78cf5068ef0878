package notification

import (
	"Go2NetIDS/internal/config"
	"Go2NetIDS/internal/model"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodeAlert serializes an alert to its protobuf wire form.
func EncodeAlert(a model.Alert) ([]byte, error) {
	msg, err := structpb.NewStruct(map[string]interface{}{
		"id":          a.ID,
		"flow":        a.Flow,
		"source":      a.Source,
		"destination": a.Destination,
		"confidence":  a.Confidence,
		"timestamp":   a.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(msg)
}

// DecodeAlert parses an alert produced by EncodeAlert.
func DecodeAlert(data []byte) (model.Alert, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return model.Alert{}, fmt.Errorf("error unmarshalling protobuf: %w", err)
	}
	f := msg.GetFields()
	a := model.Alert{
		ID:          f["id"].GetStringValue(),
		Flow:        f["flow"].GetStringValue(),
		Source:      f["source"].GetStringValue(),
		Destination: f["destination"].GetStringValue(),
		Confidence:  f["confidence"].GetNumberValue(),
	}
	if ts := f["timestamp"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return model.Alert{}, fmt.Errorf("invalid alert timestamp %q: %w", ts, err)
		}
		a.Timestamp = t
	}
	return a, nil
}

// NATSNotifier publishes alerts to a NATS subject.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSNotifier connects to the configured NATS server.
func NewNATSNotifier(cfg config.NATSConfig, logger *zap.Logger) (*NATSNotifier, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("ns-ids"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("Connected to NATS server", zap.String("url", cfg.URL), zap.String("subject", cfg.Subject))
	return &NATSNotifier{nc: nc, subject: cfg.Subject, logger: logger}, nil
}

func (p *NATSNotifier) Name() string { return "nats" }

// Send serializes the alert and publishes it, then flushes so delivery
// failures surface to the retry loop.
func (p *NATSNotifier) Send(ctx context.Context, a model.Alert) error {
	data, err := EncodeAlert(a)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return err
	}
	return p.nc.FlushWithContext(ctx)
}

// Close drains and closes the NATS connection.
func (p *NATSNotifier) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.logger.Info("NATS connection drained and closed.")
	}
}

// AlertHandler is a function that processes a received alert.
type AlertHandler func(a model.Alert)

// Subscriber receives alerts published by a NATSNotifier.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	logger  *zap.Logger
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.NATSConfig, logger *zap.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("ns-ids-watch"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("Connected to NATS server", zap.String("url", cfg.URL))
	return &Subscriber{nc: nc, subject: cfg.Subject, logger: logger}, nil
}

// Start subscribes to the alert subject and passes every decoded alert to handler.
func (s *Subscriber) Start(handler AlertHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		a, err := DecodeAlert(msg.Data)
		if err != nil {
			s.logger.Warn("dropping undecodable alert", zap.Error(err))
			return
		}
		handler(a)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("Subscribed, waiting for alerts", zap.String("subject", s.subject))
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS connection closed.")
	}
}
