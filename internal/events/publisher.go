package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

type Publisher interface {
	Publish(subject string, data interface{}) error
	Close()
}

type NATSPublisher struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

func NewNATSPublisher(url string, logger *logrus.Entry) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("squad-optimizer"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithField("url", c.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{conn: nc, logger: logger}, nil
}

func (p *NATSPublisher) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, payload)
}

// Connected reports the connection state for health checks.
func (p *NATSPublisher) Connected() bool {
	return p.conn.IsConnected()
}

func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// NopPublisher drops every event; used when no NATS URL is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(string, interface{}) error { return nil }

func (NopPublisher) Close() {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Message is one event captured by a Recorder.
type Message struct {
	Subject string
	Payload []byte
}

func (r *Recorder) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.messages = append(r.messages, Message{Subject: subject, Payload: payload})
	r.mu.Unlock()
	return nil
}

// Messages returns a copy of everything published so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

func (r *Recorder) Close() {}
