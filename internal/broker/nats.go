package broker

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

type Config struct {
	URL   string
	Token string
	Name  string
}

// Broker wraps a NATS connection used for event fan-out and worker wake-ups.
type Broker struct {
	Conn *nats.Conn
}

func Connect(cfg Config) (*Broker, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url required")
	}
	name := cfg.Name
	if name == "" {
		name = "rewardjar"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return &Broker{Conn: conn}, nil
}

func (b *Broker) Publish(subject string, data []byte) error {
	return b.Conn.Publish(subject, data)
}

// Notify publishes an empty wake-up message on subject.
func (b *Broker) Notify(subject string) error {
	return b.Conn.Publish(subject, nil)
}

// SubscribeWakeups forwards every message on subject to wake without blocking;
// a wake-up already queued absorbs the new one.
func (b *Broker) SubscribeWakeups(subject string, wake chan<- struct{}) (*nats.Subscription, error) {
	return b.Conn.Subscribe(subject, func(*nats.Msg) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
}

func (b *Broker) Close() {
	if b == nil || b.Conn == nil {
		return
	}
	if err := b.Conn.Drain(); err != nil {
		b.Conn.Close()
	}
}
