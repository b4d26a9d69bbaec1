package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nathanyu/matching-engine/internal/domain"
)

const tradeSubjectPrefix = "exchange.trades."

// Publisher pushes trade events to NATS for downstream consumers
// (persistence, client notification) outside the matching core.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS and returns a trade event publisher.
func NewPublisher(url string) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("matching-engine"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// Subject returns the per-symbol subject trade events are published on.
func Subject(symbol string) string {
	return tradeSubjectPrefix + strings.ToUpper(symbol)
}

// PublishTradeEvent publishes one trade event on the symbol's subject.
func (p *Publisher) PublishTradeEvent(event *domain.TradeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal trade event: %w", err)
	}
	if err := p.conn.Publish(Subject(event.Symbol), data); err != nil {
		return fmt.Errorf("failed to publish trade event: %w", err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		slog.Warn("NATS drain failed", "error", err)
	}
	p.conn.Close()
}
