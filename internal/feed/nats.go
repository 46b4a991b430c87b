package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"ideaforge/api/internal/store"
)

const subjectPrefix = "ideaforge.activity"

type natsConn interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATS publishes every event on ideaforge.activity.<type>, with the type's
// colons turned into subject tokens (idea:approved -> ideaforge.activity.idea.approved).
type NATS struct {
	conn natsConn
}

func NewNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("ideaforge-api"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATS{conn: conn}, nil
}

func Subject(eventType string) string {
	token := strings.NewReplacer(":", ".", " ", "_", "*", "_", ">", "_").Replace(eventType)
	if token == "" {
		token = "unknown"
	}
	return subjectPrefix + "." + token
}

func (n *NATS) Publish(_ context.Context, event store.ActivityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal activity event: %w", err)
	}
	if err := n.conn.Publish(Subject(event.Type), payload); err != nil {
		return fmt.Errorf("publish activity to nats: %w", err)
	}
	return nil
}

func (n *NATS) Close() {
	n.conn.Close()
}
