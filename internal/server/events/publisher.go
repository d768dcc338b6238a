// Package events publishes domain events produced by the get-key flow.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// TopicCredentialIssued carries one message per publicly issued key.
const TopicCredentialIssued = "getkey.credential_issued"

// CredentialIssued is published after the issuance transaction commits.
// It intentionally omits the key value.
type CredentialIssued struct {
	CredentialID     string    `json:"credential_id"`
	SessionID        string    `json:"session_id"`
	ResourceID       string    `json:"resource_id"`
	OwnerID          string    `json:"owner_id"`
	RequesterAddress string    `json:"requester_address"`
	ExpiresAt        time.Time `json:"expires_at"`
	IssuedAt         time.Time `json:"issued_at"`
}

// Publisher is the outbound port used by the key flow service.
type Publisher interface {
	PublishCredentialIssued(ctx context.Context, e CredentialIssued) error
}

// WatermillPublisher implements Publisher on top of any watermill publisher.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     TopicCredentialIssued,
	}
}

func (p *WatermillPublisher) PublishCredentialIssued(ctx context.Context, e CredentialIssued) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("session_id", e.SessionID)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
