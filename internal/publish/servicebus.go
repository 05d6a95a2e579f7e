// Package publish pushes change sets onto a message queue so other
// systems can react to detected drift without polling object storage.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"github.com/rindang/driftwatch/internal/logging"
	"github.com/rindang/driftwatch/pkg/diff"
)

// Publisher sends one message per non-empty change set.
type Publisher interface {
	Publish(ctx context.Context, cs *diff.ChangeSet, runID string) error
	Close(ctx context.Context) error
}

// ServiceBusPublisher publishes to an Azure Service Bus queue.
type ServiceBusPublisher struct {
	client *azservicebus.Client
	sender *azservicebus.Sender
	queue  string
}

func NewServiceBusPublisher(connectionString, queue string) (*ServiceBusPublisher, error) {
	client, err := azservicebus.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("creating service bus client: %w", err)
	}

	sender, err := client.NewSender(queue, nil)
	if err != nil {
		client.Close(context.Background())
		return nil, fmt.Errorf("creating sender for queue %s: %w", queue, err)
	}

	return &ServiceBusPublisher{client: client, sender: sender, queue: queue}, nil
}

type changeMessage struct {
	Datasource string   `json:"datasource"`
	Table      string   `json:"table"`
	RunID      string   `json:"run_id"`
	Added      int      `json:"added"`
	Modified   int      `json:"modified"`
	Deleted    []string `json:"deleted"`
}

// Publish sends a compact notification: counts plus the deleted keys.
// Full row payloads live in snapshots, not on the queue.
func (p *ServiceBusPublisher) Publish(ctx context.Context, cs *diff.ChangeSet, runID string) error {
	if cs.Empty() {
		return nil
	}

	deleted := make([]string, 0, len(cs.Deleted))
	for _, k := range cs.Deleted {
		deleted = append(deleted, string(k))
	}

	body, err := json.Marshal(changeMessage{
		Datasource: cs.Datasource,
		Table:      cs.Table,
		RunID:      runID,
		Added:      len(cs.Added),
		Modified:   len(cs.Modified),
		Deleted:    deleted,
	})
	if err != nil {
		return fmt.Errorf("encoding change message: %w", err)
	}

	contentType := "application/json"
	msg := &azservicebus.Message{
		Body:        body,
		ContentType: &contentType,
		Subject:     &cs.Table,
	}
	if err := p.sender.SendMessage(ctx, msg, nil); err != nil {
		return fmt.Errorf("sending change message for %s.%s: %w", cs.Datasource, cs.Table, err)
	}

	logging.GetLogger().Debug("Published change message",
		"queue", p.queue, "table", cs.Table, "run_id", runID)
	return nil
}

func (p *ServiceBusPublisher) Close(ctx context.Context) error {
	if err := p.sender.Close(ctx); err != nil {
		return err
	}
	return p.client.Close(ctx)
}
