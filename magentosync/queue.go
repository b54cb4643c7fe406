package magentosync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/shipstream/magento-sync/config"
	"github.com/shipstream/magento-sync/utils"
)

// Task kinds handled by the worker.
const (
	TaskImportOrder          = "import_order"
	TaskAdjustInventory      = "adjust_inventory"
	TaskDeliveryCommitted    = "delivery_committed"
	TaskShipmentPacked       = "shipment_packed"
	TaskShipmentShipped      = "shipment_shipped"
	TaskShipmentReverted     = "shipment_reverted"
	TaskShipmentLabelsVoided = "shipment_labels_voided"
)

// Task is one unit of asynchronous work. MessageId is assigned by the queue
// and used for deduplication of at-least-once deliveries.
type Task struct {
	Kind      string `json:"kind"`
	MessageId string `json:"message_id,omitempty"`
	// OrderRef is the commerce order increment id for import_order tasks.
	OrderRef string `json:"order_ref,omitempty"`
	// Payload carries kind-specific data (shipment events, stock deltas).
	Payload json.RawMessage `json:"payload,omitempty"`
	// SyncRunId ties the task back to the run that queued it, when any.
	SyncRunId uint `json:"sync_run_id,omitempty"`
}

// TaskQueue decouples producing work from executing it.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
}

// TaskHandler executes one task. Errors wrapped with Permanent are not worth
// redelivering.
type TaskHandler func(ctx context.Context, task Task) error

// InlineQueue executes tasks synchronously in the caller's goroutine. It is
// the fallback when Pub/Sub is not configured, and the queue used in tests.
type InlineQueue struct {
	// Handler is set after construction, once the connector exists.
	Handler TaskHandler

	seq int
}

func (q *InlineQueue) Enqueue(ctx context.Context, task Task) error {
	if q.Handler == nil {
		return fmt.Errorf("inline queue has no handler")
	}
	q.seq++
	if task.MessageId == "" {
		task.MessageId = fmt.Sprintf("inline-%d", q.seq)
	}
	return q.Handler(ctx, task)
}

// PubSubQueue publishes tasks to a Pub/Sub topic; a push subscription routes
// them back through PubSubPushHandler.
type PubSubQueue struct {
	topicName string
}

func NewPubSubQueue() *PubSubQueue {
	topicName := strings.TrimSpace(os.Getenv("SYNC_TASK_TOPIC"))
	if topicName == "" {
		topicName = "magento-sync-tasks"
	}
	return &PubSubQueue{topicName: topicName}
}

func (q *PubSubQueue) Enqueue(ctx context.Context, task Task) error {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(q.topicName)
	if utils.EnvBool("SYNC_TASK_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, q.topicName)
		if err != nil {
			return err
		}
	}

	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushEnvelope is the push-delivery wrapper Google wraps messages in.
type PubSubPushEnvelope struct {
	Message struct {
		Data      json.RawMessage `json:"data"`
		MessageId string          `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
