// Package notifications hands job-generated notifications to the delivery
// pipeline and runs bounded background work on behalf of the jobs.
//
// Delivery itself (push, email, realtime) is performed by separate workers
// consuming the notification queue; this package only enqueues.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"clubhouse/internal/types"
)

// DefaultMaxRecipientsPerMessage keeps a message well under the SQS 256 KiB
// body limit.
const DefaultMaxRecipientsPerMessage = 500

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSDispatcher implements scheduler.Dispatcher by enqueuing JSON messages on
// the notification queue. A notification with many recipients is split into
// several messages.
type SQSDispatcher struct {
	client        SQSSender
	queueURL      string
	maxRecipients int
	fifo          bool
	logger        *slog.Logger
}

// NewSQSDispatcher creates a dispatcher targeting queueURL. FIFO queues
// (".fifo" suffix) get a message group and deduplication ID per message.
func NewSQSDispatcher(client SQSSender, queueURL string, logger *slog.Logger) *SQSDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSDispatcher{
		client:        client,
		queueURL:      queueURL,
		maxRecipients: DefaultMaxRecipientsPerMessage,
		fifo:          strings.HasSuffix(queueURL, ".fifo"),
		logger:        logger,
	}
}

// Notify enqueues n. It fails on the first message that cannot be sent;
// chunks already enqueued are not withdrawn.
func (d *SQSDispatcher) Notify(ctx context.Context, n types.Notification) error {
	chunks := splitRecipients(n.RecipientIDs, d.maxRecipients)

	for i, recipients := range chunks {
		msg := n
		msg.RecipientIDs = recipients

		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("notification dispatcher: failed to marshal message: %w", err)
		}

		input := &sqs.SendMessageInput{
			QueueUrl:    aws.String(d.queueURL),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]sqstypes.MessageAttributeValue{
				"type": {DataType: aws.String("String"), StringValue: aws.String(string(n.Type))},
				"kind": {DataType: aws.String("String"), StringValue: aws.String(string(n.Kind))},
			},
		}
		if d.fifo {
			input.MessageGroupId = aws.String(string(n.Kind) + ":" + n.EntityID)
			input.MessageDeduplicationId = aws.String(dedupID(n, i))
		}

		if _, err := d.client.SendMessage(ctx, input); err != nil {
			return types.NewAppErrorWithDetails(
				types.ErrCodeUpstreamNotificationQueue,
				"failed to enqueue notification",
				err,
				map[string]any{"entity_id": n.EntityID, "chunk": i},
			)
		}
	}

	d.logger.InfoContext(ctx, "notification enqueued",
		"type", n.Type,
		"kind", n.Kind,
		"entity_id", n.EntityID,
		"recipients", len(n.RecipientIDs),
		"messages", len(chunks),
	)
	return nil
}

// splitRecipients returns at least one chunk so broadcast notifications
// (no explicit recipients) are still sent once.
func splitRecipients(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return [][]string{nil}
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		out = append(out, ids[start:min(start+size, len(ids))])
	}
	return out
}

func dedupID(n types.Notification, chunk int) string {
	parts := []string{string(n.Type), string(n.Kind), n.EntityID}
	if n.ThresholdMinutes > 0 {
		parts = append(parts, strconv.Itoa(n.ThresholdMinutes))
	}
	parts = append(parts, strconv.Itoa(chunk))
	return strings.Join(parts, "_")
}
