package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Event subjects
const (
	SubjectWorkflowSubmitted = "workflow.submitted"
	SubjectWorkflowCompleted = "workflow.completed"
	SubjectWorkflowCancelled = "workflow.cancelled"
	SubjectStageApproved     = "workflow.stage.approved"
	SubjectStageRejected     = "workflow.stage.rejected"
	SubjectStageReminder     = "workflow.stage.reminder"
)

// WorkflowEvent is the payload published on every stage-completion and
// workflow lifecycle transition. The notification dispatcher consumes it;
// delivery itself is out of scope here.
type WorkflowEvent struct {
	EventType      string    `json:"eventType"`
	WorkflowID     string    `json:"workflowId"`
	WorkflowNumber string    `json:"workflowNumber"`
	WorkflowType   string    `json:"workflowType"`
	Status         string    `json:"status"`
	StageID        string    `json:"stageId,omitempty"`
	StageName      string    `json:"stageName,omitempty"`
	StageOrder     int       `json:"stageOrder,omitempty"`
	ActorID        string    `json:"actorId,omitempty"`
	ActorRole      string    `json:"actorRole,omitempty"`
	Comments       string    `json:"comments,omitempty"`
	NotifyEmails   []string  `json:"notifyEmails,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Publisher publishes workflow events to NATS. A nil Publisher is valid and
// drops events, so the service runs without a broker.
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

// NewPublisher connects to NATS and returns a Publisher
func NewPublisher(url string, logger *logrus.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("workflow-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		conn:   conn,
		logger: logger.WithField("component", "workflow-events"),
	}, nil
}

// Close drains and closes the NATS connection
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.WithError(err).Warn("Failed to drain NATS connection")
	}
}

// Publish sends the event on its subject asynchronously. Publishing never
// blocks or fails a state transition; failures are logged for follow-up.
func (p *Publisher) Publish(subject string, event WorkflowEvent) {
	if p == nil || p.conn == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	go func() {
		payload, err := json.Marshal(event)
		if err != nil {
			p.logger.WithError(err).Error("Failed to marshal workflow event")
			return
		}
		if err := p.conn.Publish(subject, payload); err != nil {
			p.logger.WithFields(logrus.Fields{
				"subject":    subject,
				"workflowId": event.WorkflowID,
				"eventType":  event.EventType,
			}).WithError(err).Error("Failed to publish workflow event")
			return
		}
		p.logger.WithFields(logrus.Fields{
			"subject":    subject,
			"workflowId": event.WorkflowID,
			"eventType":  event.EventType,
		}).Info("Workflow event published")
	}()
}
