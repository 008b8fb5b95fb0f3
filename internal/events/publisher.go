package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"compliance-service/internal/models"
)

// Event types published on workflow transitions
const (
	ProcessInitialized = "compliance.process.initialized"
	StageApproved      = "compliance.stage.approved"
	ProcessCompleted   = "compliance.process.completed"
	ProcessRejected    = "compliance.process.rejected"
)

// StreamName is the JetStream stream holding all compliance events.
const StreamName = "COMPLIANCE"

// WorkflowEvent is the payload published for every workflow transition.
type WorkflowEvent struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	Kind      string    `json:"kind"`
	ProcessID string    `json:"processId"`
	JobID     string    `json:"jobId"`
	Stage     string    `json:"stage,omitempty"`
	Status    string    `json:"status"`
	ActorID   string    `json:"actorId,omitempty"`
	ActorName string    `json:"actorName,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends workflow events to NATS JetStream. A nil Publisher is safe
// to call; the service runs fully without NATS.
type Publisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
}

// NewPublisher connects to NATS and ensures the compliance stream exists.
func NewPublisher(url string, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	nc, err := nats.Connect(url,
		nats.Name("compliance-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(StreamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: []string{"compliance.>"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to ensure stream: %w", err)
		}
	}

	return &Publisher{
		nc:     nc,
		js:     js,
		logger: logger.WithField("component", "workflow-events"),
	}, nil
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p != nil && p.nc != nil {
		p.nc.Close()
	}
}

// PublishTransition publishes an event for a committed workflow transition.
// Publishing is asynchronous and best-effort: a broker failure is logged but
// never fails the request, since the transition has already committed.
func (p *Publisher) PublishTransition(ctx context.Context, eventType string, process *models.ApprovalProcess, actorID uuid.UUID, actorName, reason string) {
	if p == nil || p.js == nil {
		return
	}

	event := WorkflowEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Kind:      process.Kind,
		ProcessID: process.ID.String(),
		JobID:     process.JobID.String(),
		Stage:     string(process.CurrentStage),
		Status:    process.Status,
		ActorID:   actorID.String(),
		ActorName: actorName,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}

	go func() {
		data, err := json.Marshal(event)
		if err != nil {
			p.logger.WithError(err).Error("Failed to marshal workflow event")
			return
		}

		if _, err := p.js.Publish(eventType, data); err != nil {
			p.logger.WithFields(logrus.Fields{
				"eventType": eventType,
				"processId": event.ProcessID,
				"jobId":     event.JobID,
			}).WithError(err).Error("Failed to publish workflow event")
			return
		}

		p.logger.WithFields(logrus.Fields{
			"eventType": eventType,
			"processId": event.ProcessID,
			"jobId":     event.JobID,
		}).Info("Workflow event published")
	}()
}
