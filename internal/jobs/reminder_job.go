package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"workflow-service/internal/events"
	"workflow-service/internal/models"
	"workflow-service/internal/repository"
)

// ReminderJob periodically nudges approvers whose stage has been sitting in
// progress. It only publishes reminder events and stamps lastRemindedAt; it
// never moves a workflow or stage through the state machine.
type ReminderJob struct {
	repo       repository.WorkflowRepositoryInterface
	publisher  *events.Publisher
	logger     *logrus.Logger
	interval   time.Duration
	staleAfter time.Duration
	stopCh     chan struct{}
}

// NewReminderJob creates a new reminder job
func NewReminderJob(repo repository.WorkflowRepositoryInterface, publisher *events.Publisher, logger *logrus.Logger, interval, staleAfter time.Duration) *ReminderJob {
	return &ReminderJob{
		repo:       repo,
		publisher:  publisher,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the reminder loop
func (j *ReminderJob) Start(ctx context.Context) {
	j.logger.Info("Reminder job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.runReminderCheck(ctx)

	for {
		select {
		case <-ticker.C:
			j.runReminderCheck(ctx)
		case <-j.stopCh:
			j.logger.Info("Reminder job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Reminder job context cancelled")
			return
		}
	}
}

// Stop signals the job to stop
func (j *ReminderJob) Stop() {
	close(j.stopCh)
}

func (j *ReminderJob) runReminderCheck(ctx context.Context) {
	j.logger.Debug("Running stale-stage reminder check...")

	cutoff := time.Now().Add(-j.staleAfter)
	stages, err := j.repo.FindStaleInProgressStages(ctx, cutoff)
	if err != nil {
		j.logger.Errorf("Failed to find stale stages: %v", err)
		return
	}
	if len(stages) == 0 {
		j.logger.Debug("No stale stages")
		return
	}

	j.logger.Infof("Found %d stale stages awaiting approval", len(stages))

	for _, stage := range stages {
		if err := j.remindStage(ctx, &stage); err != nil {
			j.logger.Errorf("Failed to remind stage %s: %v", stage.ID, err)
		}
	}
}

func (j *ReminderJob) remindStage(ctx context.Context, stage *models.StageInstance) error {
	workflow, err := j.repo.GetWorkflowByID(ctx, stage.WorkflowID)
	if err != nil {
		return err
	}
	// Cancelled or otherwise finished workflows may leave stages behind that
	// the stale query still matches briefly; skip them.
	if workflow.Status != models.WorkflowStatusInProgress {
		return nil
	}

	if j.publisher != nil {
		j.publisher.Publish(events.SubjectStageReminder, events.WorkflowEvent{
			EventType:      events.SubjectStageReminder,
			WorkflowID:     workflow.ID.String(),
			WorkflowNumber: workflow.WorkflowNumber,
			WorkflowType:   workflow.WorkflowType,
			Status:         workflow.Status,
			StageID:        stage.ID.String(),
			StageName:      stage.StageName,
			StageOrder:     stage.StageOrder,
			NotifyEmails:   stage.NotifyEmails,
		})
	}

	if err := j.repo.UpdateStageLastReminded(ctx, stage.ID, time.Now()); err != nil {
		return err
	}

	j.logger.WithFields(logrus.Fields{
		"workflowNumber": workflow.WorkflowNumber,
		"stageName":      stage.StageName,
		"stageOrder":     stage.StageOrder,
	}).Info("Sent stage reminder")
	return nil
}
