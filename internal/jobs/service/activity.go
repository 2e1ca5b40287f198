package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"fieldops_backend/internal/events"
	"fieldops_backend/internal/jobs/repository"
	"fieldops_backend/internal/jobs/transport"
)

// ListActivity returns the activity feed of a job, newest first.
func (s *Service) ListActivity(ctx context.Context, jobID uuid.UUID) (transport.ActivityListResponse, error) {
	if _, err := s.repo.GetByID(ctx, jobID); err != nil {
		return transport.ActivityListResponse{}, err
	}

	items, err := s.repo.ListActivity(ctx, jobID, activityFeedLimit)
	if err != nil {
		return transport.ActivityListResponse{}, err
	}

	resp := transport.ActivityListResponse{Items: make([]transport.ActivityResponse, 0, len(items))}
	for _, a := range items {
		resp.Items = append(resp.Items, transport.ActivityResponse{
			ID:        a.ID,
			ActorType: a.ActorType,
			ActorID:   a.ActorID,
			EventType: a.EventType,
			Title:     a.Title,
			Metadata:  a.Metadata,
			CreatedAt: a.CreatedAt,
		})
	}
	return resp, nil
}

// RecordStageChanged writes a stage transition to the activity feed.
func (s *Service) RecordStageChanged(ctx context.Context, e events.JobStageChanged) error {
	return s.repo.AddActivity(ctx, repository.Activity{
		JobID:     e.JobID,
		ActorType: actorType(e.ActorID),
		ActorID:   e.ActorID,
		EventType: "stage_changed",
		Title:     fmt.Sprintf("Stage changed from %s to %s", e.From, e.To),
		Metadata: map[string]any{
			"eventId":   e.EventID,
			"fromStage": e.From,
			"toStage":   e.To,
			"trigger":   e.Trigger,
		},
	})
}

// RecordStepsCompleted writes newly completed checklist steps to the activity feed.
func (s *Service) RecordStepsCompleted(ctx context.Context, e events.JobStepsCompleted) error {
	title := fmt.Sprintf("Completed %s", strings.Join(e.Steps, ", "))
	if e.Auto {
		title = fmt.Sprintf("Auto-completed %s", strings.Join(e.Steps, ", "))
	}
	actor := e.Actor
	if e.Auto {
		actor = nil
	}

	return s.repo.AddActivity(ctx, repository.Activity{
		JobID:     e.JobID,
		ActorType: actorType(actor),
		ActorID:   actor,
		EventType: "steps_completed",
		Title:     title,
		Metadata: map[string]any{
			"eventId": e.EventID,
			"stage":   e.Stage,
			"steps":   e.Steps,
			"source":  e.Source,
			"auto":    e.Auto,
		},
	})
}
