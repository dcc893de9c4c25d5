package model

import (
	"time"
)

// ScheduleAction is the fleet action a schedule performs.
type ScheduleAction string

const (
	ActionEnable  ScheduleAction = "enable"
	ActionDisable ScheduleAction = "disable"
)

// Valid reports whether a is a known action.
func (a ScheduleAction) Valid() bool {
	return a == ActionEnable || a == ActionDisable
}

// ScheduleStatus is the lifecycle state of a schedule row.
type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleCompleted ScheduleStatus = "completed"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// Schedule is a durable, time-triggered fleet action.
type Schedule struct {
	ID          string         `json:"id"`
	BotID       string         `json:"bot_id"`
	Action      ScheduleAction `json:"action"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Status      ScheduleStatus `json:"status"`
	ExecutedAt  *time.Time     `json:"executed_at,omitempty"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Due reports whether the schedule is pending and not in the future.
func (s *Schedule) Due(now time.Time) bool {
	return s.Status == SchedulePending && !s.ScheduledAt.After(now)
}

// ScheduleExecuted is broadcast after the scheduler applies a row.
type ScheduleExecuted struct {
	ScheduleID string         `json:"schedule_id"`
	BotID      string         `json:"bot_id"`
	Action     ScheduleAction `json:"action"`
}
