// Package sched bridges recurring tasks to the host scheduler. The
// Linux backend edits the invoking user's crontab; the Windows backend
// renders Task Scheduler XML and registers it with schtasks. Neither
// backend runs timers in-process; firing is the host's job and a fired
// entry re-invokes this application's own action commands.
package sched

import (
	"strings"
	"time"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// TriggerType tags one recurrence variant.
type TriggerType string

const (
	TriggerOnce    TriggerType = "Once"
	TriggerDaily   TriggerType = "Daily"
	TriggerWeekly  TriggerType = "Weekly"
	TriggerMonthly TriggerType = "Monthly"
	TriggerLogon   TriggerType = "Logon"
)

// Trigger is one recurrence rule attached to a scheduled task.
type Trigger struct {
	Type  TriggerType
	Start time.Time

	// Interval is the day or week repeat period for Daily and Weekly.
	Interval int
	// Days holds weekday names for Weekly (Monday..Sunday).
	Days []string
	// DaysOfMonth and Months apply to Monthly.
	DaysOfMonth []int
	Months      []string
}

// ScheduledTask is a command from the fixed allowlist plus its
// triggers.
type ScheduledTask struct {
	Command  string
	Triggers []Trigger
}

// commandActions maps the scheduler-facing command names to the CLI
// actions a fired task invokes. Anything outside this table is
// rejected before any OS call.
var commandActions = map[string]string{
	"update-server":  "update",
	"backup-all":     "backup-all",
	"start-server":   "start",
	"stop-server":    "stop",
	"restart-server": "restart",
	"scan-players":   "scan-players",
}

// ActionFor resolves an allowlisted command to its CLI action.
func ActionFor(command string) (string, error) {
	action, ok := commandActions[strings.TrimSpace(command)]
	if !ok {
		return "", apperr.Wrap(apperr.ErrUserInput, "command %q is not schedulable", command)
	}
	return action, nil
}

// CommandFromAction is the reverse mapping, used when parsing native
// entries back into the task model.
func CommandFromAction(action string) (string, bool) {
	for command, a := range commandActions {
		if a == action {
			return command, true
		}
	}
	return "", false
}

// Validate checks the task's command and trigger fields.
func (t ScheduledTask) Validate() error {
	if _, err := ActionFor(t.Command); err != nil {
		return err
	}
	if len(t.Triggers) == 0 {
		return apperr.Wrap(apperr.ErrUserInput, "task needs at least one trigger")
	}
	for _, trigger := range t.Triggers {
		switch trigger.Type {
		case TriggerOnce, TriggerDaily, TriggerLogon:
		case TriggerWeekly:
			if len(trigger.Days) == 0 {
				return apperr.Wrap(apperr.ErrUserInput, "weekly trigger needs at least one day")
			}
			for _, day := range trigger.Days {
				if !validWeekday(day) {
					return apperr.Wrap(apperr.ErrUserInput, "unknown weekday %q", day)
				}
			}
		case TriggerMonthly:
			if len(trigger.DaysOfMonth) == 0 || len(trigger.Months) == 0 {
				return apperr.Wrap(apperr.ErrUserInput, "monthly trigger needs days and months")
			}
			for _, day := range trigger.DaysOfMonth {
				if day < 1 || day > 31 {
					return apperr.Wrap(apperr.ErrUserInput, "day of month %d out of range", day)
				}
			}
			for _, month := range trigger.Months {
				if !validMonth(month) {
					return apperr.Wrap(apperr.ErrUserInput, "unknown month %q", month)
				}
			}
		default:
			return apperr.Wrap(apperr.ErrUserInput, "unknown trigger type %q", trigger.Type)
		}
	}
	return nil
}

var weekdays = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

var months = []string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

func validWeekday(day string) bool {
	for _, d := range weekdays {
		if d == day {
			return true
		}
	}
	return false
}

func validMonth(month string) bool {
	for _, m := range months {
		if m == month {
			return true
		}
	}
	return false
}
