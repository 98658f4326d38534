package sched

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// Runner executes host commands; satisfied by server.ExecRunner.
type Runner interface {
	Run(name string, args ...string) (string, error)
	LookPath(name string) (string, error)
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronJob is one parsed crontab entry owned by this application.
type CronJob struct {
	Minute   string
	Hour     string
	Day      string
	Month    string
	Weekday  string
	Command  string // the full invocation after the five time fields
	Action   string // simplified label, e.g. "backup-all"
	Schedule string // human-readable summary of the time fields
	NextRun  time.Time
	Raw      string
}

// CronBridge edits the invoking user's crontab. Jobs are identified by
// their exact line text; two textually identical lines cannot be told
// apart, and modify/remove act on the first match only.
type CronBridge struct {
	runner  Runner
	selfExe string
	tmpDir  string
	now     func() time.Time
}

// NewCronBridge creates the Linux scheduler backend. selfExe is the
// absolute invocation path embedded in generated lines.
func NewCronBridge(runner Runner, selfExe string) *CronBridge {
	return &CronBridge{runner: runner, selfExe: selfExe, tmpDir: os.TempDir(), now: time.Now}
}

// BuildLine renders one crontab line for an allowlisted command. Only
// the trigger shapes cron can express are accepted; weekly and monthly
// recurrences native to the Windows scheduler are rejected here.
func (b *CronBridge) BuildLine(instance string, task ScheduledTask) (string, error) {
	action, err := ActionFor(task.Command)
	if err != nil {
		return "", err
	}
	if len(task.Triggers) != 1 {
		return "", apperr.Wrap(apperr.ErrUserInput, "a crontab line carries exactly one trigger, got %d", len(task.Triggers))
	}

	trigger := task.Triggers[0]
	if trigger.Type != TriggerDaily {
		return "", apperr.Wrap(apperr.ErrUserInput, "trigger type %s has no cron equivalent", trigger.Type)
	}

	return fmt.Sprintf("%d %d * * * %s %s --server %s",
		trigger.Start.Minute(), trigger.Start.Hour(), b.selfExe, action, instance), nil
}

// Add validates the line and appends it to the crontab.
func (b *CronBridge) Add(line string) error {
	line = strings.TrimSpace(line)
	if err := validateCronLine(line); err != nil {
		return err
	}

	current, err := b.readCrontab()
	if err != nil {
		return err
	}

	return b.writeCrontab(append(current, line))
}

// Modify replaces the first line exactly matching oldLine with
// newLine. An absent oldLine is an error and the crontab is left
// untouched.
func (b *CronBridge) Modify(oldLine, newLine string) error {
	newLine = strings.TrimSpace(newLine)
	if err := validateCronLine(newLine); err != nil {
		return err
	}

	current, err := b.readCrontab()
	if err != nil {
		return err
	}

	index := indexOfLine(current, oldLine)
	if index < 0 {
		return apperr.Wrap(apperr.ErrUserInput, "cron job not found: %s", strings.TrimSpace(oldLine))
	}

	current[index] = newLine
	return b.writeCrontab(current)
}

// Remove deletes the first line exactly matching the given text. An
// absent line is an error and the crontab is left untouched.
func (b *CronBridge) Remove(line string) error {
	current, err := b.readCrontab()
	if err != nil {
		return err
	}

	index := indexOfLine(current, line)
	if index < 0 {
		return apperr.Wrap(apperr.ErrUserInput, "cron job not found: %s", strings.TrimSpace(line))
	}

	return b.writeCrontab(append(current[:index], current[index+1:]...))
}

// List returns the crontab entries that invoke this application for
// the given instance.
func (b *CronBridge) List(instance string) ([]CronJob, error) {
	current, err := b.readCrontab()
	if err != nil {
		return nil, err
	}

	marker := " --server " + instance
	var jobs []CronJob
	for _, line := range current {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if !strings.Contains(trimmed, marker) && !strings.HasSuffix(trimmed, "--server "+instance) {
			continue
		}
		job, err := b.parseLine(trimmed)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (b *CronBridge) parseLine(line string) (CronJob, error) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return CronJob{}, apperr.Wrap(apperr.ErrConfigParse, "malformed cron line: %s", line)
	}

	expr := strings.Join(fields[:5], " ")
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return CronJob{}, apperr.Wrap(apperr.ErrConfigParse, "invalid cron expression %q: %v", expr, err)
	}

	job := CronJob{
		Minute:   fields[0],
		Hour:     fields[1],
		Day:      fields[2],
		Month:    fields[3],
		Weekday:  fields[4],
		Command:  strings.Join(fields[5:], " "),
		Schedule: describeCron(fields[0], fields[1], fields[2], fields[3], fields[4]),
		NextRun:  schedule.Next(b.now()),
		Raw:      line,
	}

	// The action is the first token after the invocation path.
	if len(fields) >= 7 {
		job.Action = fields[6]
	}

	return job, nil
}

func (b *CronBridge) readCrontab() ([]string, error) {
	output, err := b.runner.Run("crontab", "-l")
	if err != nil {
		// crontab -l exits 1 when the user has no crontab yet.
		if strings.Contains(output, "no crontab") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read crontab: %w (output: %s)", err, strings.TrimSpace(output))
	}

	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (b *CronBridge) writeCrontab(lines []string) error {
	file, err := os.CreateTemp(b.tmpDir, "crontab-*.txt")
	if err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to stage crontab: %v", err)
	}
	path := file.Name()
	defer os.Remove(path)

	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		return apperr.Wrap(apperr.ErrFileOperation, "failed to stage crontab: %v", err)
	}
	if err := file.Close(); err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to stage crontab: %v", err)
	}

	if output, err := b.runner.Run("crontab", path); err != nil {
		return fmt.Errorf("failed to install crontab: %w (output: %s)", err, strings.TrimSpace(output))
	}
	return nil
}

func validateCronLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return apperr.Wrap(apperr.ErrUserInput, "cron line needs five time fields and a command: %q", line)
	}
	expr := strings.Join(fields[:5], " ")
	if _, err := cronParser.Parse(expr); err != nil {
		return apperr.Wrap(apperr.ErrUserInput, "invalid cron expression %q: %v", expr, err)
	}
	return nil
}

func indexOfLine(lines []string, target string) int {
	target = strings.TrimSpace(target)
	for i, line := range lines {
		if strings.TrimSpace(line) == target {
			return i
		}
	}
	return -1
}

// describeCron builds a short human-readable schedule summary.
func describeCron(minute, hour, day, month, weekday string) string {
	at := "every minute"
	if minute != "*" && hour != "*" {
		m, merr := strconv.Atoi(minute)
		h, herr := strconv.Atoi(hour)
		if merr == nil && herr == nil {
			at = fmt.Sprintf("at %02d:%02d", h, m)
		} else {
			at = fmt.Sprintf("at %s:%s", hour, minute)
		}
	} else if minute != "*" {
		at = fmt.Sprintf("at minute %s", minute)
	}

	switch {
	case day == "*" && month == "*" && weekday == "*":
		return fmt.Sprintf("daily %s", at)
	case weekday != "*":
		return fmt.Sprintf("on weekday %s %s", weekday, at)
	case day != "*" && month == "*":
		return fmt.Sprintf("on day %s of every month %s", day, at)
	default:
		return fmt.Sprintf("on day %s of month %s %s", day, month, at)
	}
}
