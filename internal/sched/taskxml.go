package sched

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// taskTimeLayout is the StartBoundary format Task Scheduler expects.
const taskTimeLayout = "2006-01-02T15:04:05"

// taskDocument mirrors the subset of the Task Scheduler XML schema
// this bridge produces and consumes.
type taskDocument struct {
	XMLName          xml.Name         `xml:"Task"`
	Version          string           `xml:"version,attr"`
	Xmlns            string           `xml:"xmlns,attr"`
	RegistrationInfo registrationInfo `xml:"RegistrationInfo"`
	Triggers         taskTriggers     `xml:"Triggers"`
	Actions          taskActions      `xml:"Actions"`
}

type registrationInfo struct {
	Date        string `xml:"Date"`
	Description string `xml:"Description,omitempty"`
}

type taskTriggers struct {
	Time     []timeTrigger     `xml:"TimeTrigger"`
	Calendar []calendarTrigger `xml:"CalendarTrigger"`
	Logon    []logonTrigger    `xml:"LogonTrigger"`
}

type timeTrigger struct {
	StartBoundary string `xml:"StartBoundary"`
	Enabled       bool   `xml:"Enabled"`
}

type calendarTrigger struct {
	StartBoundary string           `xml:"StartBoundary"`
	Enabled       bool             `xml:"Enabled"`
	ByDay         *scheduleByDay   `xml:"ScheduleByDay,omitempty"`
	ByWeek        *scheduleByWeek  `xml:"ScheduleByWeek,omitempty"`
	ByMonth       *scheduleByMonth `xml:"ScheduleByMonth,omitempty"`
}

type logonTrigger struct {
	Enabled bool `xml:"Enabled"`
}

type scheduleByDay struct {
	DaysInterval int `xml:"DaysInterval"`
}

type scheduleByWeek struct {
	WeeksInterval int        `xml:"WeeksInterval"`
	DaysOfWeek    daysOfWeek `xml:"DaysOfWeek"`
}

type scheduleByMonth struct {
	DaysOfMonth daysOfMonth `xml:"DaysOfMonth"`
	Months      monthNames  `xml:"Months"`
}

type daysOfMonth struct {
	Day []int `xml:"Day"`
}

// daysOfWeek serializes each selected day as an empty element named
// after the day, the way Task Scheduler encodes it
// (<Saturday/><Sunday/>).
type daysOfWeek struct {
	Days []string
}

func (d daysOfWeek) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, day := range d.Days {
		element := xml.StartElement{Name: xml.Name{Local: day}}
		if err := e.EncodeToken(element); err != nil {
			return err
		}
		if err := e.EncodeToken(element.End()); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func (d *daysOfWeek) UnmarshalXML(decoder *xml.Decoder, start xml.StartElement) error {
	for {
		token, err := decoder.Token()
		if err != nil {
			return err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if !validWeekday(t.Name.Local) {
				return fmt.Errorf("unknown day element %q", t.Name.Local)
			}
			d.Days = append(d.Days, t.Name.Local)
			if err := decoder.Skip(); err != nil {
				return err
			}
		case xml.EndElement:
			if t.Name == start.Name {
				return nil
			}
		}
	}
}

// monthNames uses the same empty-element-per-month encoding.
type monthNames struct {
	Months []string
}

func (m monthNames) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, month := range m.Months {
		element := xml.StartElement{Name: xml.Name{Local: month}}
		if err := e.EncodeToken(element); err != nil {
			return err
		}
		if err := e.EncodeToken(element.End()); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func (m *monthNames) UnmarshalXML(decoder *xml.Decoder, start xml.StartElement) error {
	for {
		token, err := decoder.Token()
		if err != nil {
			return err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if !validMonth(t.Name.Local) {
				return fmt.Errorf("unknown month element %q", t.Name.Local)
			}
			m.Months = append(m.Months, t.Name.Local)
			if err := decoder.Skip(); err != nil {
				return err
			}
		case xml.EndElement:
			if t.Name == start.Name {
				return nil
			}
		}
	}
}

type taskActions struct {
	Exec execAction `xml:"Exec"`
}

type execAction struct {
	Command   string `xml:"Command"`
	Arguments string `xml:"Arguments"`
}

// renderTaskXML produces the task definition document for one
// validated task.
func renderTaskXML(instance, selfExe string, task ScheduledTask, created time.Time) ([]byte, error) {
	action, err := ActionFor(task.Command)
	if err != nil {
		return nil, err
	}

	doc := taskDocument{
		Version: "1.2",
		Xmlns:   "http://schemas.microsoft.com/windows/2004/02/mit/task",
		RegistrationInfo: registrationInfo{
			Date:        created.Format(taskTimeLayout),
			Description: fmt.Sprintf("Scheduled %s for server %s", task.Command, instance),
		},
		Actions: taskActions{
			Exec: execAction{
				Command:   selfExe,
				Arguments: fmt.Sprintf("%s --server %s", action, instance),
			},
		},
	}

	for _, trigger := range task.Triggers {
		start := trigger.Start.Format(taskTimeLayout)
		switch trigger.Type {
		case TriggerOnce:
			doc.Triggers.Time = append(doc.Triggers.Time, timeTrigger{StartBoundary: start, Enabled: true})
		case TriggerDaily:
			interval := trigger.Interval
			if interval < 1 {
				interval = 1
			}
			doc.Triggers.Calendar = append(doc.Triggers.Calendar, calendarTrigger{
				StartBoundary: start,
				Enabled:       true,
				ByDay:         &scheduleByDay{DaysInterval: interval},
			})
		case TriggerWeekly:
			interval := trigger.Interval
			if interval < 1 {
				interval = 1
			}
			doc.Triggers.Calendar = append(doc.Triggers.Calendar, calendarTrigger{
				StartBoundary: start,
				Enabled:       true,
				ByWeek: &scheduleByWeek{
					WeeksInterval: interval,
					DaysOfWeek:    daysOfWeek{Days: trigger.Days},
				},
			})
		case TriggerMonthly:
			doc.Triggers.Calendar = append(doc.Triggers.Calendar, calendarTrigger{
				StartBoundary: start,
				Enabled:       true,
				ByMonth: &scheduleByMonth{
					DaysOfMonth: daysOfMonth{Day: trigger.DaysOfMonth},
					Months:      monthNames{Months: trigger.Months},
				},
			})
		case TriggerLogon:
			doc.Triggers.Logon = append(doc.Triggers.Logon, logonTrigger{Enabled: true})
		}
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render task XML: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// parseTaskXML reads a task definition back into the trigger model.
func parseTaskXML(body []byte) (ScheduledTask, error) {
	var doc taskDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return ScheduledTask{}, apperr.Wrap(apperr.ErrConfigParse, "malformed task XML: %v", err)
	}

	var task ScheduledTask
	action := ""
	if fields := strings.Fields(doc.Actions.Exec.Arguments); len(fields) > 0 {
		action = fields[0]
	}
	if command, ok := CommandFromAction(action); ok {
		task.Command = command
	} else {
		return ScheduledTask{}, apperr.Wrap(apperr.ErrConfigParse, "task action %q is not recognized", action)
	}

	for _, t := range doc.Triggers.Time {
		start, _ := time.Parse(taskTimeLayout, t.StartBoundary)
		task.Triggers = append(task.Triggers, Trigger{Type: TriggerOnce, Start: start})
	}
	for _, t := range doc.Triggers.Calendar {
		start, _ := time.Parse(taskTimeLayout, t.StartBoundary)
		switch {
		case t.ByDay != nil:
			task.Triggers = append(task.Triggers, Trigger{Type: TriggerDaily, Start: start, Interval: t.ByDay.DaysInterval})
		case t.ByWeek != nil:
			task.Triggers = append(task.Triggers, Trigger{
				Type: TriggerWeekly, Start: start,
				Interval: t.ByWeek.WeeksInterval, Days: t.ByWeek.DaysOfWeek.Days,
			})
		case t.ByMonth != nil:
			task.Triggers = append(task.Triggers, Trigger{
				Type: TriggerMonthly, Start: start,
				DaysOfMonth: t.ByMonth.DaysOfMonth.Day, Months: t.ByMonth.Months.Months,
			})
		}
	}
	for range doc.Triggers.Logon {
		task.Triggers = append(task.Triggers, Trigger{Type: TriggerLogon})
	}

	return task, nil
}
