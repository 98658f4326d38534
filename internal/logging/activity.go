package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActivityLogger records every lifecycle, scheduling and backup action
// taken against an instance.
type ActivityLogger struct {
	db *sql.DB
	mu sync.Mutex
}

// Activity represents one logged action
type Activity struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	Instance     string                 `json:"instance"`
	Action       string                 `json:"action"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// Action constants
const (
	ActionServerCreate   = "server.create"
	ActionServerDelete   = "server.delete"
	ActionServerStart    = "server.start"
	ActionServerStop     = "server.stop"
	ActionServerRestart  = "server.restart"
	ActionCommandSend    = "command.send"
	ActionBackupCreate   = "backup.create"
	ActionBackupRestore  = "backup.restore"
	ActionBackupPrune    = "backup.prune"
	ActionScheduleChange = "schedule.change"
	ActionServiceChange  = "service.change"
	ActionUpdate         = "server.update"
	ActionPlayerScan     = "players.scan"
)

// NewActivityLogger creates a new activity logger
func NewActivityLogger(db *sql.DB) *ActivityLogger {
	return &ActivityLogger{db: db}
}

// Record writes one activity row. Failures are logged, never propagated;
// an audit miss must not fail the action it describes.
func (al *ActivityLogger) Record(activity *Activity) {
	if al == nil || al.db == nil {
		return
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now()
	}

	metadataJSON, err := json.Marshal(activity.Metadata)
	if err != nil {
		log.Printf("[ActivityLogger] Error marshaling metadata: %v", err)
		metadataJSON = []byte("{}")
	}

	_, err = al.db.Exec(`
		INSERT INTO activity_log (id, timestamp, instance, action, description, metadata, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		activity.ID,
		activity.Timestamp,
		activity.Instance,
		activity.Action,
		activity.Description,
		string(metadataJSON),
		activity.Success,
		activity.ErrorMessage,
	)
	if err != nil {
		log.Printf("[ActivityLogger] Error inserting activity: %v", err)
	}
}

// RecordAction is a convenience wrapper for the common success/error case.
func (al *ActivityLogger) RecordAction(instance, action, description string, err error) {
	activity := &Activity{
		Instance:    instance,
		Action:      action,
		Description: description,
		Success:     err == nil,
	}
	if err != nil {
		activity.ErrorMessage = err.Error()
	}
	al.Record(activity)
}

// Recent retrieves the most recent activities, optionally filtered by
// instance.
func (al *ActivityLogger) Recent(instance string, limit int) ([]*Activity, error) {
	if al == nil || al.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT id, timestamp, instance, action, description, metadata, success, error_message
		FROM activity_log
		WHERE 1=1
	`
	args := make([]interface{}, 0)

	if instance != "" {
		query += " AND instance = ?"
		args = append(args, instance)
	}

	query += " ORDER BY timestamp DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*Activity, 0)

	for rows.Next() {
		activity := &Activity{}
		var metadataJSON sql.NullString

		err := rows.Scan(
			&activity.ID,
			&activity.Timestamp,
			&activity.Instance,
			&activity.Action,
			&activity.Description,
			&metadataJSON,
			&activity.Success,
			&activity.ErrorMessage,
		)
		if err != nil {
			log.Printf("[ActivityLogger] Error scanning row: %v", err)
			continue
		}

		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &activity.Metadata); err != nil {
				log.Printf("[ActivityLogger] Error unmarshaling metadata: %v", err)
			}
		}

		activities = append(activities, activity)
	}

	return activities, rows.Err()
}

// Cleanup removes activities older than the given duration.
func (al *ActivityLogger) Cleanup(olderThan time.Duration) error {
	if al == nil || al.db == nil {
		return fmt.Errorf("database not available")
	}

	cutoff := time.Now().Add(-olderThan)
	result, err := al.db.Exec(`DELETE FROM activity_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old activities: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	log.Printf("[ActivityLogger] Cleaned up %d activities older than %v", rowsAffected, olderThan)

	return nil
}
