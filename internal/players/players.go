// Package players extracts player sightings from server console logs.
package players

import (
	"bufio"
	"log"
	"os"
	"regexp"
	"time"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
	"github.com/bedrockmgr/bedrock-server-manager/internal/server"
)

// connectedPattern matches the Bedrock server's join line:
//	[2026-03-01 12:00:00 INFO] Player connected: Steve, xuid: 2535412345678901
var connectedPattern = regexp.MustCompile(`Player connected: (.+?), xuid: (\d+)`)

// Store receives player sightings; satisfied by store.Store.
type Store interface {
	UpsertPlayer(xuid, name, instance string, seen time.Time) error
}

// Scanner reads an instance's console log and records every player
// that connected.
type Scanner struct {
	store Store
	now   func() time.Time
}

// NewScanner creates a player scanner.
func NewScanner(store Store) *Scanner {
	return &Scanner{store: store, now: time.Now}
}

// Scan parses the instance's console log and upserts each connected
// player. It returns the number of distinct players seen. A missing
// log file means the server has not produced output yet.
func (s *Scanner) Scan(inst server.Instance) (int, error) {
	file, err := os.Open(inst.OutputLog())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, apperr.Wrap(apperr.ErrFileNotFound, "no console log for %s", inst.Name)
		}
		return 0, apperr.Wrap(apperr.ErrFileOperation, "failed to open console log for %s: %v", inst.Name, err)
	}
	defer file.Close()

	seen := make(map[string]string)
	reader := bufio.NewScanner(file)
	reader.Buffer(make([]byte, 64*1024), 1024*1024)
	for reader.Scan() {
		matches := connectedPattern.FindStringSubmatch(reader.Text())
		if matches == nil {
			continue
		}
		// Last sighting wins when a name changed between joins.
		seen[matches[2]] = matches[1]
	}
	if err := reader.Err(); err != nil {
		return 0, apperr.Wrap(apperr.ErrFileOperation, "failed to read console log for %s: %v", inst.Name, err)
	}

	now := s.now()
	count := 0
	for xuid, name := range seen {
		if err := s.store.UpsertPlayer(xuid, name, inst.Name, now); err != nil {
			log.Printf("[Players] Failed to record %s (%s): %v", name, xuid, err)
			continue
		}
		count++
	}

	return count, nil
}
