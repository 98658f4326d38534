package server

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// ScreenChannel multiplexes commands through a persistently-named GNU
// screen session per instance.
type ScreenChannel struct {
	runner  Runner
	scanner ProcessScanner
}

// NewScreenChannel creates the Linux command channel.
func NewScreenChannel(runner Runner, scanner ProcessScanner) *ScreenChannel {
	return &ScreenChannel{runner: runner, scanner: scanner}
}

// Send injects the literal text followed by a newline into the
// instance's screen session.
func (c *ScreenChannel) Send(inst Instance, text string) error {
	exists, err := c.sessionExists(inst)
	if err != nil {
		return apperr.Wrap(apperr.ErrChannelWrite, "failed to check session for %s: %v", inst.Name, err)
	}
	if !exists {
		return apperr.Wrap(apperr.ErrChannelNotFound, "no screen session %s", inst.SessionName())
	}

	// screen -X stuff delivers to the session's stdin; the trailing
	// newline executes the command.
	stuffed := escapeScreenCommand(text) + "\n"
	output, err := c.runner.Run("screen", "-S", inst.SessionName(), "-X", "stuff", stuffed)
	if err != nil {
		return apperr.Wrap(apperr.ErrChannelWrite, "failed to send to session %s: %v (output: %s)", inst.SessionName(), err, strings.TrimSpace(output))
	}

	return nil
}

// Probe checks for the named session and falls back to a process scan
// under the instance's executable path.
func (c *ScreenChannel) Probe(inst Instance) (ProbeResult, error) {
	pid, found, err := c.scanner.FindByInstance(inst)
	if err == nil && found {
		return ProbeResult{Running: true, PID: pid}, nil
	}

	exists, serr := c.sessionExists(inst)
	if serr != nil {
		if err != nil {
			return ProbeResult{}, fmt.Errorf("probe failed for %s: %w", inst.Name, serr)
		}
		return ProbeResult{}, serr
	}
	if exists {
		// Session alive but server pid not visible yet; report running
		// without a pid rather than flapping to NotRunning.
		return ProbeResult{Running: true}, nil
	}

	if err != nil {
		// No session either, so NotRunning stands, but a broken scan
		// should not read exactly like a stopped server.
		log.Printf("[Channel] Process scan failed for %s: %v", inst.Name, err)
	}
	return ProbeResult{}, nil
}

// screen -list output:
//	12345.bedrock-Survival	(01/16/2026 12:00:00 PM)	(Detached)
var screenListPattern = regexp.MustCompile(`^\s*(\d+)\.(\S+)\s+\(`)

func (c *ScreenChannel) sessionExists(inst Instance) (bool, error) {
	output, err := c.runner.Run("screen", "-ls")
	if err != nil {
		// screen -ls exits 1 when no sessions exist
		if strings.Contains(output, "No Sockets found") {
			return false, nil
		}
		if !strings.Contains(err.Error(), "exit status 1") {
			return false, err
		}
	}

	for _, line := range strings.Split(output, "\n") {
		matches := screenListPattern.FindStringSubmatch(line)
		if len(matches) >= 3 && matches[2] == inst.SessionName() {
			return true, nil
		}
	}

	return false, nil
}

// escapeScreenCommand escapes the command for screen's stuff argument.
func escapeScreenCommand(command string) string {
	escaped := strings.ReplaceAll(command, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "$", "\\$")
	return escaped
}
