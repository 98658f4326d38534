package server

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// LinuxLauncher starts an instance through its registered systemd user
// unit when one exists, and falls back to creating the screen session
// directly.
type LinuxLauncher struct {
	Runner  Runner
	Service ServiceStarter
}

// Launch starts the platform process for the instance.
func (l *LinuxLauncher) Launch(inst Instance) error {
	if _, err := os.Stat(inst.Executable()); err != nil {
		return apperr.Wrap(apperr.ErrFileNotFound, "server executable %s", inst.Executable())
	}
	if _, err := l.Runner.LookPath("screen"); err != nil {
		return apperr.Wrap(apperr.ErrCommandNotFound, "screen is not installed")
	}

	if l.Service != nil {
		started, err := l.Service.StartUnit(inst.Name)
		if err != nil {
			return fmt.Errorf("failed to start unit for %s: %w", inst.Name, err)
		}
		if started {
			return nil
		}
	}

	// No registered unit; create the screen session directly. Output
	// is teed into the instance's console log.
	launch := fmt.Sprintf("cd %q && LD_LIBRARY_PATH=. ./bedrock_server 2>&1 | tee -a %q", inst.InstallDir, inst.OutputLog())
	output, err := l.Runner.Run("screen", "-dmS", inst.SessionName(), "/bin/bash", "-c", launch)
	if err != nil {
		return fmt.Errorf("failed to create screen session %s: %w (output: %s)", inst.SessionName(), err, strings.TrimSpace(output))
	}

	return nil
}

// WindowsLauncher starts the server as a direct child process.
type WindowsLauncher struct{}

// Launch starts bedrock_server.exe detached in its install directory.
func (l *WindowsLauncher) Launch(inst Instance) error {
	exe := inst.Executable()
	if _, err := os.Stat(exe); err != nil {
		return apperr.Wrap(apperr.ErrFileNotFound, "server executable %s", exe)
	}

	logFile, err := os.OpenFile(inst.OutputLog(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return apperr.Wrap(apperr.ErrFileOperation, "failed to open console log for %s: %v", inst.Name, err)
	}

	cmd := exec.Command(exe)
	cmd.Dir = inst.InstallDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start %s: %w", exe, err)
	}

	// The child outlives the manager; release our handle and let the
	// probe find it again by executable path.
	go func() {
		_ = cmd.Wait()
		logFile.Close()
	}()

	return nil
}
