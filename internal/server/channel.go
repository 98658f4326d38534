// Package server owns the lifecycle of Bedrock server processes: the
// platform command channels, the process launcher and the supervisor
// state machine.
package server

import (
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// Instance identifies one server installation on this host.
type Instance struct {
	Name       string
	InstallDir string
}

// SessionName returns the screen session name used on Linux.
func (i Instance) SessionName() string {
	return "bedrock-" + i.Name
}

// PipeName returns the named pipe path used on Windows. The server
// wrapper creates the pipe; the manager only connects as a client.
func (i Instance) PipeName() string {
	return `\\.\pipe\BedrockServer` + i.Name
}

// Executable returns the server binary path for this platform.
func (i Instance) Executable() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(i.InstallDir, "bedrock_server.exe")
	}
	return filepath.Join(i.InstallDir, "bedrock_server")
}

// OutputLog returns the console log file the server output is teed to.
func (i Instance) OutputLog() string {
	return filepath.Join(i.InstallDir, "server_output.txt")
}

// ProbeResult reports whether the instance's process is alive.
type ProbeResult struct {
	Running bool
	PID     int32
}

// Channel delivers text into a running server's standard input and
// detects whether the server process is alive. Implementations wrap
// one OS facility (screen session, named pipe) and never interpret
// the commands they carry.
type Channel interface {
	Send(inst Instance, text string) error
	Probe(inst Instance) (ProbeResult, error)
}

// Launcher starts the platform process for an instance.
type Launcher interface {
	Launch(inst Instance) error
}

// Runner executes a host command and returns its combined output.
type Runner interface {
	Run(name string, args ...string) (string, error)
	LookPath(name string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	return string(out), err
}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// NewPlatformChannel returns the command channel for the current OS.
func NewPlatformChannel() (Channel, error) {
	switch runtime.GOOS {
	case "linux":
		return NewScreenChannel(ExecRunner{}, gopsScanner{}), nil
	case "windows":
		return NewPipeChannel(gopsScanner{}), nil
	default:
		return nil, apperr.Wrap(apperr.ErrUnsupportedPlatform, "no command channel mechanism on %s", runtime.GOOS)
	}
}

// NewPlatformLauncher returns the process launcher for the current OS.
func NewPlatformLauncher(serviceStarter ServiceStarter) (Launcher, error) {
	switch runtime.GOOS {
	case "linux":
		return &LinuxLauncher{Runner: ExecRunner{}, Service: serviceStarter}, nil
	case "windows":
		return &WindowsLauncher{}, nil
	default:
		return nil, apperr.Wrap(apperr.ErrUnsupportedPlatform, "no process launcher on %s", runtime.GOOS)
	}
}

// ServiceStarter starts an instance through its registered service
// unit, when one exists. The Linux launcher prefers it over a direct
// screen launch.
type ServiceStarter interface {
	StartUnit(instance string) (bool, error)
}

func firstWord(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}
