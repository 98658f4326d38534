package server

import (
	"io"
	"os"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

// PipeChannel talks to a server through the named pipe its Windows
// start wrapper exposes. The pipe name is derived deterministically
// from the instance name; the manager is always the client end.
type PipeChannel struct {
	scanner  ProcessScanner
	openPipe func(path string) (io.WriteCloser, error)
}

// NewPipeChannel creates the Windows command channel.
func NewPipeChannel(scanner ProcessScanner) *PipeChannel {
	return &PipeChannel{
		scanner: scanner,
		openPipe: func(path string) (io.WriteCloser, error) {
			return os.OpenFile(path, os.O_WRONLY, 0)
		},
	}
}

// Send writes the UTF-8 command plus a newline to the instance's pipe.
func (c *PipeChannel) Send(inst Instance, text string) error {
	pipe, err := c.openPipe(inst.PipeName())
	if err != nil {
		if os.IsNotExist(err) {
			return apperr.Wrap(apperr.ErrChannelNotFound, "no pipe %s", inst.PipeName())
		}
		return apperr.Wrap(apperr.ErrChannelWrite, "failed to open pipe %s: %v", inst.PipeName(), err)
	}
	defer pipe.Close()

	if _, err := pipe.Write([]byte(text + "\n")); err != nil {
		return apperr.Wrap(apperr.ErrChannelWrite, "failed to write to pipe %s: %v", inst.PipeName(), err)
	}

	return nil
}

// Probe scans the OS process list for a live server under the
// instance's executable path and working directory. Pipe existence
// alone is not trusted; a wrapper can outlive the server process.
func (c *PipeChannel) Probe(inst Instance) (ProbeResult, error) {
	pid, found, err := c.scanner.FindByInstance(inst)
	if err != nil {
		return ProbeResult{}, err
	}
	if !found {
		return ProbeResult{}, nil
	}
	return ProbeResult{Running: true, PID: pid}, nil
}
