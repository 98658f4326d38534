package server

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

type pipeBuffer struct {
	bytes.Buffer
}

func (p *pipeBuffer) Close() error { return nil }

func TestPipeSendAppendsNewline(t *testing.T) {
	buf := &pipeBuffer{}
	channel := NewPipeChannel(&fakeScanner{})
	channel.openPipe = func(path string) (io.WriteCloser, error) {
		if path != `\\.\pipe\BedrockServerSurvival` {
			t.Fatalf("unexpected pipe path %q", path)
		}
		return buf, nil
	}

	if err := channel.Send(Instance{Name: "Survival"}, "say hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := buf.String(); got != "say hello\n" {
		t.Fatalf("wrote %q", got)
	}
}

func TestPipeSendMissingPipe(t *testing.T) {
	channel := NewPipeChannel(&fakeScanner{})
	channel.openPipe = func(path string) (io.WriteCloser, error) {
		return nil, os.ErrNotExist
	}

	err := channel.Send(Instance{Name: "Survival"}, "list")
	if !errors.Is(err, apperr.ErrChannelNotFound) {
		t.Fatalf("expected channel-not-found, got %v", err)
	}
}

func TestPipeProbeUsesProcessScan(t *testing.T) {
	channel := NewPipeChannel(&fakeScanner{pid: 55, found: true})

	probe, err := channel.Probe(Instance{Name: "Survival"})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !probe.Running || probe.PID != 55 {
		t.Fatalf("unexpected probe: %+v", probe)
	}
}
