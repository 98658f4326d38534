package server

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
)

type fakeRunner struct {
	listOutput string
	listErr    error
	calls      [][]string
	runErr     error
}

func (f *fakeRunner) Run(name string, args ...string) (string, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	if len(args) > 0 && args[0] == "-ls" {
		return f.listOutput, f.listErr
	}
	return "", f.runErr
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

type fakeScanner struct {
	pid   int32
	found bool
	err   error
}

func (f *fakeScanner) FindByInstance(inst Instance) (int32, bool, error) {
	return f.pid, f.found, f.err
}

const screenListWithSession = `There is a screen on:
	12345.bedrock-Survival	(01/16/2026 12:00:00 PM)	(Detached)
1 Socket in /run/screen/S-mc.
`

func TestScreenSendStuffsCommand(t *testing.T) {
	runner := &fakeRunner{listOutput: screenListWithSession}
	channel := NewScreenChannel(runner, &fakeScanner{})
	inst := Instance{Name: "Survival"}

	if err := channel.Send(inst, "say hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	var stuff []string
	for _, call := range runner.calls {
		if len(call) > 1 && call[1] == "-S" {
			stuff = call
		}
	}
	if stuff == nil {
		t.Fatalf("no stuff call recorded: %v", runner.calls)
	}
	want := []string{"screen", "-S", "bedrock-Survival", "-X", "stuff", "say hello\n"}
	if fmt.Sprint(stuff) != fmt.Sprint(want) {
		t.Fatalf("got %v, want %v", stuff, want)
	}
}

func TestScreenSendEscapesShellMeta(t *testing.T) {
	runner := &fakeRunner{listOutput: screenListWithSession}
	channel := NewScreenChannel(runner, &fakeScanner{})
	inst := Instance{Name: "Survival"}

	if err := channel.Send(inst, `say cost is $5 \o/`); err != nil {
		t.Fatalf("send: %v", err)
	}

	last := runner.calls[len(runner.calls)-1]
	got := last[len(last)-1]
	if !strings.Contains(got, `\$5`) || !strings.Contains(got, `\\o`) {
		t.Fatalf("command not escaped: %q", got)
	}
}

func TestScreenSendNoSession(t *testing.T) {
	runner := &fakeRunner{
		listOutput: "No Sockets found in /run/screen/S-mc.\n",
		listErr:    errors.New("exit status 1"),
	}
	channel := NewScreenChannel(runner, &fakeScanner{})
	inst := Instance{Name: "Survival"}

	err := channel.Send(inst, "list")
	if !errors.Is(err, apperr.ErrChannelNotFound) {
		t.Fatalf("expected channel-not-found, got %v", err)
	}
}

func TestScreenProbePrefersProcessScan(t *testing.T) {
	runner := &fakeRunner{listOutput: "No Sockets found in /run/screen/S-mc.\n", listErr: errors.New("exit status 1")}
	channel := NewScreenChannel(runner, &fakeScanner{pid: 777, found: true})
	inst := Instance{Name: "Survival"}

	probe, err := channel.Probe(inst)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !probe.Running || probe.PID != 777 {
		t.Fatalf("unexpected probe: %+v", probe)
	}
}

func TestScreenProbeSessionWithoutPid(t *testing.T) {
	runner := &fakeRunner{listOutput: screenListWithSession}
	channel := NewScreenChannel(runner, &fakeScanner{})
	inst := Instance{Name: "Survival"}

	probe, err := channel.Probe(inst)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !probe.Running || probe.PID != 0 {
		t.Fatalf("expected running without pid, got %+v", probe)
	}
}

func TestScreenProbeNotRunning(t *testing.T) {
	runner := &fakeRunner{
		listOutput: "There is a screen on:\n\t999.bedrock-Creative\t(Detached)\n",
	}
	channel := NewScreenChannel(runner, &fakeScanner{})
	inst := Instance{Name: "Survival"}

	probe, err := channel.Probe(inst)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if probe.Running {
		t.Fatalf("expected NotRunning for a foreign session, got %+v", probe)
	}
}

func TestScreenProbeLogsScanFailure(t *testing.T) {
	runner := &fakeRunner{
		listOutput: "No Sockets found in /run/screen/S-mc.\n",
		listErr:    errors.New("exit status 1"),
	}
	channel := NewScreenChannel(runner, &fakeScanner{err: errors.New("proc read denied")})
	inst := Instance{Name: "Survival"}

	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	probe, err := channel.Probe(inst)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if probe.Running {
		t.Fatalf("expected NotRunning, got %+v", probe)
	}
	if !strings.Contains(buf.String(), "proc read denied") {
		t.Fatalf("scan failure not logged: %q", buf.String())
	}
}
