package server

import (
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessScanner locates a live server process for an instance by
// executable path and working directory.
type ProcessScanner interface {
	FindByInstance(inst Instance) (pid int32, found bool, err error)
}

type gopsScanner struct{}

func (gopsScanner) FindByInstance(inst Instance) (int32, bool, error) {
	procs, err := process.Processes()
	if err != nil {
		return 0, false, err
	}

	wantExe := inst.Executable()
	wantBase := filepath.Base(wantExe)
	wantDir := filepath.Clean(inst.InstallDir)

	for _, p := range procs {
		exe, err := p.Exe()
		if err == nil && samePath(exe, wantExe) {
			return p.Pid, true, nil
		}

		// Fall back to name + working directory for processes whose
		// exe link is unreadable.
		name, err := p.Name()
		if err != nil || !strings.EqualFold(name, wantBase) {
			continue
		}
		cwd, err := p.Cwd()
		if err != nil {
			continue
		}
		if samePath(filepath.Clean(cwd), wantDir) {
			return p.Pid, true, nil
		}
	}

	return 0, false, nil
}

func samePath(a, b string) bool {
	return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
}

// TerminateProcess force-kills a pid. Used as the Windows stop path and
// the Linux last resort.
func TerminateProcess(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
