package blob

import (
	"os"
	"os/exec"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// unitStarter starts and cancels a systemd unit job. Abstracted behind an
// interface, the way sol.Manager takes an interface-typed Sender, so tests
// can substitute a fake instead of shelling out to systemctl. The real
// implementation stands in for the original's sdbusplus StartUnit/Cancel
// D-Bus calls (out of scope per the transport non-goals — no D-Bus client
// library is in the retrieval pack).
type unitStarter interface {
	StartUnit(unit, mode string) error
	CancelUnit(unit string) error
}

type systemctlStarter struct{}

func (systemctlStarter) StartUnit(unit, mode string) error {
	return exec.Command("systemctl", "start", "--job-mode="+mode, unit).Run()
}

func (systemctlStarter) CancelUnit(unit string) error {
	return exec.Command("systemctl", "stop", unit).Run()
}

// SystemdAction triggers a systemd unit and reports success once the start
// command completes without polling further job state (the original's
// JobRemoved signal match collapses here to the call's own exit status,
// since no D-Bus bus is available to watch for the job to finish
// asynchronously). Mirrors ipmi_flash::SystemdNoFile.
type SystemdAction struct {
	starter unitStarter
	unit    string
	mode    string

	mu      sync.Mutex
	running bool
	status  ActionStatus
}

func newSystemdAction(starter unitStarter, unit, mode string) *SystemdAction {
	if mode == "" {
		mode = "replace"
	}
	return &SystemdAction{starter: starter, unit: unit, mode: mode, status: ActionUnknown}
}

// NewSystemdAction builds a TriggerableAction that starts a systemd unit,
// for the blob json configuration's `systemd` action type.
func NewSystemdAction(unit, mode string) *SystemdAction {
	return newSystemdAction(systemctlStarter{}, unit, mode)
}

func (a *SystemdAction) Trigger() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		log.WithField("unit", a.unit).Warn("blob: systemd action already running")
		return false
	}
	if err := a.starter.StartUnit(a.unit, a.mode); err != nil {
		log.WithError(err).WithField("unit", a.unit).Warn("blob: failed to start systemd unit")
		a.status = ActionFailed
		return false
	}
	a.running = true
	// The start command has returned without error, so the unit's job is done.
	a.status = ActionSuccess
	return true
}

func (a *SystemdAction) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	if err := a.starter.CancelUnit(a.unit); err != nil {
		log.WithError(err).WithField("unit", a.unit).Warn("blob: failed to cancel systemd unit")
	}
	a.running = false
}

func (a *SystemdAction) Status() ActionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// SystemdWithStatusFile triggers a systemd unit the same way SystemdAction
// does, but reports status by reading a well-known file the unit is expected
// to write `running`, `success`, or `failed` into, instead of watching a
// D-Bus job signal. Mirrors ipmi_flash::SystemdWithStatusFile.
type SystemdWithStatusFile struct {
	*SystemdAction
	checkPath string
}

// NewSystemdWithStatusFile builds a TriggerableAction for the blob json
// configuration's `fileSystemdVerify`/`fileSystemdUpdate` action types.
func NewSystemdWithStatusFile(path, unit, mode string) *SystemdWithStatusFile {
	return &SystemdWithStatusFile{
		SystemdAction: newSystemdAction(systemctlStarter{}, unit, mode),
		checkPath:     path,
	}
}

func (a *SystemdWithStatusFile) Trigger() bool {
	if a.SystemdAction.Status() != ActionRunning {
		if err := os.WriteFile(a.checkPath, []byte("unknown"), 0644); err != nil {
			log.WithError(err).WithField("path", a.checkPath).Warn("blob: failed to reset status file")
			return false
		}
	}
	return a.SystemdAction.Trigger()
}

func (a *SystemdWithStatusFile) Status() ActionStatus {
	result := ActionFailed
	if a.SystemdAction.Status() == ActionRunning {
		result = ActionRunning
	}

	data, err := os.ReadFile(a.checkPath)
	if err != nil {
		return result
	}

	switch strings.TrimSpace(string(data)) {
	case "running":
		result = ActionRunning
	case "success":
		result = ActionSuccess
	case "failed":
		result = ActionFailed
	default:
		result = ActionUnknown
	}
	return result
}

// NewRebootAction builds a TriggerableAction for the blob json
// configuration's `reboot` action type: a systemd reboot.target start,
// mirroring buildjson.cpp's handling of updateType == "reboot".
func NewRebootAction() *SystemdAction {
	return NewSystemdAction("reboot.target", "replace-irreversibly")
}
