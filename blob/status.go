package blob

// ActionStatus is the state of a triggered action as last observed by a
// poll of its TriggerableAction. Mirrors ipmi_flash::ActionStatus.
type ActionStatus uint8

const (
	ActionRunning ActionStatus = iota
	ActionSuccess
	ActionFailed
	ActionUnknown
)

// TriggerableAction is one of the three actions an ActionPack can run:
// preparation, verification, or update. Mirrors
// ipmi_flash::TriggerableActionInterface, the original's small closed set of
// systemd/skip/reboot variants collapsed to a single Go interface rather than
// a class hierarchy.
type TriggerableAction interface {
	Trigger() bool
	Abort()
	Status() ActionStatus
}

// SkipAction always reports success without doing anything, for firmware
// kinds that don't need a given stage (e.g. an image with no separate
// verification step). Mirrors ipmi_flash::SkipAction.
type SkipAction struct{}

func (SkipAction) Trigger() bool        { return true }
func (SkipAction) Abort()               {}
func (SkipAction) Status() ActionStatus { return ActionSuccess }
