package models

// ActionType identifies a kind of sensitive action gated by owner approval.
// The set is closed: unknown action strings are rejected at the API boundary
// instead of silently never matching during a permission scan.
type ActionType string

const (
	ActionLLMOrchestration ActionType = "llm_orchestration"
	ActionPayout           ActionType = "payout"
	ActionConfigChange     ActionType = "config_change"
	ActionDataExport       ActionType = "data_export"
	ActionDeviceEnroll     ActionType = "device_enroll"

	// Actions that must remain reachable while the emergency lock is active.
	ActionUnlockDevice      ActionType = "unlock_device"
	ActionEmergencyContact  ActionType = "emergency_contact"
	ActionViewLockStatus    ActionType = "view_lock_status"
	ActionOwnerVerification ActionType = "owner_verification"
)

var knownActions = map[ActionType]bool{
	ActionLLMOrchestration:  true,
	ActionPayout:            true,
	ActionConfigChange:      true,
	ActionDataExport:        true,
	ActionDeviceEnroll:      true,
	ActionUnlockDevice:      true,
	ActionEmergencyContact:  true,
	ActionViewLockStatus:    true,
	ActionOwnerVerification: true,
}

// IsValid returns true if the action type is one of the known kinds.
func (a ActionType) IsValid() bool {
	return knownActions[a]
}
