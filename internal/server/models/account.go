// Package models holds the persistent record types shared by storage and the
// service layer.
package models

// PairingSlot reserves a device id and user-chosen name while the physical
// device has not yet sent its first report. At most one slot exists per
// account at any time.
type PairingSlot struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
}

// Account is the aggregate record for one registered user. SessionID and
// ConnectionID are empty when there is no active session or live realtime
// connection. Mutations go through conditional writes keyed on the fields
// they supersede; see the storage package.
type Account struct {
	Username     string
	PasswordHash []byte
	PasswordSalt []byte
	SessionID    string
	ConnectionID string
	IsArmed      bool
	AlertChat    string
	Pending      *PairingSlot
}

// UserInfo is the client-facing projection returned by get-info.
type UserInfo struct {
	Username string   `json:"username"`
	IsArmed  bool     `json:"isArmed"`
	Devices  []Device `json:"devices"`
}
