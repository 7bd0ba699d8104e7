package models

// DeviceType labels the kind of sensor hardware. It is fixed at pairing time
// and never changes for the lifetime of the device record.
type DeviceType string

const (
	DeviceCamera  DeviceType = "camera"
	DeviceContact DeviceType = "contact"
	DeviceShock   DeviceType = "shock"
)

// Valid reports whether t is one of the known device types.
func (t DeviceType) Valid() bool {
	switch t {
	case DeviceCamera, DeviceContact, DeviceShock:
		return true
	}
	return false
}

// Device is a paired sensor owned by an account. StreamURL is set for
// cameras only; IsOpen for contact and shock sensors only.
type Device struct {
	ID        string     `json:"deviceId"`
	Name      string     `json:"name"`
	Type      DeviceType `json:"type"`
	Battery   int        `json:"battery"`
	StreamURL string     `json:"streamUrl,omitempty"`
	IsOpen    *bool      `json:"isOpen,omitempty"`
}

// Open reports whether the device is in its triggered state. Cameras are
// never "open".
func (d *Device) Open() bool {
	return d.IsOpen != nil && *d.IsOpen
}
