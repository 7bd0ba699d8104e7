// Package devices is the single place where device report payloads are
// validated. Both the pairing path (first report) and the telemetry path
// (partial updates) parse through here, so the per-type rules live in one
// spot instead of being duplicated per handler.
package devices

import (
	"encoding/json"
	"fmt"

	"github.com/dsmirnov/homesec/internal/common"
	"github.com/dsmirnov/homesec/internal/server/models"
)

// Report is a device state message. Fields are pointers so that a partial
// report can distinguish "absent" from zero values; absent fields are
// retained unchanged on merge. Type is only honoured on the initial report,
// the type of an existing device never changes.
type Report struct {
	Type      models.DeviceType `json:"type,omitempty"`
	Battery   *int              `json:"battery,omitempty"`
	StreamURL *string           `json:"streamUrl,omitempty"`
	IsOpen    *bool             `json:"isOpen,omitempty"`
}

func parse(raw []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: malformed report: %v", common.ErrValidation, err)
	}
	return &r, nil
}

func validBattery(b *int) bool {
	return b != nil && *b >= 0 && *b <= 100
}

// ParseInitial validates the first report of a device being paired. The full
// per-type schema is required: battery in [0,100], a stream URL for cameras,
// an open/triggered flag for contact and shock sensors. The returned device
// carries no id or name; the pairing slot supplies those.
func ParseInitial(raw []byte) (*models.Device, error) {
	r, err := parse(raw)
	if err != nil {
		return nil, err
	}
	if !r.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown device type %q", common.ErrValidation, r.Type)
	}
	if !validBattery(r.Battery) {
		return nil, fmt.Errorf("%w: battery missing or out of range", common.ErrValidation)
	}

	d := &models.Device{Type: r.Type, Battery: *r.Battery}
	switch r.Type {
	case models.DeviceCamera:
		if r.StreamURL == nil || *r.StreamURL == "" {
			return nil, fmt.Errorf("%w: camera report missing streamUrl", common.ErrValidation)
		}
		d.StreamURL = *r.StreamURL
	case models.DeviceContact, models.DeviceShock:
		if r.IsOpen == nil {
			return nil, fmt.Errorf("%w: %s report missing isOpen", common.ErrValidation, r.Type)
		}
		d.IsOpen = r.IsOpen
	}
	return d, nil
}

// ParsePartial validates an ongoing telemetry report. Any subset of fields
// may be present; present fields must still pass the schema. A type field,
// if present, is discarded rather than rejected so that simulators repeating
// their full state stay compatible.
func ParsePartial(raw []byte) (*Report, error) {
	r, err := parse(raw)
	if err != nil {
		return nil, err
	}
	if r.Battery != nil && !validBattery(r.Battery) {
		return nil, fmt.Errorf("%w: battery out of range", common.ErrValidation)
	}
	if r.StreamURL != nil && *r.StreamURL == "" {
		return nil, fmt.Errorf("%w: empty streamUrl", common.ErrValidation)
	}
	r.Type = ""
	return r, nil
}

// Apply merges a partial report into a device record: present fields
// overwrite, absent fields are retained.
func (r *Report) Apply(d *models.Device) {
	if r.Battery != nil {
		d.Battery = *r.Battery
	}
	if r.StreamURL != nil {
		d.StreamURL = *r.StreamURL
	}
	if r.IsOpen != nil {
		open := *r.IsOpen
		d.IsOpen = &open
	}
}
