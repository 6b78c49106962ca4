package models

import "time"

// BoxState is the provisioning state of the user's box.
type BoxState string

const (
	BoxUnchecked   BoxState = "unchecked"
	BoxChecking    BoxState = "checking"
	BoxProvisioned BoxState = "provisioned"
	BoxAbsent      BoxState = "absent"
)

// Box is the provisioned storage root for the current app.
type Box struct {
	State BoxState `json:"state"`
	URL   string   `json:"url,omitempty"`
}

// StatusEntry is one timestamped line of the box install log.
type StatusEntry struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}
