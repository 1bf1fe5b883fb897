package models

import (
	"time"
)

// NetworkInterface represents a network adapter as enumerated from the OS.
// Discovered fresh on each query; the OS is the source of truth.
type NetworkInterface struct {
	Name     string `json:"name"`
	MAC      string `json:"mac"`
	Wireless bool   `json:"wireless"`
}

// ChangeLogEntry records one MAC change attempt. Append-only; owned by the
// scheduler.
type ChangeLogEntry struct {
	Timestamp time.Time `json:"when"`
	Interface string    `json:"interface"`
	Previous  string    `json:"previous"`
	New       string    `json:"new"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
}
