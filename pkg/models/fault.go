package models

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can map it to behavior and exit codes
// without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidFormat
	KindInterfaceNotFound
	KindEnumerationError
	KindCommandNotFound
	KindPermissionDenied
	KindDeviceBusy
	KindVerificationFailed
	KindNoBackupAvailable
	KindPrivilegeRequired
	KindElevationDeclined
	KindElevationLoopDetected
	KindConfigMissing
	KindConfigInvalid
	KindTimeout
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindInvalidFormat:         "invalid-format",
	KindInterfaceNotFound:     "interface-not-found",
	KindEnumerationError:      "enumeration-error",
	KindCommandNotFound:       "command-not-found",
	KindPermissionDenied:      "permission-denied",
	KindDeviceBusy:            "device-busy",
	KindVerificationFailed:    "verification-failed",
	KindNoBackupAvailable:     "no-backup-available",
	KindPrivilegeRequired:     "privilege-required",
	KindElevationDeclined:     "elevation-declined",
	KindElevationLoopDetected: "elevation-loop-detected",
	KindConfigMissing:         "config-missing",
	KindConfigInvalid:         "config-invalid",
	KindTimeout:               "timeout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Exit codes consumed by launcher scripts. Kept stable across releases.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitPrivilegeRequired = 2
	ExitInterfaceNotFound = 3
	ExitInvalidFormat     = 4
)

// ExitCode maps an error to the process exit code contract.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindPrivilegeRequired:
		return ExitPrivilegeRequired
	case KindInterfaceNotFound:
		return ExitInterfaceNotFound
	case KindInvalidFormat:
		return ExitInvalidFormat
	default:
		return ExitFailure
	}
}

// Fault is a classified failure. Interface names the adapter involved when
// known; Observed carries the MAC actually read back after a failed
// verification.
type Fault struct {
	Kind      Kind
	Interface string
	Observed  string
	Detail    string
	Err       error
}

func (f *Fault) Error() string {
	msg := f.Kind.String()
	if f.Interface != "" {
		msg = fmt.Sprintf("%s: interface %q", msg, f.Interface)
	}
	if f.Observed != "" {
		msg = fmt.Sprintf("%s: observed MAC %s", msg, f.Observed)
	}
	if f.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, f.Detail)
	}
	if f.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, f.Err)
	}
	return msg
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Is lets errors.Is match faults by kind: errors.Is(err, &Fault{Kind: k}).
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return f.Kind == t.Kind
}

// NewFault builds a classified failure for an interface.
func NewFault(kind Kind, iface string, err error) *Fault {
	return &Fault{Kind: kind, Interface: iface, Err: err}
}

// KindOf extracts the classification from an error chain, KindUnknown when
// the chain holds no Fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain carries a Fault of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
