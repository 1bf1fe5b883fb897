// Package mac provides the 48-bit hardware address value type: parsing,
// canonical formatting and locally-administered random generation.
package mac

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"macshift/pkg/models"
)

// Length is the byte length of a MAC address.
const Length = 6

// Addr is a MAC address. The array type makes values comparable with == and
// usable as map keys; equality is by the 6-byte value, never the text form.
type Addr [Length]byte

// Parse accepts six 2-digit hex groups joined by ":" or "-". The delimiter
// must be consistent within one address; case is ignored.
func Parse(text string) (Addr, error) {
	var addr Addr

	sep := ":"
	if strings.Contains(text, "-") {
		if strings.Contains(text, ":") {
			return addr, models.NewFault(models.KindInvalidFormat, "",
				fmt.Errorf("mixed delimiters in %q", text))
		}
		sep = "-"
	}

	groups := strings.Split(text, sep)
	if len(groups) != Length {
		return addr, models.NewFault(models.KindInvalidFormat, "",
			fmt.Errorf("expected %d octets in %q, got %d", Length, text, len(groups)))
	}

	for i, group := range groups {
		if len(group) != 2 {
			return addr, models.NewFault(models.KindInvalidFormat, "",
				fmt.Errorf("octet %d of %q is not two hex digits", i, text))
		}
		raw, err := hex.DecodeString(group)
		if err != nil {
			return addr, models.NewFault(models.KindInvalidFormat, "",
				fmt.Errorf("octet %d of %q: %w", i, text, err))
		}
		addr[i] = raw[0]
	}

	return addr, nil
}

// FromBytes copies a 6-byte slice into an Addr.
func FromBytes(b []byte) (Addr, error) {
	var addr Addr
	if len(b) != Length {
		return addr, models.NewFault(models.KindInvalidFormat, "",
			fmt.Errorf("expected %d bytes, got %d", Length, len(b)))
	}
	copy(addr[:], b)
	return addr, nil
}

// Random draws 6 bytes from crypto/rand and forces the first octet to be
// locally administered (bit 1 set) and unicast (bit 0 clear), so generated
// addresses never collide with vendor-assigned or multicast space.
func Random() (Addr, error) {
	var addr Addr
	if _, err := rand.Read(addr[:]); err != nil {
		return addr, fmt.Errorf("failed to read random bytes: %w", err)
	}
	addr[0] = (addr[0] | 0x02) &^ 0x01
	return addr, nil
}

// String renders the canonical form: uppercase hex, colon-joined.
func (a Addr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		a[0], a[1], a[2], a[3], a[4], a[5])
}

// Dashed renders the Windows registry/netsh form: uppercase, dash-joined.
func (a Addr) Dashed() string {
	return strings.ReplaceAll(a.String(), ":", "-")
}

// Plain renders twelve uppercase hex digits with no delimiter.
func (a Addr) Plain() string {
	return strings.ReplaceAll(a.String(), ":", "")
}

// IsLocallyAdministered reports whether bit 1 of the first octet is set.
func (a Addr) IsLocallyAdministered() bool {
	return a[0]&0x02 != 0
}

// IsUnicast reports whether the multicast bit is clear.
func (a Addr) IsUnicast() bool {
	return a[0]&0x01 == 0
}

// Normalize re-renders any parsable MAC text in canonical form, returning
// the input unchanged when it does not parse.
func Normalize(text string) string {
	addr, err := Parse(text)
	if err != nil {
		return text
	}
	return addr.String()
}
