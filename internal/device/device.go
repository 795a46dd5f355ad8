/*
bt-battery-monitor - Tracks battery levels of Bluetooth peripherals
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package device

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	maxNameLength = 100

	// DefaultName is used when no source can supply a name.
	DefaultName = "Bluetooth Device"
	// DefaultBLEName is used for GATT peripherals that never reported a name.
	DefaultBLEName = "BLE Device"
)

type Kind string

const (
	Keyboard Kind = "keyboard"
	Mouse    Kind = "mouse"
	Trackpad Kind = "trackpad"
	Audio    Kind = "audio"
	Unknown  Kind = "unknown"
)

// Components holds the sub-battery readings of multi-cell devices such as
// earbuds. A nil field was not reported.
type Components struct {
	Left  *int `json:"left,omitempty"`
	Right *int `json:"right,omitempty"`
	Case  *int `json:"case,omitempty"`
}

func (c *Components) Empty() bool {
	return c == nil || (c.Left == nil && c.Right == nil && c.Case == nil)
}

// Levels returns the present component levels in left, right, case order.
func (c *Components) Levels() []int {
	if c == nil {
		return nil
	}
	levels := []int{}
	for _, l := range []*int{c.Left, c.Right, c.Case} {
		if l != nil {
			levels = append(levels, *l)
		}
	}
	return levels
}

// String formats the components like "L:90% R:85% C:70%".
func (c *Components) String() string {
	if c.Empty() {
		return ""
	}
	parts := []string{}
	if c.Left != nil {
		parts = append(parts, fmt.Sprintf("L:%d%%", *c.Left))
	}
	if c.Right != nil {
		parts = append(parts, fmt.Sprintf("R:%d%%", *c.Right))
	}
	if c.Case != nil {
		parts = append(parts, fmt.Sprintf("C:%d%%", *c.Case))
	}
	return strings.Join(parts, " ")
}

func (c *Components) Equal(o *Components) bool {
	if c.Empty() || o.Empty() {
		return c.Empty() == o.Empty()
	}
	return intPtrEqual(c.Left, o.Left) && intPtrEqual(c.Right, o.Right) && intPtrEqual(c.Case, o.Case)
}

func (c *Components) clone() *Components {
	if c.Empty() {
		return nil
	}
	return &Components{Left: cloneInt(c.Left), Right: cloneInt(c.Right), Case: cloneInt(c.Case)}
}

// Record is the canonical, merged view of one physical peripheral.
type Record struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	BatteryLevel int         `json:"battery"`
	Kind         Kind        `json:"kind"`
	Components   *Components `json:"components,omitempty"`

	// Address is the normalized hardware address when the source knows it.
	// It is only used for matching and is not part of equality.
	Address string `json:"-"`
}

// Equal compares the fields that matter for change detection.
func (r Record) Equal(o Record) bool {
	return r.ID == o.ID &&
		r.Name == o.Name &&
		r.BatteryLevel == o.BatteryLevel &&
		r.Components.Equal(o.Components)
}

func (r Record) Clone() Record {
	r.Components = r.Components.clone()
	return r
}

// EqualLists reports whether two lists are element-wise Equal.
func EqualLists(a, b []Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func CloneList(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// ClampLevel limits a battery percentage to [0,100].
func ClampLevel(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Sanitize truncates a name to 100 characters and strips control characters,
// newlines included.
func Sanitize(name string) string {
	runes := []rune(name)
	if len(runes) > maxNameLength {
		runes = runes[:maxNameLength]
	}
	var b strings.Builder
	for _, r := range runes {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeAddress lowercases an address and uses '-' as the delimiter, so
// "AA:BB:CC:DD:EE:FF" and "aa-bb-cc-dd-ee-ff" compare equal.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	return strings.NewReplacer(":", "-", "_", "-").Replace(addr)
}

// IsAddress reports whether s looks like a normalized or raw MAC address.
func IsAddress(s string) bool {
	s = NormalizeAddress(s)
	parts := strings.Split(s, "-")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 || !isHex(p[0]) || !isHex(p[1]) {
			return false
		}
	}
	return true
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// DetectKind guesses the device kind from its display name.
func DetectKind(name string) Kind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "keyboard"):
		return Keyboard
	case strings.Contains(lower, "mouse"), strings.Contains(lower, "mx master"), strings.Contains(lower, "mx anywhere"):
		return Mouse
	case strings.Contains(lower, "trackpad"):
		return Trackpad
	case strings.Contains(lower, "airpods"), strings.Contains(lower, "headphone"),
		strings.Contains(lower, "headset"), strings.Contains(lower, "beats"), strings.Contains(lower, "buds"):
		return Audio
	}
	return Unknown
}

// KindFromHint maps a sub-type hint such as a "Minor Type" value onto a kind.
func KindFromHint(hint string) Kind {
	if k := DetectKind(hint); k != Unknown {
		return k
	}
	lower := strings.ToLower(hint)
	if strings.Contains(lower, "audio") || strings.Contains(lower, "speaker") {
		return Audio
	}
	return Unknown
}

// KindFromWakeReason turns a free-form wake reason or driver string into a
// coarse display name.
func KindFromWakeReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "keyboard"):
		return "Keyboard"
	case strings.Contains(lower, "mouse"):
		return "Mouse"
	case strings.Contains(lower, "trackpad"):
		return "Trackpad"
	}
	return DefaultName
}

func IntPtr(i int) *int {
	return &i
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
