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

package kernel

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TheCacophonyProject/bt-battery-monitor/internal/device"
)

const (
	powerSupplyDir = "class/power_supply"
	// HID_ID bus type for Bluetooth, see linux/input.h BUS_BLUETOOTH.
	busBluetooth = "0005"
)

// SysfsEnumerator lists the battery entries HID drivers register under
// /sys/class/power_supply as hid-<address>-battery.
type SysfsEnumerator struct {
	Root string
}

func (s SysfsEnumerator) Enumerate() ([]Entry, error) {
	root := s.Root
	if root == "" {
		root = "/sys"
	}
	dir := filepath.Join(root, powerSupplyDir)
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	entries := []Entry{}
	for _, de := range dirEntries {
		addr, ok := addressFromSupplyName(de.Name())
		if !ok {
			continue
		}
		entries = append(entries, readSupply(filepath.Join(dir, de.Name()), addr))
	}
	return entries, nil
}

// addressFromSupplyName extracts the address from names like
// "hid-aa:bb:cc:dd:ee:ff-battery".
func addressFromSupplyName(name string) (string, bool) {
	if !strings.HasPrefix(name, "hid-") || !strings.HasSuffix(name, "-battery") {
		return "", false
	}
	addr := strings.TrimSuffix(strings.TrimPrefix(name, "hid-"), "-battery")
	if !device.IsAddress(addr) {
		return "", false
	}
	return addr, true
}

func readSupply(path, addr string) Entry {
	e := Entry{
		Address:   addr,
		Product:   readAttr(path, "model_name"),
		Bluetooth: true,
	}
	if capacity := readAttr(path, "capacity"); capacity != "" {
		if p, err := strconv.Atoi(capacity); err == nil {
			e.Percent = &p
		}
	}

	uevent := readUevent(filepath.Join(path, "device", "uevent"))
	if hidID, ok := uevent["HID_ID"]; ok {
		e.Bluetooth = strings.HasPrefix(hidID, busBluetooth+":")
	}
	e.WakeReason = uevent["DRIVER"]
	if e.Product == "" {
		e.Product = uevent["HID_NAME"]
	}
	return e
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readUevent(path string) map[string]string {
	values := map[string]string{}
	f, err := os.Open(path)
	if err != nil {
		return values
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		k, v, ok := strings.Cut(scanner.Text(), "=")
		if ok {
			values[k] = v
		}
	}
	return values
}
