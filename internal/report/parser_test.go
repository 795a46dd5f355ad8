package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const singleDevice = `
    Bluetooth:
      Connected:
        Magic Keyboard:
          Address: AA:BB:CC:DD:EE:FF
          Battery Level: 75%
          Minor Type: Keyboard
`

const multiDevice = `
    Bluetooth:
      Connected:
        Magic Keyboard:
          Address: 11:22:33:44:55:66
          Battery Level: 80%
        Magic Mouse:
          Address: AA:BB:CC:DD:EE:FF
          Battery Level: 65%
`

const airPods = `
    Bluetooth:
      Connected:
        AirPods Pro:
          Address: 11:22:33:44:55:66
          Left Battery Level: 90%
          Right Battery Level: 85%
          Case Battery Level: 70%
`

const duplicateAddress = `
    Bluetooth:
      Connected:
        AirPods Pro:
          Address: 11:22:33:44:55:66
          Battery Level: 80%
      Not Connected:
        AirPods Pro:
          Address: 11:22:33:44:55:66
          Battery Level: 20%
          Left Battery Level: 90%
          Minor Type: Headphones
`

// Newer tool versions indent by four columns per level.
const tenSpace = `
  Bluetooth:
      Connected:
          AirPods Pro:
              Address: 11:22:33:44:55:66
              Left Battery Level: 90%
              Right Battery Level: 85%
              Case Battery Level: 70%
`

const fullReport = `Bluetooth:

      Bluetooth Controller:
          Address: 00:11:22:33:44:55
          State: On
          Chipset: BCM_4387
          Firmware Version: 22.1.534.4054
          Transport: PCIe
      Connected:
          MX Master 3S:
              Address: D4:5E:6F:10:20:30
              Vendor ID: 0x046D
              Product ID: 0xB034
              Firmware Version: 0.0.9
              Minor Type: Mouse
              Services: 0x400000 < BLE >
          Bob's AirPods Pro:
              Address: 11:22:33:44:55:66
              Vendor ID: 0x004C
              Case Battery Level: 100%
              Left Battery Level: 64%
              Right Battery Level: 67%
              Minor Type: Headphones
              Services: 0x980019 < HFP AVRCP A2DP AACP GATT ACL >
      Not Connected:
          Magic Keyboard:
              Address: 3C:A6:F6:00:11:22
              Vendor ID: 0x004C
              Minor Type: Keyboard
          Old Speaker:
              Minor Type: Speaker
`

func TestParseSingleDevice(t *testing.T) {
	entries := Parse(singleDevice)
	require.Len(t, entries, 1)
	kb, ok := entries["aa-bb-cc-dd-ee-ff"]
	require.True(t, ok)
	assert.Equal(t, "Magic Keyboard", kb.Name)
	require.NotNil(t, kb.Main)
	assert.Equal(t, 75, *kb.Main)
	assert.Equal(t, "Keyboard", kb.MinorType)
	assert.Nil(t, kb.Components())
}

func TestParseMultipleDevices(t *testing.T) {
	entries := Parse(multiDevice)
	require.Len(t, entries, 2)
	assert.Equal(t, "Magic Keyboard", entries["11-22-33-44-55-66"].Name)
	assert.Equal(t, "Magic Mouse", entries["aa-bb-cc-dd-ee-ff"].Name)
	assert.Equal(t, 65, *entries["aa-bb-cc-dd-ee-ff"].Main)
}

func TestParseComponentBatteries(t *testing.T) {
	pods, ok := Parse(airPods)["11-22-33-44-55-66"]
	require.True(t, ok)
	assert.Nil(t, pods.Main)
	assert.Equal(t, 90, *pods.Left)
	assert.Equal(t, 85, *pods.Right)
	assert.Equal(t, 70, *pods.Case)

	level, ok := pods.Level()
	assert.True(t, ok)
	assert.Equal(t, 81, level)
	assert.Equal(t, "L:90% R:85% C:70%", pods.Components().String())
}

func TestParseDuplicateAddressMerges(t *testing.T) {
	entries := Parse(duplicateAddress)
	require.Len(t, entries, 1)
	e := entries["11-22-33-44-55-66"]
	assert.Equal(t, 80, *e.Main, "first seen scalar is kept")
	assert.Equal(t, 90, *e.Left, "missing field filled from second occurrence")
	assert.Equal(t, "Headphones", e.MinorType)
	assert.Nil(t, e.Right)
}

func TestParseTenSpaceIndentation(t *testing.T) {
	entries := Parse(tenSpace)
	require.Len(t, entries, 1)
	assert.Equal(t, "AirPods Pro", entries["11-22-33-44-55-66"].Name)
}

func TestParseFullReport(t *testing.T) {
	entries := Parse(fullReport)
	require.Len(t, entries, 3, "controller is not a device and entries without address are dropped")

	_, ok := entries["00-11-22-33-44-55"]
	assert.False(t, ok)

	mouse := entries["d4-5e-6f-10-20-30"]
	assert.Equal(t, "MX Master 3S", mouse.Name)
	assert.False(t, mouse.HasBattery())

	pods := entries["11-22-33-44-55-66"]
	assert.Equal(t, "Bob's AirPods Pro", pods.Name)
	assert.Equal(t, 100, *pods.Case)

	kb := entries["3c-a6-f6-00-11-22"]
	assert.Equal(t, "Magic Keyboard", kb.Name)
	assert.Equal(t, "Keyboard", kb.MinorType)
}

func TestParseEmptyAndNoDevices(t *testing.T) {
	assert.Empty(t, Parse(""))
	assert.Empty(t, Parse("Bluetooth:\n  Something else\n"))
}

func TestParseDeviceWithoutAddressSkipped(t *testing.T) {
	text := `
    Bluetooth:
      Connected:
        Magic Keyboard:
          Battery Level: 75%
`
	assert.Empty(t, Parse(text))
}

func TestParseAddressNormalized(t *testing.T) {
	text := `
    Bluetooth:
      Connected:
        Magic Mouse:
          Address: AB:CD:EF:01:23:45
          Battery Level: 50%
`
	entries := Parse(text)
	_, ok := entries["ab-cd-ef-01-23-45"]
	assert.True(t, ok)
	_, ok = entries["AB:CD:EF:01:23:45"]
	assert.False(t, ok)
}

func TestParseMalformedFields(t *testing.T) {
	text := `
    Bluetooth:
      Connected:
        Magic Mouse:
          Address: AB:CD:EF:01:23:45
          Battery Level: abc
          Left Battery Level: 150%
          Right Battery Level: -5%
          Case Battery Level:
        Broken Thing:
          Address: not-an-address
          Battery Level: 20%
`
	entries := Parse(text)
	require.Len(t, entries, 1)
	e := entries["ab-cd-ef-01-23-45"]
	assert.Nil(t, e.Main)
	assert.Equal(t, 100, *e.Left)
	assert.Equal(t, 0, *e.Right)
	assert.Nil(t, e.Case)
}

func TestParseIgnoresShortNoise(t *testing.T) {
	text := `
    Bluetooth:
      Connected:
        Magic Mouse:
          Address: AB:CD:EF:01:23:45
        ab:
          Battery Level: 30%
`
	entries := Parse(text)
	require.Len(t, entries, 1)
	e := entries["ab-cd-ef-01-23-45"]
	assert.Equal(t, "Magic Mouse", e.Name)
}

func TestParseIsIdempotent(t *testing.T) {
	for _, text := range []string{singleDevice, multiDevice, airPods, duplicateAddress, tenSpace, fullReport, ""} {
		assert.Equal(t, Parse(text), Parse(text))
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want *int
	}{
		{"75%", intp(75)},
		{"0%", intp(0)},
		{"100%", intp(100)},
		{"150%", intp(100)},
		{"-5%", intp(0)},
		{"abc", nil},
		{"", nil},
		{" 85 % ", intp(85)},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, parseLevel(tc.in), tc.in)
	}
}

func intp(i int) *int { return &i }
