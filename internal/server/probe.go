package server

import (
	"strings"

	"github.com/appforge-labs/xcpilot/internal/simstate"
)

// parseDeviceState scans `simctl list devices` text output for the
// given UDID and returns its state. Lines look like:
//
//	iPhone 16 (AAAA-1111-BBBB) (Booted)
//
// Unknown or absent devices come back as StateUnknown.
func parseDeviceState(output, udid string) simstate.State {
	needle := "(" + udid + ")"
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, needle) {
			continue
		}
		open := strings.LastIndex(line, "(")
		end := strings.LastIndex(line, ")")
		if open < 0 || end <= open {
			return simstate.StateUnknown
		}
		return simstate.ParseState(line[open+1 : end])
	}
	return simstate.StateUnknown
}
