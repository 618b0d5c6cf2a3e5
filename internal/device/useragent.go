package device

import (
	"strings"

	"github.com/mssola/useragent"
)

// FallbackDeviceName derives a human-readable device name from a User-Agent
// string for registrations that omit deviceName. Returns "Unknown Device"
// when nothing useful can be parsed.
func FallbackDeviceName(uaString string) string {
	if uaString == "" {
		return "Unknown Device"
	}

	ua := useragent.New(uaString)
	name, _ := ua.Browser()
	os := ua.OS()

	switch {
	case name != "" && os != "":
		return name + " on " + os
	case name != "":
		return name
	case os != "":
		return "Device on " + os
	}

	// Fall back to the raw product token ("ClinicApp/2.1" -> "ClinicApp").
	if product, _, ok := strings.Cut(uaString, "/"); ok && product != "" {
		return strings.TrimSpace(product)
	}
	return "Unknown Device"
}
