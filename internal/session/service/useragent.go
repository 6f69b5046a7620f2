package service

import (
	"strings"

	ua "github.com/mileusna/useragent"

	"tenant-auth-policy/internal/session/domain"
)

const unknownClass = "Unknown"

// ClassifyUserAgent derives the device type (tablet, mobile, desktop), browser family, and OS family
// from a user-agent string. Empty or unrecognized values classify as an unknown desktop.
func ClassifyUserAgent(userAgent string) domain.DeviceClass {
	class := domain.DeviceClass{Type: domain.DeviceTypeDesktop, Browser: unknownClass, Platform: unknownClass}
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return class
	}
	parsed := ua.Parse(userAgent)
	if name := strings.TrimSpace(parsed.Name); name != "" {
		class.Browser = name
	}
	if os := strings.TrimSpace(parsed.OS); os != "" {
		class.Platform = os
	}
	switch {
	case parsed.Tablet:
		class.Type = domain.DeviceTypeTablet
	case parsed.Mobile:
		class.Type = domain.DeviceTypeMobile
	}
	return class
}
