// Package capture describes the client device that captured a piece of
// evidence, for reviewers reading the audit trail.
package capture

import (
	"fmt"
	"strings"

	"github.com/mssola/useragent"
)

const unknownDevice = "Unknown Device"

// maxUserAgent bounds what is parsed; longer headers are truncated.
const maxUserAgent = 512

// Device is the parsed view of a capture client's user agent.
type Device struct {
	Browser string
	OS      string
	Mobile  bool
	Bot     bool
}

// Parse extracts browser and operating system from a user agent string.
func Parse(userAgent string) Device {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return Device{}
	}
	if len(userAgent) > maxUserAgent {
		userAgent = userAgent[:maxUserAgent]
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	os := ua.OS()
	if os == "" {
		os = ua.Platform()
	}
	return Device{
		Browser: strings.TrimSpace(browser),
		OS:      strings.TrimSpace(os),
		Mobile:  ua.Mobile(),
		Bot:     ua.Bot(),
	}
}

// String renders "<browser> on <os>" with placeholders for missing parts.
func (d Device) String() string {
	if d.Browser == "" && d.OS == "" {
		return unknownDevice
	}
	browser := d.Browser
	if browser == "" {
		browser = "Unknown Browser"
	}
	os := d.OS
	if os == "" {
		os = "Unknown OS"
	}
	label := fmt.Sprintf("%s on %s", browser, os)
	if d.Mobile {
		label += " (mobile)"
	}
	return label
}

// ParseUserAgent returns the display string stored with evidence.
func ParseUserAgent(userAgent string) string {
	return Parse(userAgent).String()
}
