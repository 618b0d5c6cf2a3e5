package device

import (
	"time"

	"github.com/google/uuid"
)

// Status is the device lifecycle state. Transitions go ACTIVE -> REVOKED,
// never back.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusRevoked Status = "REVOKED"
)

// Platform enumerates the desktop platforms the clinic client runs on.
type Platform string

const (
	PlatformWindows Platform = "WINDOWS"
	PlatformMacOS   Platform = "MACOS"
	PlatformLinux   Platform = "LINUX"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformWindows, PlatformMacOS, PlatformLinux:
		return true
	}
	return false
}

// Metadata describes the hardware and software of a registered device.
// HardwareHash is the fingerprint used for duplicate-registration detection.
type Metadata struct {
	Platform      Platform `json:"platform"`
	OSVersion     string   `json:"osVersion"`
	AppVersion    string   `json:"appVersion"`
	HardwareHash  string   `json:"hardwareHash"`
	CPUArch       string   `json:"cpuArch"`
	TotalMemoryMB int64    `json:"totalMemoryMb"`
}

// Device is one registered sync client. At most one ACTIVE device may exist
// per (tenant, organization, hardware hash).
type Device struct {
	DeviceID       uuid.UUID  `json:"deviceId"`
	DeviceName     string     `json:"deviceName"`
	TenantID       string     `json:"tenantId"`
	OrganizationID string     `json:"organizationId"`
	ClinicID       string     `json:"clinicId,omitempty"`
	UserID         string     `json:"userId"`
	Metadata       Metadata   `json:"metadata"`
	Status         Status     `json:"status"`
	AccessToken    string     `json:"-"`
	LastSeenAt     time.Time  `json:"lastSeenAt"`
	RegisteredAt   time.Time  `json:"registeredAt"`
	RevokedAt      *time.Time `json:"revokedAt,omitempty"`
	// Online is a transient liveness annotation filled from the liveness
	// cache on reads; it is never persisted.
	Online bool `json:"online,omitempty"`
}

// RegisterRequest is the inbound registration payload. UserAgent comes from
// the HTTP header, not the body, and only feeds the display-name fallback.
type RegisterRequest struct {
	DeviceName     string   `json:"deviceName"`
	TenantID       string   `json:"tenantId"`
	OrganizationID string   `json:"organizationId"`
	ClinicID       string   `json:"clinicId,omitempty"`
	UserID         string   `json:"userId"`
	Metadata       Metadata `json:"metadata"`
	UserAgent      string   `json:"-"`
}

// RegisterResult is returned to a freshly registered device.
type RegisterResult struct {
	DeviceID          uuid.UUID `json:"deviceId"`
	DeviceAccessToken string    `json:"deviceAccessToken"`
	ExpiresIn         int64     `json:"expiresIn"`
	RegisteredAt      time.Time `json:"registeredAt"`
}
