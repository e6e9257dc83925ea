package models

import "time"

// Protocol is the transport used to reach a managed server.
type Protocol string

// Server protocols.
const (
	ProtocolSSH   Protocol = "ssh"
	ProtocolWinRM Protocol = "winrm"
	ProtocolAPI   Protocol = "api"
)

// IsValid checks if the protocol is a known value.
func (p Protocol) IsValid() bool {
	switch p {
	case ProtocolSSH, ProtocolWinRM, ProtocolAPI:
		return true
	default:
		return false
	}
}

// AuthType is how an executor driver authenticates against the server.
type AuthType string

// Authentication types.
const (
	AuthKey      AuthType = "key"
	AuthPassword AuthType = "password"
	AuthToken    AuthType = "token"
	AuthBasic    AuthType = "basic"
	AuthNone     AuthType = "none"
)

// IsValid checks if the auth type is a known value.
func (a AuthType) IsValid() bool {
	switch a {
	case AuthKey, AuthPassword, AuthToken, AuthBasic, AuthNone:
		return true
	default:
		return false
	}
}

// WinRMTransport selects the WinRM wire mode.
type WinRMTransport string

// WinRM transports.
const (
	WinRMPlaintext WinRMTransport = "plaintext"
	WinRMNTLM      WinRMTransport = "ntlm"
	WinRMSSL       WinRMTransport = "ssl"
)

// IsValid checks if the WinRM transport is a known value.
func (t WinRMTransport) IsValid() bool {
	switch t {
	case WinRMPlaintext, WinRMNTLM, WinRMSSL:
		return true
	default:
		return false
	}
}

// ServerOS is the platform of a managed server, matched against step
// target_os during orchestration.
type ServerOS string

// Server platforms.
const (
	OSLinux   ServerOS = "linux"
	OSWindows ServerOS = "windows"
)

// IsValid checks if the server OS is a known value.
func (o ServerOS) IsValid() bool {
	switch o {
	case OSLinux, OSWindows:
		return true
	default:
		return false
	}
}

// MatchesStep reports whether a step restricted to os may run on this
// platform.
func (o ServerOS) MatchesStep(os TargetOS) bool {
	switch os {
	case TargetAny, "":
		return true
	case TargetLinux:
		return o == OSLinux
	case TargetWindows:
		return o == OSWindows
	default:
		return false
	}
}

// ServerCredential describes a managed server and how to authenticate
// against it. Secret material (private key, password or token) lives in a
// single encrypted blob that is only decrypted inside executor drivers and
// is never returned over the API.
type ServerCredential struct {
	ID                string         `db:"id" json:"id"`
	Name              string         `db:"name" json:"name"`
	Protocol          Protocol       `db:"protocol" json:"protocol"`
	Hostname          string         `db:"hostname" json:"hostname"`
	Port              int            `db:"port" json:"port"`
	Username          string         `db:"username" json:"username"`
	OSType            ServerOS       `db:"os_type" json:"os_type"`
	AuthType          AuthType       `db:"auth_type" json:"auth_type"`
	SecretEncrypted   []byte         `db:"secret_material_encrypted" json:"-"`
	Tags              StringList     `db:"tags" json:"tags,omitempty"`
	Environment       string         `db:"environment" json:"environment,omitempty"`
	WinRMTransport    WinRMTransport `db:"winrm_transport" json:"winrm_transport,omitempty"`
	APIBaseURL        string         `db:"api_base_url" json:"api_base_url,omitempty"`
	APIAuthType       AuthType       `db:"api_auth_type" json:"api_auth_type,omitempty"`
	APIVerifySSL      bool           `db:"api_verify_ssl" json:"api_verify_ssl"`
	APITimeoutSeconds int            `db:"api_timeout_seconds" json:"api_timeout_seconds"`
	Enabled           bool           `db:"enabled" json:"enabled"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// DefaultPort returns the conventional port for the server protocol when
// Port is unset.
func (c *ServerCredential) DefaultPort() int {
	if c.Port > 0 {
		return c.Port
	}
	switch c.Protocol {
	case ProtocolSSH:
		return 22
	case ProtocolWinRM:
		if c.WinRMTransport == WinRMSSL {
			return 5986
		}
		return 5985
	default:
		return 0
	}
}
