package services

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/audit"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// ServerService manages server credentials. Secret material flows in
// through Create and Update only; it is sealed inside the store and never
// comes back out on any read.
type ServerService struct {
	store    *store.Store
	recorder *audit.Recorder
}

// NewServerService creates a server service. recorder may be nil.
func NewServerService(st *store.Store, recorder *audit.Recorder) *ServerService {
	if st == nil {
		panic("NewServerService: store must not be nil")
	}
	return &ServerService{store: st, recorder: recorder}
}

// List returns all servers.
func (s *ServerService) List(ctx context.Context) ([]models.ServerCredential, error) {
	return s.store.Servers.List(ctx)
}

// Get returns one server by id.
func (s *ServerService) Get(ctx context.Context, id string) (*models.ServerCredential, error) {
	return s.store.Servers.Get(ctx, id)
}

// Create validates and stores a new server with its secret material.
func (s *ServerService) Create(ctx context.Context, sc *models.ServerCredential, secret string, actor string) (*models.ServerCredential, error) {
	if err := validateServer(sc, secret, true); err != nil {
		return nil, err
	}
	if err := s.store.Servers.Create(ctx, sc, secret); err != nil {
		return nil, err
	}
	s.audit(actor, models.AuditResourceCreated, sc.ID, sc.Name)
	return sc, nil
}

// Update rewrites a server. An empty secret keeps the stored material.
func (s *ServerService) Update(ctx context.Context, sc *models.ServerCredential, secret string, actor string) (*models.ServerCredential, error) {
	if sc.ID == "" {
		return nil, NewValidationError("id", "id is required")
	}
	if err := validateServer(sc, secret, false); err != nil {
		return nil, err
	}
	if err := s.store.Servers.Update(ctx, sc, secret); err != nil {
		return nil, err
	}
	s.audit(actor, models.AuditResourceUpdated, sc.ID, sc.Name)
	return sc, nil
}

// Delete removes a server.
func (s *ServerService) Delete(ctx context.Context, id, actor string) error {
	sc, err := s.store.Servers.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Servers.Delete(ctx, id); err != nil {
		return err
	}
	s.audit(actor, models.AuditResourceDeleted, id, sc.Name)
	return nil
}

func (s *ServerService) audit(actor, action, id, name string) {
	if s.recorder == nil {
		return
	}
	// Secret material never reaches the audit log, only the name.
	s.recorder.EmitActor(actor, action, "server_credential", id, models.AnyMap{"name": name})
}

// validateServer checks the fields each driver depends on, so a broken
// credential fails at configuration time instead of mid-execution.
func validateServer(sc *models.ServerCredential, secret string, secretRequired bool) error {
	if sc.Name == "" {
		return NewValidationError("name", "name is required")
	}
	if !sc.Protocol.IsValid() {
		return NewValidationError("protocol", fmt.Sprintf("unknown protocol %q", sc.Protocol))
	}
	if sc.OSType != "" && !sc.OSType.IsValid() {
		return NewValidationError("os_type", fmt.Sprintf("unknown OS type %q", sc.OSType))
	}
	if sc.Port < 0 || sc.Port > 65535 {
		return NewValidationError("port", "port must be between 0 and 65535")
	}

	switch sc.Protocol {
	case models.ProtocolSSH:
		if sc.Hostname == "" {
			return NewValidationError("hostname", "hostname is required for ssh")
		}
		if sc.Username == "" {
			return NewValidationError("username", "username is required for ssh")
		}
		if sc.AuthType != models.AuthKey && sc.AuthType != models.AuthPassword {
			return NewValidationError("auth_type", fmt.Sprintf("auth type %q not supported over ssh", sc.AuthType))
		}
		if secretRequired && secret == "" {
			return NewValidationError("secret_material", "ssh servers need a private key or password")
		}
	case models.ProtocolWinRM:
		if sc.Hostname == "" {
			return NewValidationError("hostname", "hostname is required for winrm")
		}
		if sc.Username == "" {
			return NewValidationError("username", "username is required for winrm")
		}
		if sc.AuthType != models.AuthPassword {
			return NewValidationError("auth_type", fmt.Sprintf("auth type %q not supported over winrm", sc.AuthType))
		}
		if sc.WinRMTransport != "" && !sc.WinRMTransport.IsValid() {
			return NewValidationError("winrm_transport", fmt.Sprintf("unknown transport %q", sc.WinRMTransport))
		}
		if secretRequired && secret == "" {
			return NewValidationError("secret_material", "winrm servers need an account password")
		}
	case models.ProtocolAPI:
		if sc.APIBaseURL == "" && sc.Hostname == "" {
			return NewValidationError("api_base_url", "api servers need a base URL or hostname")
		}
		authType := sc.APIAuthType
		if authType == "" {
			authType = sc.AuthType
		}
		if authType != "" && !authType.IsValid() {
			return NewValidationError("api_auth_type", fmt.Sprintf("unknown auth type %q", authType))
		}
		if secretRequired && secret == "" && authType != models.AuthNone && authType != "" {
			return NewValidationError("secret_material", fmt.Sprintf("auth type %q needs secret material", authType))
		}
	}
	return nil
}
