package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ServerStore persists managed server credentials. Secret material is
// sealed before it touches the database and only opened again for executor
// drivers via DecryptSecret.
type ServerStore struct {
	db      *sqlx.DB
	secrets *SecretBox
}

const insertServerQuery = `
INSERT INTO server_credentials (
	id, name, protocol, hostname, port, username, os_type, auth_type,
	secret_material_encrypted, tags, environment, winrm_transport,
	api_base_url, api_auth_type, api_verify_ssl, api_timeout_seconds,
	enabled, created_at, updated_at
) VALUES (
	:id, :name, :protocol, :hostname, :port, :username, :os_type, :auth_type,
	:secret_material_encrypted, :tags, :environment, :winrm_transport,
	:api_base_url, :api_auth_type, :api_verify_ssl, :api_timeout_seconds,
	:enabled, :created_at, :updated_at
)`

// Create inserts a server, sealing the given secret material.
func (s *ServerStore) Create(ctx context.Context, sc *models.ServerCredential, secret string) error {
	if sc.ID == "" {
		sc.ID = newID()
	}
	ts := now()
	sc.CreatedAt = ts
	sc.UpdatedAt = ts

	sealed, err := s.secrets.Seal([]byte(secret))
	if err != nil {
		return fmt.Errorf("failed to seal secret: %w", err)
	}
	sc.SecretEncrypted = sealed

	if _, err := s.db.NamedExecContext(ctx, insertServerQuery, sc); err != nil {
		return translate(err)
	}
	return nil
}

// Get returns one server by id.
func (s *ServerStore) Get(ctx context.Context, id string) (*models.ServerCredential, error) {
	var sc models.ServerCredential
	if err := s.db.GetContext(ctx, &sc, `SELECT * FROM server_credentials WHERE id = $1`, id); err != nil {
		return nil, translate(err)
	}
	return &sc, nil
}

// FindTarget resolves an alert-supplied target value against hostname
// first, then name, considering enabled servers only.
func (s *ServerStore) FindTarget(ctx context.Context, value string) (*models.ServerCredential, error) {
	var sc models.ServerCredential
	err := s.db.GetContext(ctx, &sc,
		`SELECT * FROM server_credentials WHERE hostname = $1 AND enabled LIMIT 1`, value)
	if err == nil {
		return &sc, nil
	}
	if translate(err) != ErrNotFound {
		return nil, translate(err)
	}
	err = s.db.GetContext(ctx, &sc,
		`SELECT * FROM server_credentials WHERE name = $1 AND enabled LIMIT 1`, value)
	if err != nil {
		return nil, translate(err)
	}
	return &sc, nil
}

// List returns all servers ordered by name.
func (s *ServerStore) List(ctx context.Context) ([]models.ServerCredential, error) {
	servers := []models.ServerCredential{}
	err := s.db.SelectContext(ctx, &servers, `SELECT * FROM server_credentials ORDER BY name ASC`)
	if err != nil {
		return nil, translate(err)
	}
	return servers, nil
}

const updateServerQuery = `
UPDATE server_credentials SET
	name = :name,
	protocol = :protocol,
	hostname = :hostname,
	port = :port,
	username = :username,
	os_type = :os_type,
	auth_type = :auth_type,
	secret_material_encrypted = :secret_material_encrypted,
	tags = :tags,
	environment = :environment,
	winrm_transport = :winrm_transport,
	api_base_url = :api_base_url,
	api_auth_type = :api_auth_type,
	api_verify_ssl = :api_verify_ssl,
	api_timeout_seconds = :api_timeout_seconds,
	enabled = :enabled,
	updated_at = :updated_at
WHERE id = :id`

// Update rewrites a server. An empty secret keeps the stored material; a
// non-empty one replaces it.
func (s *ServerStore) Update(ctx context.Context, sc *models.ServerCredential, secret string) error {
	sc.UpdatedAt = now()
	if secret != "" {
		sealed, err := s.secrets.Seal([]byte(secret))
		if err != nil {
			return fmt.Errorf("failed to seal secret: %w", err)
		}
		sc.SecretEncrypted = sealed
	} else {
		current, err := s.Get(ctx, sc.ID)
		if err != nil {
			return err
		}
		sc.SecretEncrypted = current.SecretEncrypted
	}

	res, err := s.db.NamedExecContext(ctx, updateServerQuery, sc)
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}

// Delete removes a server.
func (s *ServerStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM server_credentials WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}

// DecryptSecret opens the sealed credential material for an executor
// driver. Callers must not retain or log the returned bytes.
func (s *ServerStore) DecryptSecret(sc *models.ServerCredential) ([]byte, error) {
	return s.secrets.Open(sc.SecretEncrypted)
}
