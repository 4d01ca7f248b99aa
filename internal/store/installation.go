// Package store implements the Installation Store (§4.2): a persistent map
// (plugin, channel) → Installation with encrypted tokens at rest.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/stratecode/triage-sub002/internal/bus"
	cryptopkg "github.com/stratecode/triage-sub002/internal/crypto"
	"github.com/stratecode/triage-sub002/internal/errors"
)

// row mirrors the installations table; tokens are ciphertext columns.
type row struct {
	ID           int64          `db:"id"`
	PluginName   string         `db:"plugin_name"`
	ChannelID    string         `db:"channel_id"`
	AccessToken  string         `db:"access_token"`
	RefreshToken sql.NullString `db:"refresh_token"`
	Metadata     []byte         `db:"metadata"`
	InstalledAt  time.Time      `db:"installed_at"`
	LastActive   time.Time      `db:"last_active"`
	IsActive     bool           `db:"is_active"`
}

// Store is a PostgreSQL-backed Installation Store.
type Store struct {
	db     *sqlx.DB
	cipher *cryptopkg.Cipher
}

// New wraps db with cipher for encrypt-before-persist / decrypt-on-return.
func New(db *sqlx.DB, cipher *cryptopkg.Cipher) *Store {
	return &Store{db: db, cipher: cipher}
}

func (s *Store) encrypt(subject, plaintext string) (string, error) {
	ciphertext, err := s.cipher.Encrypt(subject, plaintext)
	if err != nil {
		return "", errors.DatabaseError("encrypt", err)
	}
	return ciphertext, nil
}

func (s *Store) decrypt(subject, ciphertext string) (string, error) {
	plaintext, err := s.cipher.Decrypt(subject, ciphertext)
	if err != nil {
		return "", errors.DecryptionError()
	}
	return plaintext, nil
}

func (s *Store) toInstallation(r row) (*bus.Installation, error) {
	subject := cryptopkg.Subject(r.PluginName, r.ChannelID)

	accessToken, err := s.decrypt(subject, r.AccessToken)
	if err != nil {
		return nil, err
	}
	var refreshToken string
	if r.RefreshToken.Valid {
		refreshToken, err = s.decrypt(subject, r.RefreshToken.String)
		if err != nil {
			return nil, err
		}
	}

	metadata := make(map[string]interface{})
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &metadata); err != nil {
			return nil, errors.DatabaseError("unmarshal metadata", err)
		}
	}

	return &bus.Installation{
		ID:           r.ID,
		PluginName:   r.PluginName,
		ChannelID:    r.ChannelID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Metadata:     metadata,
		InstalledAt:  r.InstalledAt,
		LastActive:   r.LastActive,
		IsActive:     r.IsActive,
	}, nil
}

// Create persists a new installation, encrypting tokens before the write
// and returning the plaintext-hydrated value so callers never see
// ciphertext (§4.2). Fails with AlreadyExists if (plugin, channel) is taken.
func (s *Store) Create(ctx context.Context, inst bus.Installation) (*bus.Installation, error) {
	subject := cryptopkg.Subject(inst.PluginName, inst.ChannelID)

	accessCipher, err := s.encrypt(subject, inst.AccessToken)
	if err != nil {
		return nil, err
	}
	var refreshCipher sql.NullString
	if inst.RefreshToken != "" {
		rc, err := s.encrypt(subject, inst.RefreshToken)
		if err != nil {
			return nil, err
		}
		refreshCipher = sql.NullString{String: rc, Valid: true}
	}

	metadataJSON, err := json.Marshal(inst.Metadata)
	if err != nil {
		return nil, errors.DatabaseError("marshal metadata", err)
	}

	now := time.Now().UTC()
	var id int64
	query := `
		INSERT INTO installations (plugin_name, channel_id, access_token, refresh_token, metadata, installed_at, last_active, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true)
		RETURNING id`
	err = s.db.QueryRowxContext(ctx, query,
		inst.PluginName, inst.ChannelID, accessCipher, refreshCipher, metadataJSON, now, now,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.AlreadyExists("installation", subject)
		}
		return nil, errors.DatabaseError("create installation", err)
	}

	inst.ID = id
	inst.InstalledAt = now
	inst.LastActive = now
	inst.IsActive = true
	return &inst, nil
}

// Get returns the active-or-inactive installation for (plugin, channel), or
// nil if absent.
func (s *Store) Get(ctx context.Context, pluginName, channelID string) (*bus.Installation, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `
		SELECT id, plugin_name, channel_id, access_token, refresh_token, metadata, installed_at, last_active, is_active
		FROM installations WHERE plugin_name = $1 AND channel_id = $2`,
		pluginName, channelID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.DatabaseError("get installation", err)
	}
	return s.toInstallation(r)
}

// GetByID returns the installation with the given surrogate id, or nil.
func (s *Store) GetByID(ctx context.Context, id int64) (*bus.Installation, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `
		SELECT id, plugin_name, channel_id, access_token, refresh_token, metadata, installed_at, last_active, is_active
		FROM installations WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.DatabaseError("get installation by id", err)
	}
	return s.toInstallation(r)
}

// UpdateFields is a partial update: nil fields are preserved.
type UpdateFields struct {
	AccessToken  *string
	RefreshToken *string
	Metadata     map[string]interface{}
	IsActive     *bool
}

// Update partially updates the installation identified by (plugin, channel).
// Missing fields are preserved; last_active is always stamped.
func (s *Store) Update(ctx context.Context, pluginName, channelID string, fields UpdateFields) (*bus.Installation, error) {
	existing, err := s.Get(ctx, pluginName, channelID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	subject := cryptopkg.Subject(pluginName, channelID)

	accessToken := existing.AccessToken
	if fields.AccessToken != nil {
		accessToken = *fields.AccessToken
	}
	accessCipher, err := s.encrypt(subject, accessToken)
	if err != nil {
		return nil, err
	}

	refreshToken := existing.RefreshToken
	if fields.RefreshToken != nil {
		refreshToken = *fields.RefreshToken
	}
	var refreshCipher sql.NullString
	if refreshToken != "" {
		rc, err := s.encrypt(subject, refreshToken)
		if err != nil {
			return nil, err
		}
		refreshCipher = sql.NullString{String: rc, Valid: true}
	}

	metadata := existing.Metadata
	if fields.Metadata != nil {
		metadata = fields.Metadata
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, errors.DatabaseError("marshal metadata", err)
	}

	isActive := existing.IsActive
	if fields.IsActive != nil {
		isActive = *fields.IsActive
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE installations
		SET access_token = $1, refresh_token = $2, metadata = $3, is_active = $4, last_active = $5
		WHERE plugin_name = $6 AND channel_id = $7`,
		accessCipher, refreshCipher, metadataJSON, isActive, now, pluginName, channelID)
	if err != nil {
		return nil, errors.DatabaseError("update installation", err)
	}

	return s.Get(ctx, pluginName, channelID)
}

// Delete hard-deletes the installation, leaving no token behind.
func (s *Store) Delete(ctx context.Context, pluginName, channelID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM installations WHERE plugin_name = $1 AND channel_id = $2`,
		pluginName, channelID)
	if err != nil {
		return false, errors.DatabaseError("delete installation", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.DatabaseError("delete installation rows affected", err)
	}
	return n > 0, nil
}

// ListForPlugin lists installations for pluginName, optionally filtered to active only.
func (s *Store) ListForPlugin(ctx context.Context, pluginName string, activeOnly bool) ([]*bus.Installation, error) {
	query := `SELECT id, plugin_name, channel_id, access_token, refresh_token, metadata, installed_at, last_active, is_active
		FROM installations WHERE plugin_name = $1`
	args := []interface{}{pluginName}
	if activeOnly {
		query += ` AND is_active = true`
	}
	return s.list(ctx, query, args...)
}

// ListAll lists every installation, optionally filtered to active only.
func (s *Store) ListAll(ctx context.Context, activeOnly bool) ([]*bus.Installation, error) {
	query := `SELECT id, plugin_name, channel_id, access_token, refresh_token, metadata, installed_at, last_active, is_active
		FROM installations`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	return s.list(ctx, query)
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*bus.Installation, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.DatabaseError("list installations", err)
	}

	out := make([]*bus.Installation, 0, len(rows))
	for _, r := range rows {
		inst, err := s.toInstallation(r)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// isUniqueViolation detects a Postgres unique-constraint violation
// (SQLSTATE 23505) without importing lib/pq's error type into callers that
// only need the store's own error vocabulary.
func isUniqueViolation(err error) bool {
	type sqlStater interface{ SQLState() string }
	if pqErr, ok := err.(sqlStater); ok {
		return pqErr.SQLState() == "23505"
	}
	return false
}
