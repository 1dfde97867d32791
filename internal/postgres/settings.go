// Package postgres persists per-account state: mail-relay credentials
// (encrypted at rest) and the delivery log history.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mhollstein/briefwerk/internal/crypto"
	"github.com/mhollstein/briefwerk/internal/domain"
)

// SettingsStore reads and writes per-account SMTP credentials. Every field
// is encrypted before it reaches the database and decrypted only when a
// connection attempt needs it.
type SettingsStore struct {
	pool *pgxpool.Pool
	enc  crypto.Encryptor
}

// NewSettingsStore creates a SettingsStore.
func NewSettingsStore(pool *pgxpool.Pool, enc crypto.Encryptor) *SettingsStore {
	return &SettingsStore{pool: pool, enc: enc}
}

// SaveSMTP upserts the credential set for an account.
func (s *SettingsStore) SaveSMTP(ctx context.Context, accountID uuid.UUID, creds domain.CredentialSet) error {
	fields := map[string]string{
		"host":     creds.Host,
		"username": creds.Username,
		"password": creds.Password,
		"port":     strconv.Itoa(creds.Port),
		"security": string(creds.Security),
	}
	encrypted := make(map[string][]byte, len(fields))
	for name, value := range fields {
		ct, err := s.enc.Encrypt([]byte(value))
		if err != nil {
			return domain.Internal(err, "settings.save", fmt.Sprintf("could not encrypt %s", name))
		}
		encrypted[name] = ct
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO smtp_settings (account_id, encrypted_host, encrypted_username, encrypted_password, encrypted_port, encrypted_security, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (account_id) DO UPDATE SET
			encrypted_host = EXCLUDED.encrypted_host,
			encrypted_username = EXCLUDED.encrypted_username,
			encrypted_password = EXCLUDED.encrypted_password,
			encrypted_port = EXCLUDED.encrypted_port,
			encrypted_security = EXCLUDED.encrypted_security,
			updated_at = now()`,
		accountID, encrypted["host"], encrypted["username"], encrypted["password"], encrypted["port"], encrypted["security"])
	if err != nil {
		return domain.Internal(err, "settings.save", "could not store mail settings")
	}
	return nil
}

// GetSMTP loads and decrypts the credential set for an account. Returns a
// not-found error when the account has no stored settings.
func (s *SettingsStore) GetSMTP(ctx context.Context, accountID uuid.UUID) (*domain.CredentialSet, error) {
	var host, username, password, port, security []byte
	err := s.pool.QueryRow(ctx, `
		SELECT encrypted_host, encrypted_username, encrypted_password, encrypted_port, encrypted_security
		FROM smtp_settings WHERE account_id = $1`, accountID).
		Scan(&host, &username, &password, &port, &security)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("settings.get", "mail settings", accountID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, "settings.get", "could not load mail settings")
	}

	decrypt := func(name string, ct []byte) (string, error) {
		pt, err := s.enc.Decrypt(ct)
		if err != nil {
			return "", domain.WrapError(err, domain.EINTERNAL, "settings.get",
				fmt.Sprintf("could not decrypt %s; the encryption key may have changed", name))
		}
		return string(pt), nil
	}

	creds := &domain.CredentialSet{}
	if creds.Host, err = decrypt("host", host); err != nil {
		return nil, err
	}
	if creds.Username, err = decrypt("username", username); err != nil {
		return nil, err
	}
	if creds.Password, err = decrypt("password", password); err != nil {
		return nil, err
	}
	portStr, err := decrypt("port", port)
	if err != nil {
		return nil, err
	}
	if creds.Port, err = strconv.Atoi(portStr); err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, "settings.get", "stored port is not a number")
	}
	securityStr, err := decrypt("security", security)
	if err != nil {
		return nil, err
	}
	creds.Security = domain.ParseSecurityMode(securityStr)
	return creds, nil
}

// RecordDeliveryLog appends a batch's log entries to the account's
// delivery history. History failures should not break the workflow, so the
// caller typically only logs the returned error.
func (s *SettingsStore) RecordDeliveryLog(ctx context.Context, accountID uuid.UUID, entries []domain.LogEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO delivery_log (account_id, status, message) VALUES ($1, $2, $3)`,
			accountID, string(e.Status), e.Message)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return domain.Internal(err, "settings.record_log", "could not record delivery log")
		}
	}
	return nil
}

// RecentDeliveryLog returns the most recent delivery log entries for an
// account, newest first.
func (s *SettingsStore) RecentDeliveryLog(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, message FROM delivery_log
		WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, domain.Internal(err, "settings.recent_log", "could not load delivery log")
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var status, message string
		if err := rows.Scan(&status, &message); err != nil {
			return nil, domain.Internal(err, "settings.recent_log", "could not scan delivery log")
		}
		entries = append(entries, domain.LogEntry{Status: domain.LogStatus(status), Message: message})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "settings.recent_log", "could not read delivery log")
	}
	return entries, nil
}
