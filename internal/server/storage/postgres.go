package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dsmirnov/homesec/internal/common"
	"github.com/dsmirnov/homesec/internal/dbx"
	"github.com/dsmirnov/homesec/internal/server/devices"
	"github.com/dsmirnov/homesec/internal/server/migrations"
	"github.com/dsmirnov/homesec/internal/server/models"
)

// PostgresStore implements Store on PostgreSQL via the pgx stdlib driver.
// Conditional semantics are expressed directly in the WHERE clause of each
// statement, so every check-and-write is a single atomic round trip.
type PostgresStore struct {
	db          *sql.DB
	accounts    *postgresAccounts
	devices     *postgresDevices
	connections *postgresConnections
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	s := &PostgresStore{
		db:          db,
		accounts:    &postgresAccounts{db: db},
		devices:     &postgresDevices{db: db},
		connections: &postgresConnections{db: db},
	}

	if err := s.runMigrations(context.Background()); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	return goose.UpContext(ctx, s.db, ".")
}

func (s *PostgresStore) Accounts() Accounts       { return s.accounts }
func (s *PostgresStore) Devices() Devices         { return s.devices }
func (s *PostgresStore) Connections() Connections { return s.connections }
func (s *PostgresStore) Close() error             { return s.db.Close() }

// affected maps a statement result onto the conditional-write convention:
// zero rows touched means the condition did not hold.
func affected(res sql.Result, condErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return condErr
	}
	return nil
}

type postgresAccounts struct {
	db *sql.DB
}

func (r *postgresAccounts) Create(ctx context.Context, account *models.Account) error {
	query :=
		`INSERT INTO accounts (username, password_hash, password_salt, alert_chat)
		 VALUES ($1, $2, $3, NULLIF($4, ''))
		 ON CONFLICT (username) DO NOTHING
		 `

	res, err := r.db.ExecContext(ctx, query,
		account.Username, account.PasswordHash, account.PasswordSalt, account.AlertChat)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affected(res, common.ErrConflict)
}

func (r *postgresAccounts) Get(ctx context.Context, username string) (*models.Account, error) {
	query :=
		`SELECT username, password_hash, password_salt, session_id, connection_id,
		        is_armed, alert_chat, pending_device_id, pending_name
		 FROM accounts
		 WHERE username = $1
		 `

	account := &models.Account{}
	var sessionID, connectionID, alertChat, pendingID, pendingName sql.NullString
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&account.Username, &account.PasswordHash, &account.PasswordSalt,
		&sessionID, &connectionID, &account.IsArmed, &alertChat,
		&pendingID, &pendingName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	account.SessionID = sessionID.String
	account.ConnectionID = connectionID.String
	account.AlertChat = alertChat.String
	if pendingID.Valid {
		account.Pending = &models.PairingSlot{DeviceID: pendingID.String, Name: pendingName.String}
	}
	return account, nil
}

func (r *postgresAccounts) Delete(ctx context.Context, username, ifSessionID string) error {
	query :=
		`DELETE FROM accounts
		 WHERE username = $1 AND session_id = $2
		 `

	res, err := r.db.ExecContext(ctx, query, username, ifSessionID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affected(res, common.ErrConflict)
}

func (r *postgresAccounts) SetSessionID(ctx context.Context, username, sessionID string) error {
	query := `UPDATE accounts SET session_id = $2 WHERE username = $1`

	res, err := r.db.ExecContext(ctx, query, username, sessionID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affected(res, common.ErrNotFound)
}

func (r *postgresAccounts) ClearSessionID(ctx context.Context, username string) error {
	query := `UPDATE accounts SET session_id = NULL WHERE username = $1`

	res, err := r.db.ExecContext(ctx, query, username)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affected(res, common.ErrNotFound)
}

func (r *postgresAccounts) SetArmed(ctx context.Context, username string, armed bool) error {
	query := `UPDATE accounts SET is_armed = $2 WHERE username = $1`

	res, err := r.db.ExecContext(ctx, query, username, armed)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affected(res, common.ErrNotFound)
}

func (r *postgresAccounts) SetConnectionID(ctx context.Context, username, connectionID, ifSessionID string) error {
	query :=
		`UPDATE accounts SET connection_id = $2
		 WHERE username = $1 AND session_id = $3
		 `

	res, err := r.db.ExecContext(ctx, query, username, connectionID, ifSessionID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affected(res, common.ErrConflict)
}

func (r *postgresAccounts) ClearConnectionID(ctx context.Context, username, ifConnectionID string) error {
	query :=
		`UPDATE accounts SET connection_id = NULL
		 WHERE username = $1 AND connection_id = $2
		 `

	res, err := r.db.ExecContext(ctx, query, username, ifConnectionID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affected(res, common.ErrConflict)
}

func (r *postgresAccounts) SetPending(ctx context.Context, username string, slot models.PairingSlot) error {
	query :=
		`UPDATE accounts SET pending_device_id = $2, pending_name = $3
		 WHERE username = $1 AND pending_device_id IS NULL
		 `

	res, err := r.db.ExecContext(ctx, query, username, slot.DeviceID, slot.Name)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affected(res, common.ErrConflict)
}

func (r *postgresAccounts) ClearPending(ctx context.Context, username, deviceID string) error {
	query :=
		`UPDATE accounts SET pending_device_id = NULL, pending_name = NULL
		 WHERE username = $1 AND pending_device_id = $2
		 `

	res, err := r.db.ExecContext(ctx, query, username, deviceID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affected(res, common.ErrConflict)
}

func (r *postgresAccounts) PromotePending(ctx context.Context, username, deviceID string, device models.Device) (*models.PairingSlot, error) {
	slot := &models.PairingSlot{DeviceID: deviceID}

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		// Lock the account row while the slot is consumed so a concurrent
		// duplicate of the same init report cannot promote twice.
		take :=
			`SELECT pending_name FROM accounts
			 WHERE username = $1 AND pending_device_id = $2
			 FOR UPDATE
			 `

		if err := tx.QueryRowContext(ctx, take, username, deviceID).Scan(&slot.Name); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrConflict
			}
			return fmt.Errorf("db error: %w", err)
		}

		clear :=
			`UPDATE accounts SET pending_device_id = NULL, pending_name = NULL
			 WHERE username = $1
			 `

		if _, err := tx.ExecContext(ctx, clear, username); err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		insert :=
			`INSERT INTO devices (username, device_id, name, type, battery, stream_url, is_open)
			 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
			 `

		_, err := tx.ExecContext(ctx, insert,
			username, deviceID, slot.Name, device.Type, device.Battery,
			device.StreamURL, device.IsOpen)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

type postgresDevices struct {
	db *sql.DB
}

func scanDevice(row interface{ Scan(...any) error }) (*models.Device, error) {
	d := &models.Device{}
	var streamURL sql.NullString
	var isOpen sql.NullBool
	if err := row.Scan(&d.ID, &d.Name, &d.Type, &d.Battery, &streamURL, &isOpen); err != nil {
		return nil, err
	}
	d.StreamURL = streamURL.String
	if isOpen.Valid {
		d.IsOpen = &isOpen.Bool
	}
	return d, nil
}

func (r *postgresDevices) List(ctx context.Context, username string) ([]models.Device, error) {
	query :=
		`SELECT device_id, name, type, battery, stream_url, is_open
		 FROM devices
		 WHERE username = $1
		 ORDER BY position
		 `

	rows, err := r.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	list := []models.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		list = append(list, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return list, nil
}

// Merge is the single conditional write that closes the lost-update race:
// the device row is addressed by id, and fields absent from the report fall
// through COALESCE unchanged.
func (r *postgresDevices) Merge(ctx context.Context, username, deviceID string, report *devices.Report) (*models.Device, error) {
	query :=
		`UPDATE devices
		 SET battery    = COALESCE($3, battery),
		     stream_url = COALESCE($4, stream_url),
		     is_open    = COALESCE($5, is_open)
		 WHERE username = $1 AND device_id = $2
		 RETURNING device_id, name, type, battery, stream_url, is_open
		 `

	d, err := scanDevice(r.db.QueryRowContext(ctx, query,
		username, deviceID, report.Battery, report.StreamURL, report.IsOpen))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *postgresDevices) Remove(ctx context.Context, username, deviceID string) (*models.Device, error) {
	query :=
		`DELETE FROM devices
		 WHERE username = $1 AND device_id = $2
		 RETURNING device_id, name, type, battery, stream_url, is_open
		 `

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, username, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

type postgresConnections struct {
	db *sql.DB
}

func (r *postgresConnections) Put(ctx context.Context, connectionID, username string) error {
	query :=
		`INSERT INTO connections (id, username)
		 VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username
		 `

	if _, err := r.db.ExecContext(ctx, query, connectionID, username); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *postgresConnections) Delete(ctx context.Context, connectionID string) (string, error) {
	query := `DELETE FROM connections WHERE id = $1 RETURNING username`

	var username string
	err := r.db.QueryRowContext(ctx, query, connectionID).Scan(&username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return username, nil
}

func (r *postgresConnections) Username(ctx context.Context, connectionID string) (string, error) {
	query := `SELECT username FROM connections WHERE id = $1`

	var username string
	err := r.db.QueryRowContext(ctx, query, connectionID).Scan(&username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return username, nil
}
