package store

import (
	"database/sql"
	"errors"
	"time"
)

// AdminUser may run privileged commands and send maps to the robot.
type AdminUser struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login,omitempty"`
}

func (db *DB) CreateAdminUser(username, passwordHash string) error {
	_, err := db.Exec(db.Q(`INSERT INTO admin_users (username, password_hash) VALUES (?, ?)`), username, passwordHash)
	return err
}

// GetAdminUser returns sql.ErrNoRows for an unknown user.
func (db *DB) GetAdminUser(username string) (*AdminUser, error) {
	var u AdminUser
	var createdAt, lastLogin any
	err := db.QueryRow(db.Q(`SELECT id, username, password_hash, created_at, last_login FROM admin_users WHERE username=?`), username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	u.LastLogin = parseTime(lastLogin)
	return &u, nil
}

func (db *DB) UpdateAdminPassword(username, passwordHash string) error {
	res, err := db.Exec(db.Q(`UPDATE admin_users SET password_hash=? WHERE username=?`), passwordHash, username)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordAdminLogin stamps the user's last successful login.
func (db *DB) RecordAdminLogin(username string) error {
	_, err := db.Exec(db.Q(`UPDATE admin_users SET last_login=datetime('now','localtime') WHERE username=?`), username)
	return err
}

func (db *DB) AdminUserExists() (bool, error) {
	var id int64
	err := db.QueryRow(`SELECT id FROM admin_users LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
