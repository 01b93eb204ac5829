package store

import "time"

// CommandRecord is one command written to the robot.
type CommandRecord struct {
	ID        int64     `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Device    string    `json:"device"`
	Payload   string    `json:"payload"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LogCommand records the outcome of a command write. A nil cause records success.
func (db *DB) LogCommand(endpoint, device string, payload []byte, cause error) error {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	_, err := db.Exec(db.Q(`INSERT INTO command_log (endpoint, device, payload, ok, error) VALUES (?, ?, ?, ?, ?)`),
		endpoint, device, string(payload), cause == nil, errText)
	return err
}

// ListCommands returns the most recent commands, newest first.
func (db *DB) ListCommands(limit int) ([]CommandRecord, error) {
	rows, err := db.Query(db.Q(`SELECT id, endpoint, device, payload, ok, error, created_at FROM command_log ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CommandRecord
	for rows.Next() {
		var c CommandRecord
		var createdAt any
		if err := rows.Scan(&c.ID, &c.Endpoint, &c.Device, &c.Payload, &c.OK, &c.Error, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}
