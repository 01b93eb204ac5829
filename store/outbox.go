package store

import (
	"strings"
	"time"
)

// OutboxMaxRetries is the number of failed publishes after which a message
// is no longer offered to the drainer. It stays in the table for
// inspection until purged.
const OutboxMaxRetries = 20

// OutboxMessage is a queued outbound message.
type OutboxMessage struct {
	ID        int64
	Topic     string
	Payload   []byte
	MsgType   string
	Retries   int
	CreatedAt time.Time
}

// OutboxStats counts unsent messages.
type OutboxStats struct {
	Pending int `json:"pending"`
	Dead    int `json:"dead"`
}

func (db *DB) EnqueueOutbox(topic string, payload []byte, msgType string) error {
	_, err := db.Exec(db.Q(`INSERT INTO outbox (topic, payload, msg_type) VALUES (?, ?, ?)`), topic, payload, msgType)
	return err
}

// ListPendingOutbox returns up to limit deliverable messages, oldest first.
func (db *DB) ListPendingOutbox(limit int) ([]*OutboxMessage, error) {
	rows, err := db.Query(db.Q(`SELECT id, topic, payload, msg_type, retries, created_at FROM outbox
		WHERE sent_at IS NULL AND retries < ? ORDER BY id LIMIT ?`), OutboxMaxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []*OutboxMessage
	for rows.Next() {
		m := &OutboxMessage{}
		var createdAt any
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.MsgType, &m.Retries, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AckOutbox marks messages as sent.
func (db *DB) AckOutbox(ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := db.Exec(db.Q(`UPDATE outbox SET sent_at=datetime('now','localtime') WHERE id IN (`+marks+`)`), args...)
	return err
}

func (db *DB) IncrementOutboxRetries(id int64) error {
	_, err := db.Exec(db.Q(`UPDATE outbox SET retries=retries+1 WHERE id=?`), id)
	return err
}

// OutboxBacklog counts deliverable and abandoned messages.
func (db *DB) OutboxBacklog() (OutboxStats, error) {
	var st OutboxStats
	err := db.QueryRow(db.Q(`SELECT
		COALESCE(SUM(CASE WHEN retries < ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN retries >= ? THEN 1 ELSE 0 END), 0)
		FROM outbox WHERE sent_at IS NULL`), OutboxMaxRetries, OutboxMaxRetries).Scan(&st.Pending, &st.Dead)
	return st, err
}

// PurgeSentOutbox deletes delivered messages older than the given age.
func (db *DB) PurgeSentOutbox(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	var arg any = cutoff.Format("2006-01-02 15:04:05")
	if db.driver == "postgres" {
		arg = cutoff
	}
	res, err := db.Exec(db.Q(`DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at < ?`), arg)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
