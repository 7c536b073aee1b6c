package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	db *sql.DB
}

func New(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "xmppgate.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &DB{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			account TEXT NOT NULL,
			jid TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (account, jid)
		)`,

		`CREATE TABLE IF NOT EXISTS admins (
			account TEXT NOT NULL,
			jid TEXT NOT NULL,
			PRIMARY KEY (account, jid)
		)`,

		`CREATE TABLE IF NOT EXISTS pending_subscriptions (
			account TEXT NOT NULL,
			jid TEXT NOT NULL,
			requested_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			PRIMARY KEY (account, jid)
		)`,

		`CREATE TABLE IF NOT EXISTS pending_invites (
			account TEXT NOT NULL,
			room TEXT NOT NULL,
			inviter TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			invited_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			PRIMARY KEY (account, room)
		)`,

		`CREATE TABLE IF NOT EXISTS vcards (
			account TEXT PRIMARY KEY,
			fn TEXT NOT NULL DEFAULT '',
			nickname TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			desc TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			avatar_mime TEXT NOT NULL DEFAULT '',
			avatar_data BLOB
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			jid TEXT NOT NULL,
			body TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			outgoing INTEGER NOT NULL,
			type TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_jid ON messages(account, jid)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Contact is a persisted roster contact.
type Contact struct {
	JID  string
	Name string
}

// PendingSubscription is a subscription request awaiting admin action.
type PendingSubscription struct {
	JID         string
	RequestedAt time.Time
	Status      string
}

// PendingInvite is a MUC invite awaiting admin action.
type PendingInvite struct {
	Room      string
	Inviter   string
	Reason    string
	InvitedAt time.Time
	Status    string
}

// VCard mirrors the server-held vCard for an account.
type VCard struct {
	FN         string
	Nickname   string
	URL        string
	Desc       string
	AvatarURL  string
	AvatarMime string
	AvatarData []byte
}

func (d *DB) SaveContact(account, jid, name string) error {
	_, err := d.db.Exec(`INSERT INTO contacts (account, jid, name) VALUES (?, ?, ?)
		ON CONFLICT(account, jid) DO UPDATE SET name = excluded.name`,
		account, jid, name)
	return err
}

func (d *DB) DeleteContact(account, jid string) error {
	_, err := d.db.Exec(`DELETE FROM contacts WHERE account = ? AND jid = ?`, account, jid)
	return err
}

func (d *DB) GetContacts(account string) ([]Contact, error) {
	rows, err := d.db.Query(`SELECT jid, name FROM contacts WHERE account = ? ORDER BY jid`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.JID, &c.Name); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (d *DB) SaveAdmin(account, jid string) error {
	_, err := d.db.Exec(`INSERT OR IGNORE INTO admins (account, jid) VALUES (?, ?)`, account, jid)
	return err
}

func (d *DB) GetAdmins(account string) ([]string, error) {
	rows, err := d.db.Query(`SELECT jid FROM admins WHERE account = ? ORDER BY jid`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var admins []string
	for rows.Next() {
		var jid string
		if err := rows.Scan(&jid); err != nil {
			return nil, err
		}
		admins = append(admins, jid)
	}
	return admins, rows.Err()
}

func (d *DB) SavePendingSubscription(account string, p PendingSubscription) error {
	_, err := d.db.Exec(`INSERT INTO pending_subscriptions (account, jid, requested_at, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account, jid) DO UPDATE SET requested_at = excluded.requested_at, status = excluded.status`,
		account, p.JID, p.RequestedAt.Unix(), p.Status)
	return err
}

func (d *DB) GetPendingSubscription(account, jid string) (*PendingSubscription, error) {
	var p PendingSubscription
	var ts int64
	err := d.db.QueryRow(`SELECT jid, requested_at, status FROM pending_subscriptions
		WHERE account = ? AND jid = ?`, account, jid).Scan(&p.JID, &ts, &p.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.RequestedAt = time.Unix(ts, 0)
	return &p, nil
}

func (d *DB) DeletePendingSubscription(account, jid string) error {
	_, err := d.db.Exec(`DELETE FROM pending_subscriptions WHERE account = ? AND jid = ?`, account, jid)
	return err
}

func (d *DB) SavePendingInvite(account string, p PendingInvite) error {
	_, err := d.db.Exec(`INSERT INTO pending_invites (account, room, inviter, reason, invited_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, room) DO UPDATE SET
			inviter = excluded.inviter, reason = excluded.reason,
			invited_at = excluded.invited_at, status = excluded.status`,
		account, p.Room, p.Inviter, p.Reason, p.InvitedAt.Unix(), p.Status)
	return err
}

func (d *DB) GetPendingInvite(account, room string) (*PendingInvite, error) {
	var p PendingInvite
	var ts int64
	err := d.db.QueryRow(`SELECT room, inviter, reason, invited_at, status FROM pending_invites
		WHERE account = ? AND room = ?`, account, room).Scan(&p.Room, &p.Inviter, &p.Reason, &ts, &p.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.InvitedAt = time.Unix(ts, 0)
	return &p, nil
}

func (d *DB) DeletePendingInvite(account, room string) error {
	_, err := d.db.Exec(`DELETE FROM pending_invites WHERE account = ? AND room = ?`, account, room)
	return err
}

func (d *DB) SaveVCard(account string, v VCard) error {
	_, err := d.db.Exec(`INSERT INTO vcards (account, fn, nickname, url, desc, avatar_url, avatar_mime, avatar_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			fn = excluded.fn, nickname = excluded.nickname, url = excluded.url,
			desc = excluded.desc, avatar_url = excluded.avatar_url,
			avatar_mime = excluded.avatar_mime, avatar_data = excluded.avatar_data`,
		account, v.FN, v.Nickname, v.URL, v.Desc, v.AvatarURL, v.AvatarMime, v.AvatarData)
	return err
}

func (d *DB) GetVCard(account string) (*VCard, error) {
	var v VCard
	err := d.db.QueryRow(`SELECT fn, nickname, url, desc, avatar_url, avatar_mime, avatar_data
		FROM vcards WHERE account = ?`, account).
		Scan(&v.FN, &v.Nickname, &v.URL, &v.Desc, &v.AvatarURL, &v.AvatarMime, &v.AvatarData)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (d *DB) SaveMessage(account, jid, body, msgType string, timestamp time.Time, outgoing bool) error {
	_, err := d.db.Exec(`INSERT INTO messages (account, jid, body, timestamp, outgoing, type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		account, jid, body, timestamp.Unix(), outgoing, msgType)
	return err
}

// Message is a recorded history entry.
type Message struct {
	JID       string
	Body      string
	Timestamp time.Time
	Outgoing  bool
	Type      string
}

func (d *DB) GetMessages(account, jid string, limit int) ([]Message, error) {
	rows, err := d.db.Query(`SELECT jid, body, timestamp, outgoing, type FROM messages
		WHERE account = ? AND jid = ? ORDER BY timestamp DESC LIMIT ?`,
		account, jid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.JID, &m.Body, &ts, &m.Outgoing, &m.Type); err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(ts, 0)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (d *DB) DeleteOldMessages(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Unix()
	res, err := d.db.Exec(`DELETE FROM messages WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
