// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package store

import (
	"database/sql"
	"fmt"
)

func initAppSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS apps (
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		path  TEXT NOT NULL UNIQUE
	);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("cannot create apps table: %w", err)
	}
	return nil
}

func initPacketSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS packets (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session     INTEGER NOT NULL,     -- recording session
		msgid       INTEGER NOT NULL,     -- message ID, unique per session
		timestamp   INTEGER NOT NULL,     -- microseconds since the epoch
		caplen      INTEGER NOT NULL,
		origlen     INTEGER NOT NULL,
		app_id      INTEGER NOT NULL REFERENCES apps(id),
		data_offset INTEGER NOT NULL,     -- into the payload buffer
		UNIQUE (session, msgid)
	);
	CREATE TABLE IF NOT EXISTS metadata (
		packet_id  INTEGER NOT NULL REFERENCES packets(id),
		key        TEXT NOT NULL,
		value      TEXT,
		PRIMARY KEY (packet_id, key)
	);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("cannot create packets tables: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_packets_app ON packets(app_id);",
		"CREATE INDEX IF NOT EXISTS idx_packets_timestamp ON packets(timestamp);",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("cannot create index: %w", err)
		}
	}
	return nil
}

func initPayloadSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		idx   INTEGER PRIMARY KEY,
		data  BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS properties (
		key    TEXT PRIMARY KEY,
		value  TEXT
	);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("cannot create payload tables: %w", err)
	}
	return nil
}
