// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/siemens/procshark/chunked"
	"github.com/siemens/procshark/wire"
	log "github.com/sirupsen/logrus"
)

// DefaultChunkSize is the size of the chunks of the payload buffer.
const DefaultChunkSize = 1 << 20

// Properties describing a recorded capture.
const (
	PropInterfaces = "interfaces" // comma-separated network interface names.
	PropFilter     = "filter"
	PropStarted    = "started" // RFC 3339 timestamp.
	PropChannel    = "channel"
)

// ErrNoPacket is returned when asking for a packet not in the store.
var ErrNoPacket = errors.New("no such packet")

// Packet describes a stored packet, without its octets.
type Packet struct {
	ID            uint64 // assigned by the store.
	Session       int64  // recording session the packet belongs to.
	MessageID     uint64 // unique only within its session.
	Timestamp     time.Time
	CaptureLength int
	Length        int
	Application   string
	Metadata      map[string]string

	offset int
}

// Store persists attributed packet records. A Store can safely be used by
// multiple go routines simultaneously.
type Store struct {
	dbm sync.Mutex // guards the database.
	db  *sql.DB

	appSelectStmt      *sql.Stmt
	appInsertStmt      *sql.Stmt
	packetInsertStmt   *sql.Stmt
	metadataInsertStmt *sql.Stmt
	packetSelectStmt   *sql.Stmt

	bufm      sync.Mutex // guards the payload buffer.
	buf       *chunked.Buffer
	savedFull int // number of full chunks already saved.

	session int64 // recording session of packets added.

	apps appCache
}

// Open opens the store in the database file at path, creating it if
// necessary. The special path ":memory:" opens a transient store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// A single connection, so transient stores don't disappear.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, buf: chunked.New(DefaultChunkSize)}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("cannot enable WAL mode: %w", err)
	}
	for _, initSchema := range []func(*sql.DB) error{
		initAppSchema, initPacketSchema, initPayloadSchema,
	} {
		if err := initSchema(s.db); err != nil {
			return err
		}
	}
	stmts := []struct {
		stmt **sql.Stmt
		sql  string
	}{
		{&s.appSelectStmt, "SELECT id FROM apps WHERE path = ?"},
		{&s.appInsertStmt, "INSERT INTO apps (path) VALUES (?)"},
		{&s.packetInsertStmt, `INSERT INTO packets (session, msgid, timestamp, caplen, origlen, app_id, data_offset)
			VALUES (?, ?, ?, ?, ?, ?, ?)`},
		{&s.metadataInsertStmt, "INSERT INTO metadata (packet_id, key, value) VALUES (?, ?, ?)"},
		{&s.packetSelectStmt, `SELECT p.id, p.session, p.msgid, p.timestamp, p.caplen, p.origlen, a.path, p.data_offset
			FROM packets p JOIN apps a ON a.id = p.app_id WHERE p.id = ?`},
	}
	for _, st := range stmts {
		stmt, err := s.db.Prepare(st.sql)
		if err != nil {
			return fmt.Errorf("cannot prepare statement: %w", err)
		}
		*st.stmt = stmt
	}
	// Each time the store gets opened, packets added go into a new recording
	// session, as message IDs start over with each capture tool run.
	if err := s.db.QueryRow("SELECT COALESCE(MAX(session), 0) + 1 FROM packets").Scan(&s.session); err != nil {
		return fmt.Errorf("cannot determine recording session: %w", err)
	}
	return s.loadPayload()
}

// loadPayload reads the saved chunks back into the payload buffer.
func (s *Store) loadPayload() error {
	rows, err := s.db.Query("SELECT data FROM chunks ORDER BY idx")
	if err != nil {
		return fmt.Errorf("cannot load payload: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("cannot load payload: %w", err)
		}
		s.buf.Append(data)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("cannot load payload: %w", err)
	}
	// Loaded chunks get resaved in the current chunk size.
	s.savedFull = 0
	if s.buf.Len() > 0 {
		log.Debugf("loaded %d octets of packet payload", s.buf.Len())
	}
	return nil
}

// Close the store, without saving the payload.
func (s *Store) Close() error {
	s.dbm.Lock()
	defer s.dbm.Unlock()
	return s.db.Close()
}

// appID returns the ID of the application with the given path, adding the
// application if necessary. The caller must hold the database lock.
func (s *Store) appID(tx *sql.Tx, path string) (int64, error) {
	if id, ok := s.apps.ID(path); ok {
		return id, nil
	}
	var id int64
	err := tx.Stmt(s.appSelectStmt).QueryRow(path).Scan(&id)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.Stmt(s.appInsertStmt).Exec(path)
		if err != nil {
			return 0, fmt.Errorf("cannot add application %q: %w", path, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("cannot look up application %q: %w", path, err)
	}
	return id, nil
}

// AddPacket adds the packet record together with its metadata to the
// current recording session. The record's message ID must be unique within
// the session. The payload only gets added when the packet was added.
func (s *Store) AddPacket(rec *wire.Record, metadata map[string]string) error {
	s.dbm.Lock()
	defer s.dbm.Unlock()
	s.bufm.Lock()
	offset := s.buf.Len()
	s.bufm.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("cannot add packet %d: %w", rec.ID, err)
	}
	defer tx.Rollback()
	appid, err := s.appID(tx, rec.Path)
	if err != nil {
		return err
	}
	res, err := tx.Stmt(s.packetInsertStmt).Exec(
		s.session, int64(rec.ID), rec.Timestamp.UnixMicro(),
		rec.CaptureLength(), rec.Length, appid, offset)
	if err != nil {
		return fmt.Errorf("cannot add packet %d: %w", rec.ID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("cannot add packet %d: %w", rec.ID, err)
	}
	mdStmt := tx.Stmt(s.metadataInsertStmt)
	for key, value := range metadata {
		if _, err := mdStmt.Exec(id, key, value); err != nil {
			return fmt.Errorf("cannot add metadata of packet %d: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot add packet %d: %w", rec.ID, err)
	}
	// Only cache committed applications.
	s.apps.Set(appid, rec.Path)
	// Readers need the database lock to learn about the new packet, so the
	// payload is in place before they can ask for it.
	s.bufm.Lock()
	s.buf.Append(rec.Data)
	s.bufm.Unlock()
	return nil
}

// Packet returns the packet with the given store-assigned ID, including its
// metadata.
func (s *Store) Packet(id uint64) (*Packet, error) {
	s.dbm.Lock()
	defer s.dbm.Unlock()
	p := &Packet{}
	var micros int64
	err := s.packetSelectStmt.QueryRow(int64(id)).Scan(
		&p.ID, &p.Session, &p.MessageID, &micros, &p.CaptureLength, &p.Length, &p.Application, &p.offset)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("packet %d: %w", id, ErrNoPacket)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot query packet %d: %w", id, err)
	}
	p.Timestamp = time.UnixMicro(micros)
	p.Metadata = map[string]string{}
	rows, err := s.db.Query("SELECT key, value FROM metadata WHERE packet_id = ?", int64(id))
	if err != nil {
		return nil, fmt.Errorf("cannot query metadata of packet %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		p.Metadata[key] = value.String
	}
	return p, rows.Err()
}

// Packets returns all stored packets in the order they were added, including
// their metadata.
func (s *Store) Packets() ([]*Packet, error) {
	s.dbm.Lock()
	defer s.dbm.Unlock()
	rows, err := s.db.Query(`SELECT p.id, p.session, p.msgid, p.timestamp, p.caplen, p.origlen, a.path, p.data_offset
		FROM packets p JOIN apps a ON a.id = p.app_id ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("cannot query packets: %w", err)
	}
	defer rows.Close()
	packets := []*Packet{}
	byID := map[uint64]*Packet{}
	for rows.Next() {
		p := &Packet{Metadata: map[string]string{}}
		var micros int64
		if err := rows.Scan(&p.ID, &p.Session, &p.MessageID, &micros, &p.CaptureLength, &p.Length, &p.Application, &p.offset); err != nil {
			return nil, fmt.Errorf("cannot query packets: %w", err)
		}
		p.Timestamp = time.UnixMicro(micros)
		packets = append(packets, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot query packets: %w", err)
	}
	mdrows, err := s.db.Query("SELECT packet_id, key, value FROM metadata")
	if err != nil {
		return nil, fmt.Errorf("cannot query metadata: %w", err)
	}
	defer mdrows.Close()
	for mdrows.Next() {
		var id uint64
		var key string
		var value sql.NullString
		if err := mdrows.Scan(&id, &key, &value); err != nil {
			return nil, fmt.Errorf("cannot query metadata: %w", err)
		}
		if p, ok := byID[id]; ok {
			p.Metadata[key] = value.String
		}
	}
	return packets, mdrows.Err()
}

// Count returns the number of stored packets.
func (s *Store) Count() (int, error) {
	s.dbm.Lock()
	defer s.dbm.Unlock()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM packets").Scan(&n)
	return n, err
}

// PacketData returns the captured octets of the packet with the given
// store-assigned ID.
func (s *Store) PacketData(id uint64) ([]byte, error) {
	p, err := s.Packet(id)
	if err != nil {
		return nil, err
	}
	return s.Data(p)
}

// Data returns the captured octets of the given packet.
func (s *Store) Data(p *Packet) ([]byte, error) {
	s.bufm.Lock()
	defer s.bufm.Unlock()
	if p.offset < 0 || p.offset+p.CaptureLength > s.buf.Len() {
		return nil, fmt.Errorf("payload of packet %d missing", p.ID)
	}
	data := make([]byte, p.CaptureLength)
	s.buf.Read(p.offset, p.CaptureLength, data)
	return data, nil
}

// Applications returns the paths of all applications packets have been
// attributed to.
func (s *Store) Applications() ([]string, error) {
	s.dbm.Lock()
	defer s.dbm.Unlock()
	rows, err := s.db.Query("SELECT id, path FROM apps ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("cannot query applications: %w", err)
	}
	defer rows.Close()
	paths := []string{}
	for rows.Next() {
		var id int64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("cannot query applications: %w", err)
		}
		s.apps.Set(id, path)
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// SetProperty sets a property describing the stored capture, such as the
// network interfaces captured from.
func (s *Store) SetProperty(key, value string) error {
	s.dbm.Lock()
	defer s.dbm.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO properties (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("cannot set property %q: %w", key, err)
	}
	return nil
}

// Properties returns all properties describing the stored capture.
func (s *Store) Properties() (map[string]string, error) {
	s.dbm.Lock()
	defer s.dbm.Unlock()
	rows, err := s.db.Query("SELECT key, value FROM properties")
	if err != nil {
		return nil, fmt.Errorf("cannot query properties: %w", err)
	}
	defer rows.Close()
	props := map[string]string{}
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("cannot query properties: %w", err)
		}
		props[key] = value.String
	}
	return props, rows.Err()
}

// Save persists the payload buffer. Chunks that were already full when
// saved before are skipped.
func (s *Store) Save() error {
	s.bufm.Lock()
	chunks := s.buf.Chunks()
	from := s.savedFull
	type chunk struct {
		idx  int
		data []byte
	}
	pending := make([]chunk, 0, chunks-from)
	full := from
	for i := from; i < chunks; i++ {
		data := s.buf.Chunk(i)
		if len(data) == s.buf.ChunkSize() {
			// Full chunks never change anymore.
			full = i + 1
		} else {
			data = append([]byte{}, data...)
		}
		pending = append(pending, chunk{idx: i, data: data})
	}
	s.bufm.Unlock()

	s.dbm.Lock()
	defer s.dbm.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("cannot save payload: %w", err)
	}
	defer tx.Rollback()
	if from == 0 {
		// Chunk sizes of a loaded payload might differ.
		if _, err := tx.Exec("DELETE FROM chunks"); err != nil {
			return fmt.Errorf("cannot save payload: %w", err)
		}
	}
	for _, c := range pending {
		if _, err := tx.Exec("INSERT OR REPLACE INTO chunks (idx, data) VALUES (?, ?)",
			c.idx, c.data); err != nil {
			return fmt.Errorf("cannot save payload chunk %d: %w", c.idx, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot save payload: %w", err)
	}
	s.bufm.Lock()
	if full > s.savedFull {
		s.savedFull = full
	}
	s.bufm.Unlock()
	log.Debugf("saved %d payload chunks", len(pending))
	return nil
}
