package certstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"safeerase_enterprise/internal/cert"
)

// NotFoundError сертификат с таким идентификатором не найден
type NotFoundError struct {
	CertificateID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("сертификат %s не найден", e.CertificateID)
}

// Entry строка реестра сертификатов
type Entry struct {
	CertificateID string
	DevicePath    string
	SerialNumber  string
	Method        string
	Technique     string
	IssuedAt      time.Time
}

// SQLiteStore реестр подписанных сертификатов на modernc.org/sqlite
// (чистый Go, без CGO)
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore открывает или создаёт базу реестра по указанному пути
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS certificates (
		certificate_id TEXT PRIMARY KEY,
		device_path    TEXT NOT NULL,
		serial_number  TEXT NOT NULL DEFAULT '',
		method         TEXT NOT NULL,
		technique      TEXT NOT NULL,
		issued_at      TEXT NOT NULL,
		payload        TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_certs_device ON certificates(device_path, issued_at DESC);
	CREATE INDEX IF NOT EXISTS idx_certs_serial ON certificates(serial_number);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close закрывает соединение с базой
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save сохраняет подписанный сертификат целиком (JSON в payload)
func (s *SQLiteStore) Save(ctx context.Context, sc *cert.SignedCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal certificate: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO certificates (certificate_id, device_path, serial_number, method, technique, issued_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sc.CertificateID, sc.DevicePath, sc.SerialNumber,
		string(sc.SanitizationMethod), string(sc.SanitizationTechnique),
		sc.Date, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

// Get возвращает подписанный сертификат по идентификатору
func (s *SQLiteStore) Get(ctx context.Context, certificateID string) (*cert.SignedCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM certificates WHERE certificate_id = ?`, certificateID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{CertificateID: certificateID}
	}
	if err != nil {
		return nil, fmt.Errorf("query certificate: %w", err)
	}

	var sc cert.SignedCertificate
	if err := json.Unmarshal([]byte(payload), &sc); err != nil {
		return nil, fmt.Errorf("unmarshal certificate: %w", err)
	}
	return &sc, nil
}

// List возвращает реестр сертификатов, новые первыми
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT certificate_id, device_path, serial_number, method, technique, issued_at
		 FROM certificates ORDER BY issued_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query certificates: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListByDevice возвращает сертификаты одного устройства, новые первыми
func (s *SQLiteStore) ListByDevice(ctx context.Context, devicePath string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT certificate_id, device_path, serial_number, method, technique, issued_at
		 FROM certificates WHERE device_path = ? ORDER BY issued_at DESC`, devicePath)
	if err != nil {
		return nil, fmt.Errorf("query certificates: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var issued string
	if err := rows.Scan(&e.CertificateID, &e.DevicePath, &e.SerialNumber, &e.Method, &e.Technique, &issued); err != nil {
		return Entry{}, fmt.Errorf("scan certificate row: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, issued); err == nil {
		e.IssuedAt = t
	}
	return e, nil
}
