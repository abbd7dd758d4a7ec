package checkpoint

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boardflow/orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no checkpoint matches
var ErrNotFound = errors.New("checkpoint not found")

// Store provides SQLite-backed checkpoint persistence
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the checkpoint database at dbPath.
// Use ":memory:" for an ephemeral store.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Create persists a checkpoint
func (s *Store) Create(cp *domain.Checkpoint) error {
	dataJSON, err := json.Marshal(cp.Data)
	if err != nil {
		return fmt.Errorf("encoding checkpoint data: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO checkpoints (id, ticket_id, version, type, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		cp.ID,
		cp.TicketID,
		cp.Version,
		string(cp.Type),
		cp.CreatedAt,
		string(dataJSON),
	)
	return err
}

// FindLatest returns the newest checkpoint for a ticket, or ErrNotFound
func (s *Store) FindLatest(ticketID string) (*domain.Checkpoint, error) {
	row := s.db.QueryRow(`
		SELECT id, ticket_id, version, type, created_at, data
		FROM checkpoints WHERE ticket_id = ?
		ORDER BY created_at DESC, version DESC LIMIT 1
	`, ticketID)
	return scanCheckpoint(row)
}

// FindByID returns one checkpoint, or ErrNotFound
func (s *Store) FindByID(id string) (*domain.Checkpoint, error) {
	row := s.db.QueryRow(`
		SELECT id, ticket_id, version, type, created_at, data
		FROM checkpoints WHERE id = ?
	`, id)
	return scanCheckpoint(row)
}

// FindAll returns a ticket's checkpoints ordered by creation time,
// oldest first
func (s *Store) FindAll(ticketID string) ([]*domain.Checkpoint, error) {
	rows, err := s.db.Query(`
		SELECT id, ticket_id, version, type, created_at, data
		FROM checkpoints WHERE ticket_id = ?
		ORDER BY created_at ASC, version ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []*domain.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpointRows(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

// DeleteByID removes one checkpoint
func (s *Store) DeleteByID(id string) error {
	_, err := s.db.Exec(`DELETE FROM checkpoints WHERE id = ?`, id)
	return err
}

// DeleteAll removes every checkpoint for a ticket and returns the
// number deleted
func (s *Store) DeleteAll(ticketID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM checkpoints WHERE ticket_id = ?`, ticketID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MaxVersion returns the highest stored version for a ticket, or 0
// when none exist. Used to continue version numbering across process
// restarts.
func (s *Store) MaxVersion(ticketID string) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(version) FROM checkpoints WHERE ticket_id = ?`, ticketID).Scan(&version)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// DeleteOlderThan removes checkpoints of any type created before
// cutoff, across all tickets. Returns the number deleted.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM checkpoints WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// FindByType returns a ticket's checkpoints of one type, oldest first
func (s *Store) FindByType(ticketID string, cpType domain.CheckpointType) ([]*domain.Checkpoint, error) {
	rows, err := s.db.Query(`
		SELECT id, ticket_id, version, type, created_at, data
		FROM checkpoints WHERE ticket_id = ? AND type = ?
		ORDER BY created_at ASC, version ASC
	`, ticketID, string(cpType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []*domain.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpointRows(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

// TicketIDs returns the distinct ticket ids with stored checkpoints
func (s *Store) TicketIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT ticket_id FROM checkpoints`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInto(scanner rowScanner) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var cpType, dataJSON string

	if err := scanner.Scan(&cp.ID, &cp.TicketID, &cp.Version, &cpType, &cp.CreatedAt, &dataJSON); err != nil {
		return nil, err
	}
	cp.Type = domain.CheckpointType(cpType)
	if err := json.Unmarshal([]byte(dataJSON), &cp.Data); err != nil {
		return nil, fmt.Errorf("decoding checkpoint data: %w", err)
	}
	return &cp, nil
}

func scanCheckpoint(row *sql.Row) (*domain.Checkpoint, error) {
	cp, err := scanInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cp, err
}

func scanCheckpointRows(rows *sql.Rows) (*domain.Checkpoint, error) {
	return scanInto(rows)
}
