package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a single-row lookup finds nothing.
var ErrNotFound = errors.New("storage: not found")

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Entity is one vertex of the large relationship graph served to
// exploration sessions (a vessel, a mission, a port, ...).
type Entity struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Relationship is an explicit, stored edge between two entities. The
// validity window is optional on both ends.
type Relationship struct {
	ID         string         `json:"id"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Label      string         `json:"label,omitempty"`
	ValidStart *time.Time     `json:"valid_start,omitempty"`
	ValidEnd   *time.Time     `json:"valid_end,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Embedding stores a vector embedding keyed to an entity.
type Embedding struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	Content    string    `json:"content"`
	Vector     []float32 `json:"vector"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
}

// TypeCount is a helper used inside GraphStats.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// GraphStats summarises the entity store.
type GraphStats struct {
	UniqueNodeCount int         `json:"uniqueNodeCount"`
	TotalLinkCount  int         `json:"totalLinkCount"`
	EntitiesByType  []TypeCount `json:"entitiesByType"`
	Embeddings      int         `json:"embeddings"`
}

// ---------------------------------------------------------------------------
// Float32 ↔ BLOB helpers
// ---------------------------------------------------------------------------

// float32SliceToBytes serialises a []float32 as raw little-endian bytes.
func float32SliceToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice deserialises raw little-endian bytes into []float32.
func bytesToFloat32Slice(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// nullableTime converts an optional timestamp into a driver value.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func marshalProps(p map[string]any) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalProps(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// placeholders returns "?,?,...,?" with n marks.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ---------------------------------------------------------------------------
// Storage
// ---------------------------------------------------------------------------

// Storage is a thread-safe wrapper around a SQLite database holding the
// entity graph that exploration sessions expand into.
type Storage struct {
	db *sql.DB
	mu sync.RWMutex
}

// ============================= LIFECYCLE ==================================

// New opens (or creates) the SQLite database at dbPath, applies the
// recommended PRAGMAs, runs any pending migrations and returns a ready
// *Storage.
func New(dbPath string) (*Storage, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open db %q: %w", dbPath, err)
	}

	// Only one writer at a time for SQLite.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("storage: set pragma %q: %w", p, err)
		}
	}

	s := &Storage{db: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ============================ MIGRATIONS ==================================

// migrate ensures the schema_migrations table exists, then applies every
// unapplied Migration.
func (s *Storage) migrate() error {
	const createMigTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		description TEXT
	)`
	if _, err := s.db.Exec(createMigTable); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range Migrations {
		var exists int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration v%d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := s.db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration v%d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := s.db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// AppliedVersion returns the highest recorded migration version.
func (s *Storage) AppliedVersion(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("storage: applied version: %w", err)
	}
	return int(v.Int64), nil
}

// ========================= ENTITY OPERATIONS ==============================

const entityColumns = `id, entity_type, label, properties, updated_at`

// SaveEntities batch-upserts entities in chunks of 500, each chunk in its
// own transaction.
func (s *Storage) SaveEntities(ctx context.Context, entities []*Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const chunkSize = 500
	for i := 0; i < len(entities); i += chunkSize {
		end := i + chunkSize
		if end > len(entities) {
			end = len(entities)
		}
		if err := s.saveEntitiesChunk(ctx, entities[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) saveEntitiesChunk(ctx context.Context, entities []*Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx (save entities): %w", err)
	}
	defer tx.Rollback()

	// ON CONFLICT keeps the row (and its cascading children) in place.
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_type = excluded.entity_type,
			label       = excluded.label,
			properties  = excluded.properties,
			updated_at  = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("storage: prepare save-entity stmt: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entities {
		if e.ID == "" {
			return fmt.Errorf("storage: entity with empty id")
		}
		props, err := marshalProps(e.Properties)
		if err != nil {
			return fmt.Errorf("storage: marshal entity %q properties: %w", e.ID, err)
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.EntityType, e.Label, props, e.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("storage: insert entity %q: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// scanEntities is a shared helper that scans rows into []*Entity.
func scanEntities(rows *sql.Rows) ([]*Entity, error) {
	defer rows.Close()
	var result []*Entity
	for rows.Next() {
		e := &Entity{}
		var props string
		if err := rows.Scan(&e.ID, &e.EntityType, &e.Label, &props, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan entity row: %w", err)
		}
		m, err := unmarshalProps(props)
		if err != nil {
			return nil, fmt.Errorf("storage: unmarshal entity %q properties: %w", e.ID, err)
		}
		e.Properties = m
		result = append(result, e)
	}
	return result, rows.Err()
}

// GetEntity retrieves a single entity. It returns ErrNotFound when absent.
func (s *Storage) GetEntity(ctx context.Context, id string) (*Entity, error) {
	list, err := s.GetEntities(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: entity %q", ErrNotFound, id)
	}
	return list[0], nil
}

// GetEntities returns the entities with the given ids, ordered by id.
// Unknown ids are skipped.
func (s *Storage) GetEntities(ctx context.Context, ids []string) ([]*Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT ` + entityColumns + ` FROM entities WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: get entities: %w", err)
	}
	return scanEntities(rows)
}

// SearchEntities performs a case-insensitive LIKE search against id and
// label.
func (s *Storage) SearchEntities(ctx context.Context, query string, limit int) ([]*Entity, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	q := `SELECT ` + entityColumns + ` FROM entities
		WHERE lower(label) LIKE ? OR lower(id) LIKE ?
		ORDER BY label, id LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: search entities %q: %w", query, err)
	}
	return scanEntities(rows)
}

// AllEntities returns every entity ordered by id. Used for bulk embedding.
func (s *Storage) AllEntities(ctx context.Context) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: all entities: %w", err)
	}
	return scanEntities(rows)
}

// DeleteEntity removes an entity. Relationships and embeddings are
// cascade-deleted.
func (s *Storage) DeleteEntity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("storage: delete entity %q: %w", id, err)
	}
	return nil
}

// ====================== RELATIONSHIP OPERATIONS ===========================

const relationshipColumns = `id, source_id, target_id, label, valid_start, valid_end, properties`

// SaveRelationships batch-upserts relationships in a single transaction.
// Relationships whose source or target entity does not exist are skipped,
// so one bad row cannot roll back the whole batch. It returns the number
// of rows written.
func (s *Storage) SaveRelationships(ctx context.Context, rels []*Relationship) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entityIDs := make(map[string]struct{})
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM entities`)
	if err != nil {
		return 0, fmt.Errorf("storage: query entity ids for relationship filter: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("storage: scan entity id: %w", err)
		}
		entityIDs[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("storage: entity id rows: %w", err)
	}

	valid := make([]*Relationship, 0, len(rels))
	for _, r := range rels {
		if _, ok := entityIDs[r.SourceID]; !ok {
			continue
		}
		if _, ok := entityIDs[r.TargetID]; !ok {
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage: begin tx (save relationships): %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO relationships
		(`+relationshipColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("storage: prepare save-relationship stmt: %w", err)
	}
	defer stmt.Close()

	for _, r := range valid {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		props, err := marshalProps(r.Properties)
		if err != nil {
			return 0, fmt.Errorf("storage: marshal relationship %q properties: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.SourceID, r.TargetID, r.Label,
			nullableTime(r.ValidStart), nullableTime(r.ValidEnd), props,
		); err != nil {
			return 0, fmt.Errorf("storage: insert relationship %q: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage: commit relationships: %w", err)
	}
	return len(valid), nil
}

// scanRelationships is a shared helper that scans rows into []*Relationship.
func scanRelationships(rows *sql.Rows) ([]*Relationship, error) {
	defer rows.Close()
	var result []*Relationship
	for rows.Next() {
		r := &Relationship{}
		var start, end sql.NullTime
		var props string
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Label, &start, &end, &props); err != nil {
			return nil, fmt.Errorf("storage: scan relationship row: %w", err)
		}
		r.ValidStart = timePtr(start)
		r.ValidEnd = timePtr(end)
		m, err := unmarshalProps(props)
		if err != nil {
			return nil, fmt.Errorf("storage: unmarshal relationship %q properties: %w", r.ID, err)
		}
		r.Properties = m
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetRelationshipsTouching returns relationships with either endpoint in
// ids, ordered by id. A positive limit caps the result.
func (s *Storage) GetRelationshipsTouching(ctx context.Context, ids []string, limit int) ([]*Relationship, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ph := placeholders(len(ids))
	args := make([]any, 0, len(ids)*2+1)
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}
	q := `SELECT ` + relationshipColumns + ` FROM relationships
		WHERE source_id IN (` + ph + `) OR target_id IN (` + ph + `)
		ORDER BY id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: relationships touching %d ids: %w", len(ids), err)
	}
	return scanRelationships(rows)
}

// GetRelationshipsBetween returns relationships whose endpoints are both in
// ids.
func (s *Storage) GetRelationshipsBetween(ctx context.Context, ids []string) ([]*Relationship, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ph := placeholders(len(ids))
	args := make([]any, 0, len(ids)*2)
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}
	q := `SELECT ` + relationshipColumns + ` FROM relationships
		WHERE source_id IN (` + ph + `) AND target_id IN (` + ph + `)
		ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: relationships between %d ids: %w", len(ids), err)
	}
	return scanRelationships(rows)
}

// ====================== EMBEDDING OPERATIONS =============================

// SaveEmbedding upserts the embedding of one entity. An entity has at most
// one embedding; saving again replaces it.
func (s *Storage) SaveEmbedding(ctx context.Context, emb *Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if emb.ID == "" {
		emb.ID = uuid.New().String()
	}
	if emb.CreatedAt.IsZero() {
		emb.CreatedAt = time.Now().UTC()
	}
	if emb.Dimensions == 0 {
		emb.Dimensions = len(emb.Vector)
	}

	const q = `INSERT INTO embeddings
		(id, entity_id, content, vector, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			content    = excluded.content,
			vector     = excluded.vector,
			model      = excluded.model,
			dimensions = excluded.dimensions,
			created_at = excluded.created_at`

	if _, err := s.db.ExecContext(ctx, q,
		emb.ID, emb.EntityID, emb.Content, float32SliceToBytes(emb.Vector),
		emb.Model, emb.Dimensions, emb.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("storage: save embedding for entity %q: %w", emb.EntityID, err)
	}
	return nil
}

// GetEmbedding returns the embedding for a specific entity.
func (s *Storage) GetEmbedding(ctx context.Context, entityID string) (*Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const q = `SELECT id, entity_id, content, vector, model, dimensions, created_at
		FROM embeddings WHERE entity_id = ?`

	emb := &Embedding{}
	var vectorBlob []byte
	err := s.db.QueryRowContext(ctx, q, entityID).Scan(
		&emb.ID, &emb.EntityID, &emb.Content, &vectorBlob,
		&emb.Model, &emb.Dimensions, &emb.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: embedding for entity %q", ErrNotFound, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get embedding for entity %q: %w", entityID, err)
	}
	emb.Vector = bytesToFloat32Slice(vectorBlob)
	return emb, nil
}

// GetAllEmbeddings returns every embedding in the database. This is intended
// for loading all vectors into memory for similarity search.
func (s *Storage) GetAllEmbeddings(ctx context.Context) ([]*Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const q = `SELECT id, entity_id, content, vector, model, dimensions, created_at
		FROM embeddings ORDER BY entity_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: get all embeddings: %w", err)
	}
	defer rows.Close()

	var result []*Embedding
	for rows.Next() {
		emb := &Embedding{}
		var vectorBlob []byte
		if err := rows.Scan(
			&emb.ID, &emb.EntityID, &emb.Content, &vectorBlob,
			&emb.Model, &emb.Dimensions, &emb.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan embedding row: %w", err)
		}
		emb.Vector = bytesToFloat32Slice(vectorBlob)
		result = append(result, emb)
	}
	return result, rows.Err()
}

// ============================== STATS ====================================

// GetGraphStats returns aggregate counts summarising the entity store.
func (s *Storage) GetGraphStats(ctx context.Context) (*GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &GraphStats{EntitiesByType: []TypeCount{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_type, COUNT(*) FROM entities GROUP BY entity_type ORDER BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("storage: stats entities by type: %w", err)
	}
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan entity type count: %w", err)
		}
		stats.UniqueNodeCount += tc.Count
		stats.EntitiesByType = append(stats.EntitiesByType, tc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relationships`).Scan(&stats.TotalLinkCount); err != nil {
		return nil, fmt.Errorf("storage: stats relationships: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&stats.Embeddings); err != nil {
		return nil, fmt.Errorf("storage: stats embeddings: %w", err)
	}
	return stats, nil
}
