package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"finsight/internal/models"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3" // Import sqlite3 driver
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteDocumentStore implements DocumentStore on SQLite, with an optional
// sqlite-vec index over extracted text blocks for retrieval.
type SQLiteDocumentStore struct {
	db       *sql.DB
	capacity int
	logger   *slog.Logger

	// mu serializes get/put so LRU eviction never interleaves a read.
	mu    sync.Mutex
	clock int64

	embeddingLength int
}

// NewSQLiteDocumentStore opens (or creates) the store at dsn. capacity
// bounds the number of cached documents; 0 disables eviction.
func NewSQLiteDocumentStore(dsn string, capacity int, logger *slog.Logger) (*SQLiteDocumentStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteDocumentStore{db: db, capacity: capacity, logger: logger}
	if err := s.initDB(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *SQLiteDocumentStore) initDB() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		fingerprint TEXT PRIMARY KEY,
		payload     TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		last_access INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS blocks (
		fingerprint TEXT NOT NULL,
		page        INTEGER NOT NULL,
		block       INTEGER NOT NULL,
		text        TEXT NOT NULL,
		PRIMARY KEY (fingerprint, page, block)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	// Resume the access clock so LRU ordering survives restarts.
	var maxAccess sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(last_access) FROM documents`).Scan(&maxAccess); err == nil && maxAccess.Valid {
		s.clock = maxAccess.Int64
	}

	// vec_blocks is created lazily on first index, when the embedding
	// dimension is known.
	return nil
}

// Close closes the database connection
func (s *SQLiteDocumentStore) Close() error {
	return s.db.Close()
}

// Get returns the document for fingerprint and marks it recently used.
func (s *SQLiteDocumentStore) Get(fingerprint string) (*models.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload string
	err := s.db.QueryRow(`SELECT payload FROM documents WHERE fingerprint = ?`, fingerprint).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read document: %w", err)
	}

	s.clock++
	if _, err := s.db.Exec(`UPDATE documents SET last_access = ? WHERE fingerprint = ?`, s.clock, fingerprint); err != nil {
		return nil, false, fmt.Errorf("failed to touch document: %w", err)
	}

	var doc models.Document
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, false, fmt.Errorf("failed to decode document payload: %w", err)
	}
	return &doc, true, nil
}

// Put stores the document unless its fingerprint is already present.
// Returns stored=false for the no-op case.
func (s *SQLiteDocumentStore) Put(doc *models.Document) (bool, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("failed to encode document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	s.clock++
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO documents (fingerprint, payload, created_at, last_access) VALUES (?, ?, ?, ?)`,
		doc.Fingerprint, string(payload), s.clock, s.clock,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check insert result: %w", err)
	}
	if n == 0 {
		// Write-once: the fingerprint is already stored.
		return false, tx.Commit()
	}

	for _, page := range doc.Pages {
		for _, block := range page.Blocks {
			if strings.TrimSpace(block.Text) == "" {
				continue
			}
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO blocks (fingerprint, page, block, text) VALUES (?, ?, ?, ?)`,
				doc.Fingerprint, page.Index, block.Index, block.Text,
			); err != nil {
				return false, fmt.Errorf("failed to insert block: %w", err)
			}
		}
	}

	if err := s.evictLocked(tx); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// evictLocked removes least recently used documents beyond capacity.
func (s *SQLiteDocumentStore) evictLocked(tx *sql.Tx) error {
	if s.capacity <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}
	if count <= s.capacity {
		return nil
	}

	rows, err := tx.Query(
		`SELECT fingerprint FROM documents ORDER BY last_access ASC, created_at ASC LIMIT ?`,
		count-s.capacity,
	)
	if err != nil {
		return fmt.Errorf("failed to select eviction candidates: %w", err)
	}
	var victims []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan eviction candidate: %w", err)
		}
		victims = append(victims, fp)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating eviction candidates: %w", err)
	}

	for _, fp := range victims {
		if _, err := tx.Exec(`DELETE FROM documents WHERE fingerprint = ?`, fp); err != nil {
			return fmt.Errorf("failed to evict document: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM blocks WHERE fingerprint = ?`, fp); err != nil {
			return fmt.Errorf("failed to evict blocks: %w", err)
		}
		if s.embeddingLength > 0 {
			if _, err := tx.Exec(`DELETE FROM vec_blocks WHERE id LIKE ?`, fp+":%"); err != nil {
				return fmt.Errorf("failed to evict block vectors: %w", err)
			}
		}
		s.logger.Debug("evicted document", "fingerprint", fp)
	}
	return nil
}

// serializeFloat32Vector converts a float32 slice to the byte format expected by sqlite-vec
func serializeFloat32Vector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(v))
	}
	return buf
}

// ensureVecTableExists creates the vec_blocks table on first use, once the
// embedding dimension is known.
func (s *SQLiteDocumentStore) ensureVecTableExists(embeddingLen int) error {
	if s.embeddingLength == embeddingLen {
		return nil
	}
	if s.embeddingLength != 0 {
		return fmt.Errorf("cannot change embedding length from %d to %d", s.embeddingLength, embeddingLen)
	}

	var tableExists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='vec_blocks'").Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("failed to check vec_blocks existence: %w", err)
	}
	if tableExists == 0 {
		vecQuery := fmt.Sprintf(`
			CREATE VIRTUAL TABLE vec_blocks USING vec0(
				id TEXT PRIMARY KEY,
				embedding FLOAT[%d]
			)
		`, embeddingLen)
		if _, err := s.db.Exec(vecQuery); err != nil {
			return fmt.Errorf("failed to create vec_blocks table: %w", err)
		}
	}
	s.embeddingLength = embeddingLen
	return nil
}

func blockVecID(fingerprint string, page, block int) string {
	return fmt.Sprintf("%s:%d:%d", fingerprint, page, block)
}

// IndexBlocks stores embeddings for a document's blocks. Indexing is
// best-effort on the parse path; retrieval falls back to lexical scoring
// when no vectors are present.
func (s *SQLiteDocumentStore) IndexBlocks(fingerprint string, embeddings []BlockEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureVecTableExists(len(embeddings[0].Embedding)); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, be := range embeddings {
		id := blockVecID(fingerprint, be.Page, be.Block)
		// vec0 does not support UPDATE; delete then insert.
		if _, err := tx.Exec(`DELETE FROM vec_blocks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete old block vector: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO vec_blocks (id, embedding) VALUES (?, ?)`,
			id, serializeFloat32Vector(be.Embedding),
		); err != nil {
			return fmt.Errorf("failed to insert block vector: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SearchBlocks performs KNN retrieval over the blocks of one document using
// sqlite-vec. Candidates from other documents are filtered out, growing the
// candidate pool once if the first pass comes up short.
func (s *SQLiteDocumentStore) SearchBlocks(fingerprint string, embedding []float32, topK int) ([]BlockHit, error) {
	s.mu.Lock()
	indexed := s.embeddingLength > 0
	s.mu.Unlock()
	if !indexed {
		return nil, nil
	}

	for _, k := range []int{topK * 4, topK * 16} {
		hits, exhausted, err := s.searchBlocksOnce(fingerprint, embedding, topK, k)
		if err != nil {
			return nil, err
		}
		if len(hits) >= topK || exhausted {
			return hits, nil
		}
	}
	hits, _, err := s.searchBlocksOnce(fingerprint, embedding, topK, topK*64)
	return hits, err
}

func (s *SQLiteDocumentStore) searchBlocksOnce(fingerprint string, embedding []float32, topK, candidates int) ([]BlockHit, bool, error) {
	query := `
		SELECT b.fingerprint, b.page, b.block, b.text, v.distance
		FROM vec_blocks v
		JOIN blocks b ON v.id = b.fingerprint || ':' || b.page || ':' || b.block
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`
	rows, err := s.db.Query(query, serializeFloat32Vector(embedding), candidates)
	if err != nil {
		return nil, false, fmt.Errorf("failed to perform vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []BlockHit
	seen := 0
	for rows.Next() {
		var fp string
		var page, block int
		var text string
		var distance float64
		if err := rows.Scan(&fp, &page, &block, &text, &distance); err != nil {
			s.logger.Warn("error scanning search row", "error", err)
			continue
		}
		seen++
		// Only keep hits for the requested document.
		if fp != fingerprint {
			continue
		}
		hits = append(hits, BlockHit{Page: page, Block: block, Text: text, Score: 1 / (1 + distance)})
		if len(hits) >= topK {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("error iterating results: %w", err)
	}
	return hits, seen < candidates, nil
}

// SearchBlocksLexical scores a document's blocks by query term overlap.
// Deterministic and dependency-free, it backs DOCUMENT_QA whenever no
// embedding index is available.
func (s *SQLiteDocumentStore) SearchBlocksLexical(fingerprint, query string, topK int) ([]BlockHit, error) {
	rows, err := s.db.Query(
		`SELECT page, block, text FROM blocks WHERE fingerprint = ? ORDER BY page, block`,
		fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read blocks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	terms := queryTerms(query)
	var hits []BlockHit
	for rows.Next() {
		var hit BlockHit
		if err := rows.Scan(&hit.Page, &hit.Block, &hit.Text); err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		hit.Score = overlapScore(terms, hit.Text)
		if hit.Score > 0 {
			hits = append(hits, hit)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocks: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

func overlapScore(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
