// Package store provides the content-addressed document store. It is the
// only shared mutable state in the system: parsed documents are written once
// per fingerprint and read by query handlers.
package store

import "finsight/internal/models"

// BlockHit is a scored text block returned by retrieval over a document.
type BlockHit struct {
	Page  int
	Block int
	Text  string
	Score float64
}

// BlockEmbedding pairs a block coordinate with its embedding vector.
type BlockEmbedding struct {
	Page      int
	Block     int
	Embedding []float32
}

// DocumentStore is the persistence contract for parsed documents.
//
// Put is write-once per fingerprint: a second put for the same key is a
// no-op, which makes duplicate concurrent extractions harmless. Get marks
// the entry as recently used for eviction purposes.
type DocumentStore interface {
	Get(fingerprint string) (*models.Document, bool, error)
	Put(doc *models.Document) (stored bool, err error)
	IndexBlocks(fingerprint string, embeddings []BlockEmbedding) error
	SearchBlocks(fingerprint string, embedding []float32, topK int) ([]BlockHit, error)
	SearchBlocksLexical(fingerprint, query string, topK int) ([]BlockHit, error)
	Close() error
}
