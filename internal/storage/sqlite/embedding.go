package sqlite

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// Embeddings are stored inline in the entities table as little-endian
// float64 BLOBs (8 bytes per component). Keeping the vector in the same
// row as the entity means a re-ingest replaces raw_data, indexed_fields
// and embedding in one atomic upsert.

// encodeEmbedding converts a float64 slice to its binary representation.
func encodeEmbedding(embedding []float64) []byte {
	if len(embedding) == 0 {
		return nil
	}

	buf := make([]byte, len(embedding)*8)
	for i, v := range embedding {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary representation back to a float64
// slice. dimension validates the buffer size.
func decodeEmbedding(buf []byte, dimension int) ([]float64, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension: %d", dimension)
	}
	if len(buf) != dimension*8 {
		return nil, fmt.Errorf("embedding size mismatch: expected %d bytes, got %d", dimension*8, len(buf))
	}

	embedding := make([]float64, dimension)
	for i := 0; i < dimension; i++ {
		embedding[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return embedding, nil
}

// scanEntityWithEmbedding decodes one row in entityColumns order followed
// by the raw embedding columns. The embedding itself is decoded by the
// caller so it can decide how to handle corrupt blobs.
func scanEntityWithEmbedding(row rowScanner) (*types.Entity, []byte, int, error) {
	var e types.Entity
	var et, sourceAPI string
	var rawJSON string
	var indexedJSON, docKey, docName, docSource sql.NullString
	var blob []byte
	var dim sql.NullInt64

	err := row.Scan(
		&et,
		&e.Slug,
		&e.Name,
		&rawJSON,
		&indexedJSON,
		&docKey,
		&docName,
		&docSource,
		&sourceAPI,
		&e.CreatedAt,
		&e.UpdatedAt,
		&blob,
		&dim,
	)
	if err != nil {
		return nil, nil, 0, err
	}

	e.Type = types.EntityType(et)
	e.SourceAPI = types.SourceAPI(sourceAPI)

	if err := decodeJSONFields(&e, rawJSON, indexedJSON); err != nil {
		return nil, nil, 0, err
	}
	if docKey.Valid {
		e.Document.Key = docKey.String
	}
	if docName.Valid {
		e.Document.Name = docName.String
	}
	if docSource.Valid {
		e.Document.Source = docSource.String
	}

	return &e, blob, int(dim.Int64), nil
}
