// Package vectorstore searches a langchain-postgres pgvector collection.
package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/tidwall/gjson"

	"github.com/tanpawarit/chative-router/internal/agent/model"
)

const searchQuery = `
	SELECT e.document,
		e.cmetadata,
		1 - (e.embedding <=> $2) AS similarity
	FROM langchain_pg_embedding e
	JOIN langchain_pg_collection c ON c.uuid = e.collection_id
	WHERE c.name = $1
	ORDER BY e.embedding <=> $2
	LIMIT $3
`

// Open connects to Postgres and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("database url is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

type Store struct {
	db         *sql.DB
	collection string
}

func NewStore(db *sql.DB, collection string) *Store {
	return &Store{db: db, collection: collection}
}

// Search returns the k nearest documents by cosine distance, closest first.
func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]model.Document, error) {
	if len(embedding) == 0 {
		return nil, errors.New("embedding is required")
	}
	if k <= 0 {
		k = 10
	}

	rows, err := s.db.QueryContext(ctx, searchQuery, s.collection, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var (
			doc      model.Document
			content  sql.NullString
			metadata []byte
		)
		if err := rows.Scan(&content, &metadata, &doc.Similarity); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Content = content.String
		if len(metadata) > 0 {
			meta := gjson.ParseBytes(metadata)
			doc.Source = meta.Get("source").String()
			doc.Page = int(meta.Get("page").Int())
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}
