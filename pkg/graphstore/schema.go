package graphstore

import (
	"context"

	"github.com/lattice-docs/graphrag/pkg/logger"
)

// UniqueConstraints define node identity: Doc and Chunk by id, Entity
// by the (type, name) pair, Category and Tag by name.
var UniqueConstraints = []string{
	`CREATE CONSTRAINT doc_id_unique IF NOT EXISTS
	 FOR (d:Doc)
	 REQUIRE d.id IS UNIQUE`,
	`CREATE CONSTRAINT chunk_id_unique IF NOT EXISTS
	 FOR (c:Chunk)
	 REQUIRE c.id IS UNIQUE`,
	`CREATE CONSTRAINT entity_identity_unique IF NOT EXISTS
	 FOR (e:Entity)
	 REQUIRE (e.type, e.name) IS UNIQUE`,
	`CREATE CONSTRAINT category_name_unique IF NOT EXISTS
	 FOR (c:Category)
	 REQUIRE c.name IS UNIQUE`,
	`CREATE CONSTRAINT tag_name_unique IF NOT EXISTS
	 FOR (t:Tag)
	 REQUIRE t.name IS UNIQUE`,
	`CREATE CONSTRAINT community_id_unique IF NOT EXISTS
	 FOR (c:Community)
	 REQUIRE c.short_id IS UNIQUE`,
}

// Indexes cover retrieval sort and filter paths.
var Indexes = []string{
	`CREATE INDEX doc_updated_at_index IF NOT EXISTS
	 FOR (d:Doc)
	 ON (d.updated_at)`,
	`CREATE INDEX entity_salience_index IF NOT EXISTS
	 FOR (e:Entity)
	 ON (e.salience)`,
	`CREATE INDEX chunk_text_index IF NOT EXISTS
	 FOR (c:Chunk)
	 ON (c.text)`,
	`CREATE INDEX tag_slug_index IF NOT EXISTS
	 FOR (t:Tag)
	 ON (t.slug)`,
}

// CleanupStatements remove all graph content and schema objects, in
// order. Intended for tooling and test databases only.
var CleanupStatements = []string{
	`MATCH (n)
	 WHERE any(label IN labels(n) WHERE label IN ["Doc","Chunk","Entity","Tag","Category","Community"])
	 CALL { WITH n DETACH DELETE n }
	 RETURN count(*) AS removed_nodes`,
	`DROP CONSTRAINT doc_id_unique IF EXISTS`,
	`DROP CONSTRAINT chunk_id_unique IF EXISTS`,
	`DROP CONSTRAINT entity_identity_unique IF EXISTS`,
	`DROP CONSTRAINT category_name_unique IF EXISTS`,
	`DROP CONSTRAINT tag_name_unique IF EXISTS`,
	`DROP CONSTRAINT community_id_unique IF EXISTS`,
	`DROP INDEX doc_updated_at_index IF EXISTS`,
	`DROP INDEX entity_salience_index IF EXISTS`,
	`DROP INDEX chunk_text_index IF EXISTS`,
	`DROP INDEX tag_slug_index IF EXISTS`,
}

func runStatements(ctx context.Context, client *Client, statements []string) error {
	session := client.writeSession(ctx)
	defer session.Close(ctx)

	for _, statement := range statements {
		res, err := session.Run(ctx, statement, nil)
		if err != nil {
			return err
		}
		if _, err := res.Consume(ctx); err != nil {
			return err
		}
		logger.Debug("Schema statement applied", "statement", statement)
	}
	return nil
}

// EnsureSchema creates all constraints and indexes idempotently.
func EnsureSchema(ctx context.Context, client *Client) error {
	if err := runStatements(ctx, client, UniqueConstraints); err != nil {
		return err
	}
	return runStatements(ctx, client, Indexes)
}

// Cleanup drops all graph content, constraints and indexes.
func Cleanup(ctx context.Context, client *Client) error {
	return runStatements(ctx, client, CleanupStatements)
}
