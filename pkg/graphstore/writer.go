package graphstore

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/lattice-docs/graphrag/pkg/logger"
)

// WriteResult reports how many payloads landed. A transaction failure
// for one document does not abort the batch, so Written may be lower
// than the number of payloads submitted.
type WriteResult struct {
	Written int      `json:"written"`
	Failed  int      `json:"failed,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func termParams(terms []Term) []map[string]any {
	out := make([]map[string]any, 0, len(terms))
	for _, t := range terms {
		out = append(out, map[string]any{"name": t.Name, "slug": t.Slug})
	}
	return out
}

func chunkParams(chunks []ChunkNode) []map[string]any {
	out := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, map[string]any{
			"id":     c.ID,
			"doc_id": c.DocID,
			"order":  c.Order,
			"text":   c.Text,
		})
	}
	return out
}

func entityParams(entities []*Entity) []map[string]any {
	out := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if e == nil || e.Name == "" {
			continue
		}
		out = append(out, map[string]any{
			"name":        e.Name,
			"type":        e.Type,
			"salience":    e.Salience,
			"description": e.Description,
			"summary":     e.Summary,
			"source":      e.Source,
			"url":         e.URL,
		})
	}
	return out
}

func refParams(ref *EntityRef) map[string]any {
	if ref == nil {
		return nil
	}
	return map[string]any{"name": ref.Name, "type": ref.Type}
}

func relationshipParams(relationships []*Relationship) []map[string]any {
	out := make([]map[string]any, 0, len(relationships))
	for _, r := range relationships {
		if r == nil || r.Source == nil || r.Target == nil {
			continue
		}
		relType := r.Type
		if relType == "" {
			relType = "RELATED"
		}
		out = append(out, map[string]any{
			"source":   refParams(r.Source),
			"target":   refParams(r.Target),
			"type":     relType,
			"weight":   r.Weight,
			"evidence": r.Evidence,
		})
	}
	return out
}

func mentionParams(mentions []*Mention) []map[string]any {
	out := make([]map[string]any, 0, len(mentions))
	for _, m := range mentions {
		if m == nil || m.ChunkID == "" || m.Entity.Name == "" {
			continue
		}
		out = append(out, map[string]any{
			"chunk_id":   m.ChunkID,
			"entity":     refParams(&m.Entity),
			"confidence": m.Confidence,
			"snippet":    m.Snippet,
		})
	}
	return out
}

func rootParams(roots []*DocEntityRoot) []map[string]any {
	out := make([]map[string]any, 0, len(roots))
	for _, r := range roots {
		if r == nil || r.Name == "" {
			continue
		}
		out = append(out, map[string]any{"name": r.Name, "type": r.Type})
	}
	return out
}

func runUpsert(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) error {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func writePayload(ctx context.Context, tx neo4j.ManagedTransaction, payload *Payload) error {
	if err := runUpsert(ctx, tx,
		`MERGE (d:Doc {id: $doc.id})
		 SET d.title = $doc.title,
		     d.description = $doc.description,
		     d.locale = $doc.locale,
		     d.updated_at = $doc.updated_at,
		     d.source_path = $doc.source_path,
		     d.hash = $doc.hash`,
		map[string]any{"doc": map[string]any{
			"id":          payload.Doc.ID,
			"title":       payload.Doc.Title,
			"description": payload.Doc.Description,
			"locale":      payload.Doc.Locale,
			"updated_at":  payload.Doc.UpdatedAt,
			"source_path": payload.Doc.SourcePath,
			"hash":        payload.Doc.Hash,
		}},
	); err != nil {
		return err
	}

	if categories := termParams(payload.Categories); len(categories) > 0 {
		if err := runUpsert(ctx, tx,
			`MATCH (d:Doc {id: $docId})
			 UNWIND $categories AS category
			 MERGE (c:Category {name: category.name})
			 SET c.slug = category.slug
			 MERGE (d)-[:IN_CATEGORY]->(c)`,
			map[string]any{"docId": payload.Doc.ID, "categories": categories},
		); err != nil {
			return err
		}
	}

	if tags := termParams(payload.Tags); len(tags) > 0 {
		if err := runUpsert(ctx, tx,
			`MATCH (d:Doc {id: $docId})
			 UNWIND $tags AS tag
			 MERGE (t:Tag {name: tag.name})
			 SET t.slug = tag.slug
			 MERGE (d)-[:HAS_TAG]->(t)`,
			map[string]any{"docId": payload.Doc.ID, "tags": tags},
		); err != nil {
			return err
		}
	}

	if chunks := chunkParams(payload.Chunks); len(chunks) > 0 {
		if err := runUpsert(ctx, tx,
			`MATCH (d:Doc {id: $docId})
			 UNWIND $chunks AS chunk
			 MERGE (c:Chunk {id: chunk.id})
			 SET c.order = chunk.order,
			     c.text = chunk.text,
			     c.doc_id = chunk.doc_id
			 MERGE (c)-[:PART_OF]->(d)`,
			map[string]any{"docId": payload.Doc.ID, "chunks": chunks},
		); err != nil {
			return err
		}
	}

	if entities := entityParams(payload.Entities); len(entities) > 0 {
		if err := runUpsert(ctx, tx,
			`UNWIND $entities AS entity
			 MERGE (e:Entity {type: entity.type, name: entity.name})
			 SET e.salience = entity.salience,
			     e.description = entity.description,
			     e.summary = entity.summary,
			     e.source = entity.source,
			     e.url = entity.url`,
			map[string]any{"entities": entities},
		); err != nil {
			return err
		}
	}

	if mentions := mentionParams(payload.Mentions); len(mentions) > 0 {
		if err := runUpsert(ctx, tx,
			`UNWIND $mentions AS mention
			 MATCH (chunk:Chunk {id: mention.chunk_id})
			 MERGE (entity:Entity {type: mention.entity.type, name: mention.entity.name})
			 MERGE (chunk)-[rel:MENTIONS]->(entity)
			 SET rel.confidence = mention.confidence,
			     rel.snippet = mention.snippet`,
			map[string]any{"mentions": mentions},
		); err != nil {
			return err
		}
	}

	if relationships := relationshipParams(payload.Relationships); len(relationships) > 0 {
		if err := runUpsert(ctx, tx,
			`UNWIND $relationships AS rel
			 MERGE (src:Entity {type: rel.source.type, name: rel.source.name})
			 MERGE (dst:Entity {type: rel.target.type, name: rel.target.name})
			 MERGE (src)-[edge:RELATED {relation: rel.type}]->(dst)
			 SET edge.weight = rel.weight,
			     edge.evidence = rel.evidence`,
			map[string]any{"relationships": relationships},
		); err != nil {
			return err
		}
	}

	if roots := rootParams(payload.DocEntityRoots); len(roots) > 0 {
		if err := runUpsert(ctx, tx,
			`MATCH (d:Doc {id: $docId})
			 UNWIND $roots AS root
			 MERGE (e:Entity {type: root.type, name: root.name})
			 MERGE (d)-[:HAS_ENTITY]->(e)`,
			map[string]any{"docId": payload.Doc.ID, "roots": roots},
		); err != nil {
			return err
		}
	}

	return nil
}

// WriteBatch upserts payloads into the graph, one transaction per
// document. A failed document is logged and counted without aborting
// the rest of the batch.
func WriteBatch(ctx context.Context, client *Client, payloads []*Payload) (WriteResult, error) {
	result := WriteResult{}
	if len(payloads) == 0 {
		return result, nil
	}

	session := client.writeSession(ctx)
	defer session.Close(ctx)

	for _, payload := range payloads {
		payload := payload
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return nil, writePayload(ctx, tx, payload)
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, payload.Doc.ID+": "+err.Error())
			logger.Warn("Graph write failed for document", "doc", payload.Doc.ID, "error", err)
			continue
		}
		result.Written++
	}

	return result, nil
}
