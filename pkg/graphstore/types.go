// Package graphstore persists document knowledge graphs to Neo4j and
// defines the payload model shared by ingestion and retrieval.
package graphstore

// DocNode is the document-level node written to the graph.
type DocNode struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Locale      string `json:"locale,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	SourcePath  string `json:"source_path"`
	Hash        string `json:"hash"`
}

// Term is a category or tag attached to a document.
type Term struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ChunkNode is an ordered slice of document text.
type ChunkNode struct {
	ID    string `json:"id"`
	DocID string `json:"doc_id"`
	Order int    `json:"order"`
	Text  string `json:"text"`
}

// EntityRef points at an entity by name and type, as used on
// relationship endpoints and mentions.
type EntityRef struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	Type       string         `json:"type,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Entity is a canonical extracted entity.
type Entity struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Salience    float64        `json:"salience,omitempty"`
	Description string         `json:"description,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Source      string         `json:"source,omitempty"`
	URL         string         `json:"url,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Relationship is a typed edge between two entities.
type Relationship struct {
	Source     *EntityRef     `json:"source"`
	Target     *EntityRef     `json:"target"`
	Type       string         `json:"type,omitempty"`
	Weight     float64        `json:"weight,omitempty"`
	Evidence   string         `json:"evidence,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Mention links a chunk to an entity it references.
type Mention struct {
	ChunkID    string    `json:"chunk_id"`
	Entity     EntityRef `json:"entity"`
	Confidence float64   `json:"confidence,omitempty"`
	Snippet    string    `json:"snippet,omitempty"`
}

// DocEntityRoot is a document-level core entity snapshot used to build
// Doc -> Entity edges.
type DocEntityRoot struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Key  string `json:"key,omitempty"`
}

// Diagnostic carries non-fatal notes from extraction.
type Diagnostic struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Aggregation is the result of entity extraction for one document,
// before normalization.
type Aggregation struct {
	Entities       []*Entity        `json:"entities"`
	Relationships  []*Relationship  `json:"relationships"`
	Mentions       []*Mention       `json:"mentions"`
	DocEntityRoots []*DocEntityRoot `json:"doc_entity_roots"`
	Diagnostics    []Diagnostic     `json:"diagnostics,omitempty"`
}

// Payload is the unit of graph write, one per document. A payload is
// written in a single transaction so a document is either fully present
// or untouched.
type Payload struct {
	Doc            DocNode          `json:"doc"`
	Categories     []Term           `json:"categories"`
	Tags           []Term           `json:"tags"`
	Chunks         []ChunkNode      `json:"chunks"`
	Entities       []*Entity        `json:"entities"`
	Relationships  []*Relationship  `json:"relationships"`
	Mentions       []*Mention       `json:"mentions"`
	DocEntityRoots []*DocEntityRoot `json:"doc_entity_roots"`
	Diagnostics    []Diagnostic     `json:"diagnostics,omitempty"`
}
