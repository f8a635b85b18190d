// Package docstore is a document store over a SQL database. Documents are JSON
// objects grouped in collections; writes are grouped into batches that commit
// atomically with optimistic per-document versions.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrConflict      = errors.New("concurrency conflict: version mismatch")
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
	ErrCommitted     = errors.New("batch already committed")
)

// Error is returned for every failed store operation.
type Error struct {
	Op  string
	Ref Ref
	Err error
}

func (e *Error) Error() string {
	if e.Ref.ID != "" {
		return fmt.Sprintf("docstore %s %s: %v", e.Op, e.Ref, e.Err)
	}
	return fmt.Sprintf("docstore %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Ref addresses a single document.
type Ref struct {
	Collection string
	ID         string
}

// NewRef returns a reference to a new document with a generated id.
func NewRef(collection string) Ref {
	return Ref{Collection: collection, ID: uuid.NewString()}
}

func (r Ref) String() string { return r.Collection + "/" + r.ID }

// Document is a stored record as read from the store.
type Document struct {
	Collection string
	ID         string
	Version    int
	Data       json.RawMessage
}

func (d Document) Ref() Ref { return Ref{Collection: d.Collection, ID: d.ID} }

// DataTo decodes the document body into v.
func (d Document) DataTo(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Fields decodes the document body into a generic map. Numbers are kept as
// json.Number so monetary values round-trip exactly.
func (d Document) Fields() (map[string]any, error) {
	return decodeFields(d.Data)
}

func decodeFields(data []byte) (map[string]any, error) {
	fields := map[string]any{}
	if len(data) == 0 {
		return fields, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return fields, nil
}

// Operator is a filter comparison.
type Operator string

const (
	OpEqual       Operator = "=="
	OpIn          Operator = "in"
	OpGreaterThan Operator = ">"
)

// Filter restricts a query to documents whose top-level field matches.
// Documents missing the field never match.
type Filter struct {
	Field    string
	Operator Operator
	Value    any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Operator: OpEqual, Value: value}
}

func In(field string, values ...any) Filter {
	return Filter{Field: field, Operator: OpIn, Value: values}
}

func Gt(field string, value any) Filter {
	return Filter{Field: field, Operator: OpGreaterThan, Value: value}
}

// Query scans one collection in id order starting after the After cursor.
type Query struct {
	Collection string
	Filters    []Filter
	After      string
	Limit      int
}

// Page is one window of a scan. Next is the cursor to pass as Query.After to
// continue; Done reports that the collection is exhausted.
type Page struct {
	Docs []Document
	Next string
	Done bool
}

// WriteKind distinguishes full replacement from field-level updates.
type WriteKind int

const (
	// KindSet replaces (or creates) the whole document.
	KindSet WriteKind = iota
	// KindUpdate merges fields into an existing document.
	KindUpdate
)

// Write is a single mutation queued into a batch.
type Write struct {
	Ref    Ref
	Kind   WriteKind
	Fields map[string]any
	// Version, when non-zero, must equal the stored version at commit time.
	Version int
}

func Set(ref Ref, fields map[string]any) Write {
	return Write{Ref: ref, Kind: KindSet, Fields: fields}
}

func Update(ref Ref, fields map[string]any) Write {
	return Write{Ref: ref, Kind: KindUpdate, Fields: fields}
}

// WithVersion returns a copy of w guarded by an optimistic version check.
func (w Write) WithVersion(version int) Write {
	w.Version = version
	return w
}

// Store is the read/write surface the lifecycle jobs consume.
type Store interface {
	Query(ctx context.Context, q Query) (*Page, error)
	Get(ctx context.Context, ref Ref) (*Document, error)
	// Lookup returns the ids of documents in collection indexed under key.
	Lookup(ctx context.Context, collection, key string) ([]string, error)
	NewBatch() Batch
	MaxBatchSize() int
}

// Batch groups writes that commit atomically: all apply or none do.
type Batch interface {
	Add(w Write)
	Len() int
	Commit(ctx context.Context) error
}

// IndexFunc derives reverse-index keys from a document body. It is evaluated
// on every write to its collection, inside the writing transaction.
type IndexFunc func(fields map[string]any) []string
