// Package recordstore is the I/O boundary to the hosted relational store:
// generic read/insert/update/delete over named collections plus a change
// subscription. It holds no business rules beyond the constraints declared
// in each collection's Schema.
package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"academy/internal/apperr"
	"academy/internal/feed"
	"academy/internal/logger"
)

// Collection names a logical table.
type Collection string

const (
	Students      Collection = "students"
	Attendance    Collection = "attendance"
	FeeRecords    Collection = "fee_records"
	PaymentOrders Collection = "payment_orders"
	Applications  Collection = "applications"
)

// Filter matches rows whose columns equal the given values. A nil value
// matches NULL.
type Filter map[string]any

// Patch sets columns on an existing row. A nil value sets NULL.
type Patch map[string]any

// Store is the record store contract.
type Store interface {
	Read(ctx context.Context, c Collection, f Filter) ([]json.RawMessage, error)
	Insert(ctx context.Context, c Collection, record any) (json.RawMessage, error)
	Update(ctx context.Context, c Collection, id string, p Patch) (json.RawMessage, error)
	Delete(ctx context.Context, c Collection, id string) error
	Subscribe(ctx context.Context, c Collection) (*feed.Subscription, error)
}

// Reference is a foreign key from Column to the id of Collection.
type Reference struct {
	Column     string
	Collection Collection
}

// Schema declares the columns and constraints of a collection.
type Schema struct {
	Collection Collection
	Columns    []string
	// Stamped columns are set to the current time when missing on insert.
	Stamped []string
	// Touched columns are set to the current time on every update.
	Touched    []string
	Unique     [][]string
	References []Reference
	OrderBy    string
}

func (s Schema) hasColumn(name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return false
}

var schemas = map[Collection]Schema{
	Students: {
		Collection: Students,
		Columns:    []string{"id", "name", "email", "phone", "course", "fee", "profile_picture", "joined_at"},
		Stamped:    []string{"joined_at"},
		Unique:     [][]string{{"email"}},
		OrderBy:    "joined_at",
	},
	Attendance: {
		Collection: Attendance,
		Columns:    []string{"id", "student_id", "date", "timing", "status", "session_name", "created_at"},
		Stamped:    []string{"created_at"},
		Unique:     [][]string{{"date", "timing", "student_id"}},
		References: []Reference{{Column: "student_id", Collection: Students}},
		OrderBy:    "created_at",
	},
	FeeRecords: {
		Collection: FeeRecords,
		Columns:    []string{"id", "student_id", "amount", "status", "payment_id", "order_id", "created_at"},
		Stamped:    []string{"created_at"},
		Unique:     [][]string{{"payment_id"}},
		References: []Reference{{Column: "student_id", Collection: Students}, {Column: "order_id", Collection: PaymentOrders}},
		OrderBy:    "created_at",
	},
	PaymentOrders: {
		Collection: PaymentOrders,
		Columns:    []string{"id", "student_id", "amount", "currency", "receipt", "status", "payment_id", "created_at", "updated_at"},
		Stamped:    []string{"created_at", "updated_at"},
		Touched:    []string{"updated_at"},
		References: []Reference{{Column: "student_id", Collection: Students}},
		OrderBy:    "created_at",
	},
	Applications: {
		Collection: Applications,
		Columns:    []string{"id", "name", "email", "phone", "course", "message", "status", "created_at"},
		Stamped:    []string{"created_at"},
		OrderBy:    "created_at",
	},
}

// SchemaFor returns the schema of a known collection.
func SchemaFor(c Collection) (Schema, error) {
	s, ok := schemas[c]
	if !ok {
		return Schema{}, apperr.Validation("recordstore", "unknown collection %q", c)
	}
	return s, nil
}

// Collections lists every known collection.
func Collections() []Collection {
	out := make([]Collection, 0, len(schemas))
	for c := range schemas {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type row map[string]any

// toRow encodes a record into a column map restricted to the schema.
func toRow(s Schema, record any) (row, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, apperr.Validation("recordstore", "encode %s record: %v", s.Collection, err)
	}
	r, err := decodeRow(raw)
	if err != nil {
		return nil, err
	}
	for k := range r {
		if !s.hasColumn(k) {
			delete(r, k)
		}
	}
	return r, nil
}

func decodeRow(raw []byte) (row, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var r row
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return r, nil
}

// prepareInsert assigns an id and timestamps the store owns.
func prepareInsert(s Schema, r row, now time.Time) {
	if isEmpty(r["id"]) {
		r["id"] = uuid.NewString()
	}
	for _, c := range s.Stamped {
		if isEmpty(r[c]) {
			r[c] = now.UTC().Format(time.RFC3339Nano)
		}
	}
}

func validatePatch(s Schema, p Patch) error {
	if len(p) == 0 {
		return apperr.Validation("recordstore", "empty patch")
	}
	for k := range p {
		if k == "id" || !s.hasColumn(k) {
			return apperr.Validation("recordstore", "column %q cannot be patched on %s", k, s.Collection)
		}
	}
	return nil
}

func validateFilter(s Schema, f Filter) error {
	for k := range f {
		if !s.hasColumn(k) {
			return apperr.Validation("recordstore", "unknown column %q on %s", k, s.Collection)
		}
	}
	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == "" || t == "0001-01-01T00:00:00Z"
	}
	return false
}

// scalar normalizes a column value for comparisons.
func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case *string:
		if t == nil {
			return "", false
		}
		return *t, true
	default:
		return fmt.Sprint(t), true
	}
}

// publish announces a committed write. The write stands even when the feed
// fails; the collection's subscribers are then made to reload instead.
func publish(ctx context.Context, f feed.Feed, log *logger.Logger, typ feed.EventType, c Collection, id string, record json.RawMessage) {
	if f == nil {
		return
	}
	evt := feed.Event{Type: typ, Collection: string(c), ID: id, Record: record}
	if err := f.Publish(context.WithoutCancel(ctx), evt); err != nil {
		log.Errorf("publish %s %s %s: %v; invalidating subscribers", typ, c, id, err)
		f.Invalidate(string(c))
	}
}

func notFound(c Collection, id string) error {
	return apperr.NotFound("recordstore", "%s %s not found", c, id)
}
