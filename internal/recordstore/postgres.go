package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"academy/internal/apperr"
	"academy/internal/feed"
	"academy/internal/logger"
)

// Postgres-specific SQLSTATE codes.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Postgres is the Store backed by the academy tables. Rows are projected
// with row_to_json so the column names stay the JSON field names.
type Postgres struct {
	db   *sql.DB
	feed feed.Feed
	log  *logger.Logger
}

// NewPostgres wraps an open pool. Writes are published to f after commit.
func NewPostgres(db *sql.DB, f feed.Feed) *Postgres {
	return &Postgres{db: db, feed: f, log: logger.Discard()}
}

// SetLogger sets where feed failures are reported.
func (p *Postgres) SetLogger(l *logger.Logger) { p.log = l.Named("recordstore") }

// Read returns the matching rows ordered by the collection's OrderBy column.
func (p *Postgres) Read(ctx context.Context, c Collection, f Filter) ([]json.RawMessage, error) {
	s, err := SchemaFor(c)
	if err != nil {
		return nil, err
	}
	if err := validateFilter(s, f); err != nil {
		return nil, err
	}

	query := "SELECT row_to_json(t) FROM " + string(c) + " t"
	args := []any{}
	clauses := []string{}
	for _, col := range sortedKeys(f) {
		if _, ok := scalar(f[col]); !ok {
			clauses = append(clauses, col+" IS NULL")
			continue
		}
		arg, err := sqlArg(f[col])
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY " + s.OrderBy + ", id"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("recordstore.read", c, err)
	}
	defer rows.Close()
	var out []json.RawMessage
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, mapError("recordstore.read", c, err)
		}
		out = append(out, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("recordstore.read", c, err)
	}
	return out, nil
}

// Insert writes a new row and returns it as stored.
func (p *Postgres) Insert(ctx context.Context, c Collection, record any) (json.RawMessage, error) {
	s, err := SchemaFor(c)
	if err != nil {
		return nil, err
	}
	r, err := toRow(s, record)
	if err != nil {
		return nil, err
	}
	prepareInsert(s, r, time.Now())

	cols := sortedKeys(r)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if args[i], err = sqlArg(r[col]); err != nil {
			return nil, err
		}
	}
	query := fmt.Sprintf("INSERT INTO %s AS r (%s) VALUES (%s) RETURNING row_to_json(r)",
		c, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	var raw []byte
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		return nil, mapError("recordstore.insert", c, err)
	}
	id, _ := scalar(r["id"])
	publish(ctx, p.feed, p.log, feed.Insert, c, id, raw)
	return raw, nil
}

// Update patches the row with the given id.
func (p *Postgres) Update(ctx context.Context, c Collection, id string, patch Patch) (json.RawMessage, error) {
	s, err := SchemaFor(c)
	if err != nil {
		return nil, err
	}
	if err := validatePatch(s, patch); err != nil {
		return nil, err
	}
	r, err := toRow(s, map[string]any(patch))
	if err != nil {
		return nil, err
	}

	sets := []string{}
	args := []any{}
	for _, col := range sortedKeys(r) {
		arg, err := sqlArg(r[col])
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	for _, col := range s.Touched {
		if _, set := r[col]; !set {
			sets = append(sets, col+" = NOW()")
		}
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s AS r SET %s WHERE id = $%d RETURNING row_to_json(r)",
		c, strings.Join(sets, ", "), len(args))

	var raw []byte
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("recordstore.update", "%s %s not found", c, id)
		}
		return nil, mapError("recordstore.update", c, err)
	}
	publish(ctx, p.feed, p.log, feed.Update, c, id, raw)
	return raw, nil
}

// Delete removes the row with the given id.
func (p *Postgres) Delete(ctx context.Context, c Collection, id string) error {
	if _, err := SchemaFor(c); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s AS r WHERE id = $1 RETURNING row_to_json(r)", c)
	var raw []byte
	if err := p.db.QueryRowContext(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("recordstore.delete", "%s %s not found", c, id)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return apperr.Conflict("recordstore.delete", "%s %s is still referenced", c, id)
		}
		return mapError("recordstore.delete", c, err)
	}
	publish(ctx, p.feed, p.log, feed.Delete, c, id, raw)
	return nil
}

// Subscribe opens a change subscription on the shared feed.
func (p *Postgres) Subscribe(ctx context.Context, c Collection) (*feed.Subscription, error) {
	if _, err := SchemaFor(c); err != nil {
		return nil, err
	}
	return p.feed.Subscribe(ctx, string(c))
}

func mapError(op string, c Collection, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return apperr.Conflict(op, "duplicate %s on %s", pgErr.ConstraintName, c)
		case foreignKeyViolation:
			return apperr.NotFound(op, "referenced record missing for %s (%s)", c, pgErr.ConstraintName)
		}
		if strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23") {
			return apperr.Validation(op, "%s rejected by %s: %s", c, pgErr.ConstraintName, pgErr.Message)
		}
	}
	return apperr.Upstream(op, err)
}

// sqlArg converts a decoded JSON value into a database/sql argument.
func sqlArg(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, int, int64, float64, time.Time:
		return t, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	case *string:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	case map[string]any, []any:
		return json.Marshal(t)
	default:
		return fmt.Sprint(t), nil
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
