// Package pgstore serves table operations from a self-hosted Postgres that carries
// the same schema as the hosted project. Row changes are fanned out over Redis.
package pgstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements remote.DataClient over gorm
type Store struct {
	db     *gorm.DB
	rdb    *redis.Client
	now    func() time.Time
	tables map[string]reflect.Type
}

// New creates a Store; rdb may be nil, in which case Subscribe is unavailable
func New(db *gorm.DB, rdb *redis.Client) *Store {
	return &Store{
		db:  db,
		rdb: rdb,
		now: time.Now,
		tables: map[string]reflect.Type{
			model.TableAppUser:     reflect.TypeOf(model.AppUser{}),
			model.TableDevice:      reflect.TypeOf(model.Device{}),
			model.TableMeasurement: reflect.TypeOf(model.Measurement{}),
		},
	}
}

// Models lists the row types for AutoMigrate
func Models() []interface{} {
	return []interface{}{&model.AppUser{}, &model.Device{}, &model.Measurement{}}
}

func (s *Store) rowType(table string) (reflect.Type, error) {
	t, ok := s.tables[table]
	if !ok {
		return nil, &remote.Error{Status: http.StatusNotFound, Code: "42P01", Message: fmt.Sprintf("relation %q does not exist", table)}
	}
	return t, nil
}

// conditions translates filters into quoted column comparisons
func conditions(q remote.Query) []clause.Expression {
	exprs := make([]clause.Expression, 0, len(q.Filters))
	for _, f := range q.Filters {
		col := clause.Column{Name: f.Column}
		switch f.Op {
		case remote.OpEq:
			exprs = append(exprs, clause.Eq{Column: col, Value: f.Value})
		case remote.OpGt:
			exprs = append(exprs, clause.Gt{Column: col, Value: f.Value})
		case remote.OpGte:
			exprs = append(exprs, clause.Gte{Column: col, Value: f.Value})
		case remote.OpLt:
			exprs = append(exprs, clause.Lt{Column: col, Value: f.Value})
		case remote.OpLte:
			exprs = append(exprs, clause.Lte{Column: col, Value: f.Value})
		}
	}
	return exprs
}

func (s *Store) scope(ctx context.Context, q remote.Query) *gorm.DB {
	tx := s.db.WithContext(ctx)
	if exprs := conditions(q); len(exprs) > 0 {
		tx = tx.Clauses(clause.Where{Exprs: exprs})
	}
	return tx
}

// find loads the rows matched by q into a fresh *[]T
func (s *Store) find(ctx context.Context, q remote.Query) (reflect.Value, error) {
	t, err := s.rowType(q.Table)
	if err != nil {
		return reflect.Value{}, err
	}
	rows := reflect.New(reflect.SliceOf(t))

	tx := s.scope(ctx, q)
	if q.Order != nil {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: q.Order.Column}, Desc: !q.Order.Ascending})
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if err := tx.Find(rows.Interface()).Error; err != nil {
		return reflect.Value{}, translate(err)
	}
	return rows, nil
}

func (s *Store) Query(ctx context.Context, q remote.Query, dest interface{}) error {
	if err := q.Validate(); err != nil {
		return err
	}
	rows, err := s.find(ctx, q)
	if err != nil {
		return err
	}
	return transcode(rows.Elem().Interface(), dest)
}

func (s *Store) Insert(ctx context.Context, table string, rows interface{}, dest interface{}) error {
	t, err := s.rowType(table)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode rows: %w", err)
	}
	many := len(bytes.TrimSpace(payload)) > 0 && bytes.TrimSpace(payload)[0] == '['
	if !many {
		payload = append(append([]byte{'['}, payload...), ']')
	}

	created := reflect.New(reflect.SliceOf(t))
	if err := json.Unmarshal(payload, created.Interface()); err != nil {
		return &remote.Error{Status: http.StatusBadRequest, Message: err.Error()}
	}
	if created.Elem().Len() == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).Create(created.Interface()).Error; err != nil {
		return translate(err)
	}

	for i := 0; i < created.Elem().Len(); i++ {
		s.publish(ctx, table, remote.ChangeInsert, created.Elem().Index(i).Interface(), nil)
	}

	if dest == nil {
		return nil
	}
	if many {
		return transcode(created.Elem().Interface(), dest)
	}
	return transcode(created.Elem().Index(0).Interface(), dest)
}

func (s *Store) Update(ctx context.Context, q remote.Query, patch map[string]interface{}, dest interface{}) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if len(q.Filters) == 0 {
		return &remote.Error{Status: http.StatusBadRequest, Code: "21000", Message: "UPDATE requires a WHERE clause"}
	}
	t, err := s.rowType(q.Table)
	if err != nil {
		return err
	}

	values := make(map[string]interface{}, len(patch)+1)
	for k, v := range patch {
		values[k] = v
	}
	if _, ok := t.FieldByName("UpdatedAt"); ok {
		values["updated_at"] = s.now().UTC()
	}

	if err := s.scope(ctx, q).Model(reflect.New(t).Interface()).Updates(values).Error; err != nil {
		return translate(err)
	}

	// Re-read with the same filters; patched columns may have been part of them
	reread := remote.Query{Table: q.Table, Filters: refilter(q.Filters, values)}
	rows, err := s.find(ctx, reread)
	if err != nil {
		return err
	}
	for i := 0; i < rows.Elem().Len(); i++ {
		s.publish(ctx, q.Table, remote.ChangeUpdate, rows.Elem().Index(i).Interface(), nil)
	}
	if dest == nil {
		return nil
	}
	return transcode(rows.Elem().Interface(), dest)
}

// refilter replaces eq filters whose column was patched with the new value
func refilter(filters []remote.Filter, values map[string]interface{}) []remote.Filter {
	out := make([]remote.Filter, len(filters))
	for i, f := range filters {
		if v, ok := values[f.Column]; ok && f.Op == remote.OpEq {
			f.Value = v
		}
		out[i] = f
	}
	return out
}

func (s *Store) Delete(ctx context.Context, q remote.Query) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if len(q.Filters) == 0 {
		return &remote.Error{Status: http.StatusBadRequest, Code: "21000", Message: "DELETE requires a WHERE clause"}
	}
	t, err := s.rowType(q.Table)
	if err != nil {
		return err
	}

	old, err := s.find(ctx, remote.Query{Table: q.Table, Filters: q.Filters})
	if err != nil {
		return err
	}
	if err := s.scope(ctx, q).Delete(reflect.New(t).Interface()).Error; err != nil {
		return translate(err)
	}
	for i := 0; i < old.Elem().Len(); i++ {
		s.publish(ctx, q.Table, remote.ChangeDelete, nil, old.Elem().Index(i).Interface())
	}
	return nil
}

// transcode copies src into dest through JSON, the shape every backend shares
func transcode(src, dest interface{}) error {
	if dest == nil {
		return nil
	}
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &remote.Error{Status: http.StatusConflict, Code: "23505", Message: err.Error()}
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return &remote.Error{Status: http.StatusConflict, Code: "23503", Message: err.Error()}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return remote.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &remote.Error{Status: http.StatusInternalServerError, Message: err.Error()}
}
