// internal/core/repository.go
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Query selects records from a collection. All populated parts are AND-ed.
// Field names are the JSON names of the model.
type Query struct {
	// Equals matches fields by equality.
	Equals map[string]interface{}
	// Contains matches string fields by case-insensitive substring.
	Contains map[string]string
	// Prefix matches string fields by case-insensitive prefix.
	Prefix map[string]string
	// Search is matched as a case-insensitive substring against any of
	// SearchFields.
	Search       string
	SearchFields []string
	Limit        int
}

// DataStore is the entity store: one collection per persisted model.
type DataStore interface {
	Certificates() *Collection[PurchaseCertificate]
	Reports() *Collection[StolenDeviceReport]
	Users() *Collection[AppUser]

	// Ping checks that the underlying database answers.
	Ping(ctx context.Context) error

	// WithTransaction runs fn against a store bound to one transaction.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx DataStore) error) error
}

// Collection is a typed view over one table.
type Collection[T any] struct {
	db      *gorm.DB
	table   string
	columns map[string]string
	// writeOnly holds fields hidden from JSON. They can be updated but
	// never filtered or sorted on.
	writeOnly map[string]string
}

type dataStore struct {
	db           *gorm.DB
	certificates *Collection[PurchaseCertificate]
	reports      *Collection[StolenDeviceReport]
	users        *Collection[AppUser]
}

var schemaCache sync.Map

// NewDataStore builds the entity store on top of db.
func NewDataStore(db *gorm.DB) (DataStore, error) {
	certs, err := newCollection[PurchaseCertificate](db)
	if err != nil {
		return nil, err
	}
	reports, err := newCollection[StolenDeviceReport](db)
	if err != nil {
		return nil, err
	}
	users, err := newCollection[AppUser](db)
	if err != nil {
		return nil, err
	}
	return &dataStore{db: db, certificates: certs, reports: reports, users: users}, nil
}

// Models lists every persisted model, in migration order.
func Models() []interface{} {
	return []interface{}{&AppUser{}, &PurchaseCertificate{}, &StolenDeviceReport{}}
}

func newCollection[T any](db *gorm.DB) (*Collection[T], error) {
	s, err := schema.Parse(new(T), &schemaCache, db.NamingStrategy)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	columns := make(map[string]string, len(s.Fields))
	writeOnly := map[string]string{}
	for _, f := range s.Fields {
		if f.DBName == "" {
			continue
		}
		name := strings.Split(f.Tag.Get("json"), ",")[0]
		switch name {
		case "":
			continue
		case "-":
			writeOnly[strings.ToLower(f.Name[:1])+f.Name[1:]] = f.DBName
		default:
			columns[name] = f.DBName
		}
	}
	return &Collection[T]{db: db, table: s.Table, columns: columns, writeOnly: writeOnly}, nil
}

func (c *Collection[T]) withDB(db *gorm.DB) *Collection[T] {
	return &Collection[T]{db: db, table: c.table, columns: c.columns, writeOnly: c.writeOnly}
}

func (s *dataStore) Certificates() *Collection[PurchaseCertificate] { return s.certificates }
func (s *dataStore) Reports() *Collection[StolenDeviceReport]      { return s.reports }
func (s *dataStore) Users() *Collection[AppUser]                   { return s.users }

func (s *dataStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *dataStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx DataStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txStore := &dataStore{
			db:           tx,
			certificates: s.certificates.withDB(tx),
			reports:      s.reports.withDB(tx),
			users:        s.users.withDB(tx),
		}
		return fn(ctx, txStore)
	})
}

// List returns records ordered by sortSpec ("field" or "-field"). A limit
// of zero or less returns everything.
func (c *Collection[T]) List(ctx context.Context, sortSpec string, limit int) ([]T, error) {
	return c.Filter(ctx, Query{Limit: limit}, sortSpec)
}

// Filter returns the records matching q, ordered by sortSpec.
func (c *Collection[T]) Filter(ctx context.Context, q Query, sortSpec string) ([]T, error) {
	tx, err := c.apply(c.db.WithContext(ctx).Model(new(T)), q)
	if err != nil {
		return nil, err
	}
	if sortSpec != "" {
		order, err := c.order(sortSpec)
		if err != nil {
			return nil, err
		}
		tx = tx.Order(order)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var out []T
	if err := tx.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.table, err)
	}
	return out, nil
}

// First returns the first record matching q, or nil when nothing matches.
func (c *Collection[T]) First(ctx context.Context, q Query, sortSpec string) (*T, error) {
	q.Limit = 1
	rows, err := c.Filter(ctx, q, sortSpec)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// Get returns the record with the given ID, or nil when it does not exist.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	var out T
	err := c.db.WithContext(ctx).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", c.table, id, err)
	}
	return &out, nil
}

// Create inserts record. The ID is assigned by the model's create hook.
func (c *Collection[T]) Create(ctx context.Context, record *T) error {
	if err := c.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create %s: %w", c.table, err)
	}
	return nil
}

// Update sets the given fields on the record with the given ID.
func (c *Collection[T]) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	values := make(map[string]interface{}, len(fields))
	for name, v := range fields {
		col, ok := c.writeOnly[name]
		if !ok {
			var err error
			if col, err = c.column(name); err != nil {
				return err
			}
		}
		values[col] = v
	}

	res := c.db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("failed to update %s %s: %w", c.table, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to update %s %s: %w", c.table, id, gorm.ErrRecordNotFound)
	}
	return nil
}

// CountBy returns the number of records per distinct value of field.
func (c *Collection[T]) CountBy(ctx context.Context, field string) (map[string]int64, error) {
	col, err := c.column(field)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Value string
		Total int64
	}
	err = c.db.WithContext(ctx).Model(new(T)).
		Select(col + " AS value, COUNT(*) AS total").
		Group(col).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Value] = r.Total
	}
	return counts, nil
}

func (c *Collection[T]) column(field string) (string, error) {
	col, ok := c.columns[field]
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrInvalidQuery, c.table, field)
	}
	return col, nil
}

func (c *Collection[T]) order(sortSpec string) (string, error) {
	dir := "ASC"
	field := sortSpec
	if strings.HasPrefix(sortSpec, "-") {
		dir = "DESC"
		field = sortSpec[1:]
	}
	col, err := c.column(field)
	if err != nil {
		return "", err
	}
	return col + " " + dir, nil
}

func (c *Collection[T]) apply(tx *gorm.DB, q Query) (*gorm.DB, error) {
	for _, name := range sortedKeys(q.Equals) {
		col, err := c.column(name)
		if err != nil {
			return nil, err
		}
		tx = tx.Where(col+" = ?", q.Equals[name])
	}
	for _, name := range sortedKeys(q.Contains) {
		col, err := c.column(name)
		if err != nil {
			return nil, err
		}
		tx = tx.Where("LOWER("+col+") LIKE ? ESCAPE '\\'", "%"+likeEscape(q.Contains[name])+"%")
	}
	for _, name := range sortedKeys(q.Prefix) {
		col, err := c.column(name)
		if err != nil {
			return nil, err
		}
		tx = tx.Where("LOWER("+col+") LIKE ? ESCAPE '\\'", likeEscape(q.Prefix[name])+"%")
	}

	if q.Search != "" && len(q.SearchFields) > 0 {
		pattern := "%" + likeEscape(q.Search) + "%"
		clauses := make([]string, 0, len(q.SearchFields))
		args := make([]interface{}, 0, len(q.SearchFields))
		for _, name := range q.SearchFields {
			col, err := c.column(name)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, "LOWER("+col+") LIKE ? ESCAPE '\\'")
			args = append(args, pattern)
		}
		tx = tx.Where("("+strings.Join(clauses, " OR ")+")", args...)
	}
	return tx, nil
}

func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(strings.ToLower(s))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
