package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before it is executed.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

type Operator string

const (
	Equal          Operator = "="
	NotEqual       Operator = "<>"
	LessThan       Operator = "<"
	LessOrEqual    Operator = "<="
	GreaterThan    Operator = ">"
	GreaterOrEqual Operator = ">="
	In             Operator = "IN"
	IsNull         Operator = "IS NULL"
)

// ApplyOperator adds a `column op value` predicate.
func ApplyOperator(column string, op Operator, value any) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		switch op {
		case IsNull:
			return db.Where(fmt.Sprintf("%s IS NULL", column))
		case In:
			return db.Where(fmt.Sprintf("%s IN ?", column), value)
		default:
			return db.Where(fmt.Sprintf("%s %s ?", column, op), value)
		}
	})
}

// Where adds a raw predicate.
func Where(query string, args ...any) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}

type SortDirection string

const (
	Asc  SortDirection = "ASC"
	Desc SortDirection = "DESC"
)

// WithSortBy orders by column. Unknown directions fall back to ascending.
func WithSortBy(column string, direction SortDirection) QueryOption {
	dir := Asc
	if strings.EqualFold(string(direction), string(Desc)) {
		dir = Desc
	}
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Order(fmt.Sprintf("%s %s", column, dir))
	})
}

func WithLimit(limit int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}

// ApplyPagination fetches one extra row so callers can detect a next page.
func ApplyPagination(pageSize int) QueryOption {
	return WithLimit(pageSize + 1)
}
