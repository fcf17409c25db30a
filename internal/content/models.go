package content

import (
	"errors"
	"time"
)

// Post statuses understood by the store. Trashed posts are invisible to every
// query except GetPost.
const (
	StatusPublish     = "publish"
	StatusUnpublished = "unpublished"
	StatusTrash       = "trash"
)

var (
	ErrNotFound     = errors.New("content: not found")
	ErrInvalidQuery = errors.New("content: invalid query")
)

// User is an account that can author posts.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Post is a typed content record with free-form string metadata.
type Post struct {
	ID         int64             `json:"id"`
	Type       string            `json:"type"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Status     string            `json:"status"`
	AuthorID   int64             `json:"author_id"`
	CreatedAt  time.Time         `json:"created_at"`
	ModifiedAt time.Time         `json:"modified_at"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// PostUpdate lists the fields Update overwrites. Nil/empty fields are left alone.
type PostUpdate struct {
	Title *string
	Meta  map[string]string
}

// Compare is a comparison operator for meta range queries.
type Compare string

const (
	OpEqual        Compare = "="
	OpNotEqual     Compare = "!="
	OpLess         Compare = "<"
	OpLessEqual    Compare = "<="
	OpGreater      Compare = ">"
	OpGreaterEqual Compare = ">="
)

func (c Compare) valid() bool {
	switch c {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

// TypeHint tells FindByMetaRange how to interpret stored values.
type TypeHint string

const (
	// HintChar compares values as plain strings.
	HintChar TypeHint = "CHAR"
	// HintNumeric casts both sides to numbers.
	HintNumeric TypeHint = "NUMERIC"
	// HintDateTime parses both sides as calendar date-times; values that do
	// not parse never match.
	HintDateTime TypeHint = "DATETIME"
)
