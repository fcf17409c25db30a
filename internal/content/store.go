package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store persists posts, their metadata, and authoring users in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore constructs a content data access object.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Init applies schema changes for the users, posts, and post_meta tables.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			post_type TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			author_id INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			modified_at TIMESTAMP NOT NULL,
			FOREIGN KEY(author_id) REFERENCES users(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_type_status ON posts(post_type, status);`,
		`CREATE TABLE IF NOT EXISTS post_meta (
			post_id INTEGER NOT NULL,
			meta_key TEXT NOT NULL,
			meta_value TEXT NOT NULL,
			PRIMARY KEY(post_id, meta_key),
			FOREIGN KEY(post_id) REFERENCES posts(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_post_meta_key_value ON post_meta(meta_key, meta_value);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply content schema: %w", err)
		}
	}
	return nil
}

// ResolveUser returns the user with the given email, creating it when absent.
func (s *Store) ResolveUser(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, errors.New("email required")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users(email, created_at) VALUES(?, ?) ON CONFLICT(email) DO NOTHING`,
		email, s.now().UTC()); err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

const postColumns = `p.id, p.post_type, p.title, p.content, p.status, p.author_id, p.created_at, p.modified_at`

// FindByMeta returns the non-trashed posts of postType whose key meta equals
// value, in insertion order.
func (s *Store) FindByMeta(ctx context.Context, postType, key, value string) ([]Post, error) {
	return s.FindByMetaRange(ctx, postType, key, OpEqual, value, HintChar)
}

// FindByMetaRange returns the non-trashed posts of postType whose key meta
// compares to value with op, interpreting both sides per hint.
func (s *Store) FindByMetaRange(ctx context.Context, postType, key string, op Compare, value string, hint TypeHint) ([]Post, error) {
	if !op.valid() {
		return nil, fmt.Errorf("%w: operator %q", ErrInvalidQuery, op)
	}
	var cond string
	switch hint {
	case HintChar, "":
		cond = fmt.Sprintf("m.meta_value %s ?", op)
	case HintNumeric:
		cond = fmt.Sprintf("CAST(m.meta_value AS REAL) %s CAST(? AS REAL)", op)
	case HintDateTime:
		cond = fmt.Sprintf("datetime(trim(m.meta_value)) %s datetime(trim(?))", op)
	default:
		return nil, fmt.Errorf("%w: type hint %q", ErrInvalidQuery, hint)
	}
	query := `SELECT ` + postColumns + `
		FROM posts p JOIN post_meta m ON m.post_id = p.id AND m.meta_key = ?
		WHERE p.post_type = ? AND p.status != ? AND ` + cond + `
		ORDER BY p.id ASC`
	posts, err := s.queryPosts(ctx, query, key, postType, StatusTrash, value)
	if err != nil {
		return nil, fmt.Errorf("find by meta %s: %w", key, err)
	}
	return posts, nil
}

// ListPosts returns posts of postType newest first, optionally filtered by
// status. Trashed posts are only listed when asked for explicitly.
func (s *Store) ListPosts(ctx context.Context, postType, status string, limit int) ([]Post, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args := []any{postType}
	clauses := []string{"p.post_type = ?"}
	if status != "" {
		clauses = append(clauses, "p.status = ?")
		args = append(args, status)
	} else {
		clauses = append(clauses, "p.status != ?")
		args = append(args, StatusTrash)
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM posts p WHERE %s ORDER BY p.id DESC LIMIT ?`,
		postColumns, strings.Join(clauses, " AND "))
	posts, err := s.queryPosts(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// GetPost fetches a post and its metadata regardless of status.
func (s *Store) GetPost(ctx context.Context, id int64) (Post, error) {
	posts, err := s.queryPosts(ctx, `SELECT `+postColumns+` FROM posts p WHERE p.id = ?`, id)
	if err != nil {
		return Post{}, fmt.Errorf("get post: %w", err)
	}
	if len(posts) == 0 {
		return Post{}, ErrNotFound
	}
	return posts[0], nil
}

// Insert stores a post together with its metadata and returns the new id.
func (s *Store) Insert(ctx context.Context, p Post) (int64, error) {
	if strings.TrimSpace(p.Type) == "" {
		return 0, errors.New("post type required")
	}
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO posts(post_type, title, content, status, author_id, created_at, modified_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		p.Type, p.Title, p.Content, p.Status, p.AuthorID, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert post id: %w", err)
	}
	if err := upsertMeta(ctx, tx, id, p.Meta); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return id, nil
}

// Update overwrites the title and upserts the given metadata atomically.
func (s *Store) Update(ctx context.Context, id int64, u PostUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if u.Title != nil {
		res, err = tx.ExecContext(ctx,
			`UPDATE posts SET title = ?, modified_at = ? WHERE id = ?`, *u.Title, s.now().UTC(), id)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE posts SET modified_at = ? WHERE id = ?`, s.now().UTC(), id)
	}
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	if err := upsertMeta(ctx, tx, id, u.Meta); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

// SetStatus moves a post to another status.
func (s *Store) SetStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET status = ?, modified_at = ? WHERE id = ?`, status, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete trashes a post, or removes it and its metadata for good when force is set.
func (s *Store) Delete(ctx context.Context, id int64, force bool) error {
	if !force {
		return s.SetStatus(ctx, id, StatusTrash)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMeta creates or replaces a single metadata value.
func (s *Store) SetMeta(ctx context.Context, id int64, key, value string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return upsertMeta(ctx, s.db, id, map[string]string{key: value})
}

// GetMeta reads one metadata value; ok is false when the key is absent.
func (s *Store) GetMeta(ctx context.Context, id int64, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT meta_value FROM post_meta WHERE post_id = ? AND meta_key = ?`, id, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return v, true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertMeta(ctx context.Context, db execer, id int64, meta map[string]string) error {
	for k, v := range meta {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO post_meta(post_id, meta_key, meta_value) VALUES(?, ?, ?)
			 ON CONFLICT(post_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value`,
			id, k, v); err != nil {
			return fmt.Errorf("upsert meta %s: %w", k, err)
		}
	}
	return nil
}

func (s *Store) queryPosts(ctx context.Context, query string, args ...any) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.Type, &p.Title, &p.Content, &p.Status, &p.AuthorID, &p.CreatedAt, &p.ModifiedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iter posts: %w", err)
	}
	rows.Close()
	if err := s.attachMeta(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// attachMeta loads metadata for posts in one query. The rows cursor of the
// post query must be closed first because the pool holds a single connection.
func (s *Store) attachMeta(ctx context.Context, posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	index := make(map[int64]int, len(posts))
	args := make([]any, 0, len(posts))
	for i := range posts {
		posts[i].Meta = map[string]string{}
		index[posts[i].ID] = i
		args = append(args, posts[i].ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(posts)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, meta_key, meta_value FROM post_meta WHERE post_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("load meta: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id     int64
			key, v string
		)
		if err := rows.Scan(&id, &key, &v); err != nil {
			return fmt.Errorf("scan meta: %w", err)
		}
		posts[index[id]].Meta[key] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iter meta: %w", err)
	}
	return nil
}
