package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/hopehub/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

const postColumns = `id, title, content, category, status, featured_image, file_attachment,
		        apply_url, location, deadline, author_id, created_at, updated_at, published_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(s rowScanner) (*model.Post, error) {
	post := &model.Post{}
	var category, status string
	var featuredImage, fileAttachment, applyURL, location sql.NullString
	var deadline, publishedAt sql.NullTime

	if err := s.Scan(
		&post.ID, &post.Title, &post.Content, &category, &status,
		&featuredImage, &fileAttachment, &applyURL, &location, &deadline,
		&post.AuthorID, &post.CreatedAt, &post.UpdatedAt, &publishedAt,
	); err != nil {
		return nil, err
	}

	post.Category = model.PostCategory(category)
	post.Status = model.PostStatus(status)
	post.FeaturedImage = nullStringValue(featuredImage)
	post.FileAttachment = nullStringValue(fileAttachment)
	post.ApplyURL = nullStringValue(applyURL)
	post.Location = nullStringValue(location)
	if deadline.Valid {
		post.Deadline = &deadline.Time
	}
	if publishedAt.Valid {
		post.PublishedAt = &publishedAt.Time
	}
	return post, nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	post, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return post, nil
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, title, content, category, status, featured_image, file_attachment,
		                    apply_url, location, deadline, author_id, created_at, updated_at, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		post.ID, post.Title, post.Content, string(post.Category), string(post.Status),
		nullString(post.FeaturedImage), nullString(post.FileAttachment),
		nullString(post.ApplyURL), nullString(post.Location), post.Deadline,
		post.AuthorID, post.CreatedAt, post.UpdatedAt, post.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は投稿の内容フィールドを更新する。status、published_atは変更しない。
func (r *PostgresPostRepo) Update(ctx context.Context, post *model.Post) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET
		    title = $2, content = $3, category = $4, featured_image = $5, file_attachment = $6,
		    apply_url = $7, location = $8, deadline = $9, updated_at = $10
		 WHERE id = $1`,
		post.ID, post.Title, post.Content, string(post.Category),
		nullString(post.FeaturedImage), nullString(post.FileAttachment),
		nullString(post.ApplyURL), nullString(post.Location), post.Deadline,
		post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	return requireAffected(result, model.ErrPostNotFound)
}

// UpdateStatus はstatusとpublished_atを1つのUPDATE文で同時に更新する。
func (r *PostgresPostRepo) UpdateStatus(ctx context.Context, id string, status model.PostStatus, publishedAt *time.Time, updatedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET status = $2, published_at = $3, updated_at = $4 WHERE id = $1`,
		id, string(status), publishedAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("投稿の公開状態の更新に失敗しました: %w", err)
	}
	return requireAffected(result, model.ErrPostNotFound)
}

// List はフィルタ条件に一致する投稿を取得する。
// Statusが PUBLISHED の場合はpublished_at降順、それ以外はcreated_at降順でカーソルベースページネーションを使用する。
// Cursorがゼロ値の場合は先頭から取得する。
func (r *PostgresPostRepo) List(ctx context.Context, filter model.PostFilter) ([]*model.Post, error) {
	orderColumn := "created_at"
	if filter.Status == model.PostStatusPublished {
		orderColumn = "published_at"
	}

	query := `SELECT ` + postColumns + ` FROM posts WHERE 1 = 1`
	args := []interface{}{}
	argIndex := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, string(filter.Status))
		argIndex++
	}
	if filter.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argIndex)
		args = append(args, string(filter.Category))
		argIndex++
	}

	// カーソルベースページネーション。ORDER BYと同じ(時刻, id)の行比較で境界を決める
	if !filter.Cursor.IsZero() {
		query += fmt.Sprintf(" AND (%s, id) < ($%d, $%d)", orderColumn, argIndex, argIndex+1)
		args = append(args, filter.Cursor, filter.CursorID)
		argIndex += 2
	}

	query += fmt.Sprintf(" ORDER BY %s DESC, id DESC LIMIT $%d", orderColumn, argIndex)
	args = append(args, filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("投稿行の読み取りに失敗しました: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿一覧の走査に失敗しました: %w", err)
	}

	return posts, nil
}

// requireAffected は更新対象が1行も無かった場合にnotFoundを返す。
func requireAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

// nullString は空文字列をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
