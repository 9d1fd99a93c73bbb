package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/third-space/third-space-api/internal/db/models"
)

// ArticleRepository handles versioned article storage. Edits go through a
// compare-and-swap UPDATE so two writers holding the same base version cannot
// both win; the losing writer gets a VersionMismatchError carrying the current
// version to rebase on.
type ArticleRepository struct {
	db *sqlx.DB
}

// NewArticleRepository creates a new ArticleRepository.
func NewArticleRepository(db *sqlx.DB) *ArticleRepository {
	return &ArticleRepository{db: db}
}

// Create inserts a new article at version 1 together with its first revision,
// in one transaction. Slug uniqueness is enforced by the database; callers
// translate the unique violation into a conflict response.
func (r *ArticleRepository) Create(ctx context.Context, article *models.Article) error {
	article.ID = uuid.New().String()
	article.CurrentVersion = 1
	now := time.Now()
	article.CreatedAt = now
	article.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	articleQuery := `
		INSERT INTO articles (id, slug, title, content_md, author_id, current_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.ExecContext(ctx, articleQuery,
		article.ID, article.Slug, article.Title, article.ContentMD, article.AuthorID,
		article.CurrentVersion, article.CreatedAt, article.UpdatedAt,
	)
	if err != nil {
		return err
	}

	revisionQuery := `
		INSERT INTO article_revisions (id, article_id, version, title, content_md, editor_id, edit_summary, created_at)
		VALUES ($1, $2, 1, $3, $4, $5, NULL, $6)
	`
	_, err = tx.ExecContext(ctx, revisionQuery,
		uuid.New().String(), article.ID, article.Title, article.ContentMD, article.AuthorID, now,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetBySlug retrieves an article by slug. Returns (nil, nil) when absent.
func (r *ArticleRepository) GetBySlug(ctx context.Context, slug string) (*models.Article, error) {
	query := articleSelectColumns + ` WHERE slug = $1`
	return r.getOne(ctx, query, slug)
}

// GetByID retrieves an article by ID. Returns (nil, nil) when absent.
func (r *ArticleRepository) GetByID(ctx context.Context, articleID string) (*models.Article, error) {
	query := articleSelectColumns + ` WHERE id = $1`
	return r.getOne(ctx, query, articleID)
}

// GetBySlugs retrieves articles for a batch of slugs in one query. Slugs with
// no article are simply absent from the result; callers report them per-item.
func (r *ArticleRepository) GetBySlugs(ctx context.Context, slugs []string) ([]*models.Article, error) {
	if len(slugs) == 0 {
		return []*models.Article{}, nil
	}

	query, args, err := sqlx.In(articleSelectColumns+` WHERE slug IN (?) ORDER BY slug`, slugs)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	articles := make([]*models.Article, 0, len(slugs))
	if err := r.db.SelectContext(ctx, &articles, query, args...); err != nil {
		return nil, err
	}
	return articles, nil
}

const articleSelectColumns = `
	SELECT id, slug, title, content_md, author_id, current_version, byte_size,
	       created_at, updated_at
	FROM articles
`

// UpdateWithVersion applies an edit if and only if the article's current
// version still equals baseVersion, bumping the version and appending the
// revision in one transaction. On a stale base it returns
// VersionMismatchError with the version the caller must re-read; on an
// unknown article it returns ErrNotFound.
func (r *ArticleRepository) UpdateWithVersion(ctx context.Context, articleID string, baseVersion int, rev *models.ArticleRevision) (*models.Article, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	casQuery := `
		UPDATE articles
		SET title = $3, content_md = $4, current_version = current_version + 1, updated_at = NOW()
		WHERE id = $1 AND current_version = $2
		RETURNING id, slug, title, content_md, author_id, current_version, byte_size,
		          created_at, updated_at
	`

	article := &models.Article{}
	err = tx.QueryRowContext(ctx, casQuery, articleID, baseVersion, rev.Title, rev.ContentMD).Scan(
		&article.ID, &article.Slug, &article.Title, &article.ContentMD, &article.AuthorID,
		&article.CurrentVersion, &article.ByteSize, &article.CreatedAt, &article.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		// The CAS missed: either the base is stale or the article is gone.
		// Re-read to tell the two apart and report the live version.
		var current int
		err = tx.QueryRowContext(ctx, `SELECT current_version FROM articles WHERE id = $1`, articleID).Scan(&current)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, &VersionMismatchError{Expected: baseVersion, Current: current}
	}
	if err != nil {
		return nil, err
	}

	revisionQuery := `
		INSERT INTO article_revisions (id, article_id, version, title, content_md, editor_id, edit_summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err = tx.ExecContext(ctx, revisionQuery,
		uuid.New().String(), articleID, article.CurrentVersion,
		rev.Title, rev.ContentMD, rev.EditorID, rev.EditSummary,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return article, nil
}

// ListRevisions retrieves an article's revision history, newest first.
func (r *ArticleRepository) ListRevisions(ctx context.Context, articleID string, limit, offset int) ([]*models.ArticleRevision, error) {
	query := `
		SELECT id, article_id, version, title, content_md, editor_id, edit_summary, created_at
		FROM article_revisions
		WHERE article_id = $1
		ORDER BY version DESC
		LIMIT $2 OFFSET $3
	`

	revisions := make([]*models.ArticleRevision, 0)
	if err := r.db.SelectContext(ctx, &revisions, query, articleID, limit, offset); err != nil {
		return nil, err
	}
	return revisions, nil
}

// GetRevision retrieves one specific revision of an article. Returns
// (nil, nil) when absent.
func (r *ArticleRepository) GetRevision(ctx context.Context, articleID string, version int) (*models.ArticleRevision, error) {
	query := `
		SELECT id, article_id, version, title, content_md, editor_id, edit_summary, created_at
		FROM article_revisions
		WHERE article_id = $1 AND version = $2
	`

	rev := &models.ArticleRevision{}
	err := r.db.GetContext(ctx, rev, query, articleID, version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rev, nil
}

func (r *ArticleRepository) getOne(ctx context.Context, query string, arg any) (*models.Article, error) {
	article := &models.Article{}
	err := r.db.GetContext(ctx, article, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return article, nil
}
