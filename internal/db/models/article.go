package models

import "time"

// Article is the versioned resource of the Library. CurrentVersion starts at
// 1 and increments by exactly 1 per accepted edit; content and version are
// updated together, atomically, alongside a revision row.
type Article struct {
	ID             string    `db:"id"`
	Slug           string    `db:"slug"`
	Title          string    `db:"title"`
	ContentMD      string    `db:"content_md"`
	AuthorID       *string   `db:"author_id"`
	CurrentVersion int       `db:"current_version"`
	ByteSize       int       `db:"byte_size"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// ArticleRevision is one immutable entry of an article's append-only history.
// (article_id, version) is unique; revisions are never updated or deleted
// while the article exists.
type ArticleRevision struct {
	ID          string    `db:"id"`
	ArticleID   string    `db:"article_id"`
	Version     int       `db:"version"`
	Title       string    `db:"title"`
	ContentMD   string    `db:"content_md"`
	EditorID    *string   `db:"editor_id"`
	EditSummary *string   `db:"edit_summary"`
	CreatedAt   time.Time `db:"created_at"`
}
