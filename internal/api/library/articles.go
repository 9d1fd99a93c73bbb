// Package library implements the versioned article endpoints. Every article
// response carries the current version in the X-Resource-Version header, and
// every edit must present the version it was based on, either in the
// If-Version header or the base_version body field. Stale edits are rejected
// with 409 VERSION_MISMATCH carrying the live version to rebase on; the
// server never merges.
package library

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/third-space/third-space-api/internal/apierror"
	"github.com/third-space/third-space-api/internal/db/models"
	"github.com/third-space/third-space-api/internal/db/repositories"
	"github.com/third-space/third-space-api/internal/middleware"
	"github.com/third-space/third-space-api/internal/telemetry"
)

// VersionHeader carries an article's current version on responses;
// IfVersionHeader carries the base version on edit requests.
const (
	VersionHeader   = "X-Resource-Version"
	IfVersionHeader = "If-Version"

	maxContentBytes = 1 << 20 // 1 MiB of markdown
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

type createArticleRequest struct {
	Slug      string  `json:"slug" binding:"required,min=1,max=200"`
	Title     string  `json:"title" binding:"required,min=1,max=300"`
	ContentMD string  `json:"content_md" binding:"required"`
	Summary   *string `json:"edit_summary" binding:"omitempty,max=500"`
}

type updateArticleRequest struct {
	Title     string  `json:"title" binding:"required,min=1,max=300"`
	ContentMD string  `json:"content_md" binding:"required"`
	Summary   *string `json:"edit_summary" binding:"omitempty,max=500"`
	// BaseVersion is the body-level alternative to the If-Version header.
	BaseVersion *int `json:"base_version"`
}

type articleResponse struct {
	ID             string `json:"id"`
	Slug           string `json:"slug"`
	Title          string `json:"title"`
	ContentMD      string `json:"content_md"`
	AuthorID       *string `json:"author_id,omitempty"`
	CurrentVersion int    `json:"current_version"`
	ByteSize       int    `json:"byte_size"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func toArticleResponse(a *models.Article) articleResponse {
	return articleResponse{
		ID:             a.ID,
		Slug:           a.Slug,
		Title:          a.Title,
		ContentMD:      a.ContentMD,
		AuthorID:       a.AuthorID,
		CurrentVersion: a.CurrentVersion,
		ByteSize:       a.ByteSize,
		CreatedAt:      a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:      a.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func setVersionHeader(c *gin.Context, version int) {
	c.Header(VersionHeader, strconv.Itoa(version))
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// CreateArticleHandler creates an article at version 1.
// Implements: POST /api/v1/library/articles
func CreateArticleHandler(articleRepo *repositories.ArticleRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createArticleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, err.Error())
			return
		}
		slug := strings.ToLower(strings.TrimSpace(req.Slug))
		if !slugPattern.MatchString(slug) {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation,
				"slug must be lowercase letters, digits, and single hyphens")
			return
		}
		if len(req.ContentMD) > maxContentBytes {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, "content exceeds 1 MiB")
			return
		}

		article := &models.Article{
			Slug:      slug,
			Title:     req.Title,
			ContentMD: req.ContentMD,
		}
		if userID := c.GetString(middleware.ContextUserID); userID != "" {
			article.AuthorID = &userID
		}

		if err := articleRepo.Create(c.Request.Context(), article); err != nil {
			if isUniqueViolation(err) {
				apierror.Abort(c, http.StatusConflict, apierror.CodeConflict,
					"an article with this slug already exists")
				return
			}
			apierror.AbortInternal(c)
			return
		}

		setVersionHeader(c, article.CurrentVersion)
		c.JSON(http.StatusCreated, toArticleResponse(article))
	}
}

// GetArticleHandler retrieves an article by slug.
// Implements: GET /api/v1/library/articles/:slug
func GetArticleHandler(articleRepo *repositories.ArticleRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		article, err := articleRepo.GetBySlug(c.Request.Context(), c.Param("slug"))
		if err != nil {
			apierror.AbortInternal(c)
			return
		}
		if article == nil {
			apierror.Abort(c, http.StatusNotFound, apierror.CodeNotFound, "article not found")
			return
		}

		setVersionHeader(c, article.CurrentVersion)
		c.JSON(http.StatusOK, toArticleResponse(article))
	}
}

// baseVersion resolves the edit's base version: If-Version header first, then
// the base_version body field. Returns -1 when neither is present.
func baseVersion(c *gin.Context, req *updateArticleRequest) (int, error) {
	if h := c.GetHeader(IfVersionHeader); h != "" {
		return strconv.Atoi(h)
	}
	if req.BaseVersion != nil {
		return *req.BaseVersion, nil
	}
	return -1, nil
}

// UpdateArticleHandler applies a versioned edit. The whole decision is the
// repository's compare-and-swap UPDATE; two agents editing from the same base
// cannot both win, and the loser is told the current version to re-read.
// Implements: PUT /api/v1/library/articles/:slug
func UpdateArticleHandler(articleRepo *repositories.ArticleRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateArticleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, err.Error())
			return
		}
		if len(req.ContentMD) > maxContentBytes {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, "content exceeds 1 MiB")
			return
		}

		base, err := baseVersion(c, &req)
		if err != nil || base == -1 {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation,
				"edit must carry its base version in the If-Version header or base_version field")
			return
		}
		if base < 1 {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, "base version must be at least 1")
			return
		}

		article, err := articleRepo.GetBySlug(c.Request.Context(), c.Param("slug"))
		if err != nil {
			apierror.AbortInternal(c)
			return
		}
		if article == nil {
			apierror.Abort(c, http.StatusNotFound, apierror.CodeNotFound, "article not found")
			return
		}

		rev := &models.ArticleRevision{
			Title:       req.Title,
			ContentMD:   req.ContentMD,
			EditSummary: req.Summary,
		}
		if userID := c.GetString(middleware.ContextUserID); userID != "" {
			rev.EditorID = &userID
		}

		updated, err := articleRepo.UpdateWithVersion(c.Request.Context(), article.ID, base, rev)
		if err != nil {
			var mismatch *repositories.VersionMismatchError
			switch {
			case errors.As(err, &mismatch):
				telemetry.VersionConflictsTotal.Inc()
				setVersionHeader(c, mismatch.Current)
				apierror.AbortWithDetails(c, http.StatusConflict, apierror.CodeVersionMismatch,
					"article was modified since the version this edit is based on",
					map[string]any{
						"expected_version": mismatch.Expected,
						"current_version":  mismatch.Current,
					})
			case errors.Is(err, repositories.ErrNotFound):
				apierror.Abort(c, http.StatusNotFound, apierror.CodeNotFound, "article not found")
			default:
				apierror.AbortInternal(c)
			}
			return
		}

		setVersionHeader(c, updated.CurrentVersion)
		c.JSON(http.StatusOK, toArticleResponse(updated))
	}
}
