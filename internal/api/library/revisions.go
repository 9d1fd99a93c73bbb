package library

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/third-space/third-space-api/internal/apierror"
	"github.com/third-space/third-space-api/internal/db/models"
	"github.com/third-space/third-space-api/internal/db/repositories"
)

type revisionResponse struct {
	Version     int     `json:"version"`
	Title       string  `json:"title"`
	ContentMD   string  `json:"content_md"`
	EditorID    *string `json:"editor_id,omitempty"`
	EditSummary *string `json:"edit_summary,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func toRevisionResponse(r *models.ArticleRevision) revisionResponse {
	return revisionResponse{
		Version:     r.Version,
		Title:       r.Title,
		ContentMD:   r.ContentMD,
		EditorID:    r.EditorID,
		EditSummary: r.EditSummary,
		CreatedAt:   r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// ListRevisionsHandler lists an article's revision history, newest first.
// Implements: GET /api/v1/library/articles/:slug/revisions
func ListRevisionsHandler(articleRepo *repositories.ArticleRepository) gin.HandlerFunc {
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

		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit < 1 || limit > 200 {
			limit = 50
		}
		offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if err != nil || offset < 0 {
			offset = 0
		}

		revisions, err := articleRepo.ListRevisions(c.Request.Context(), article.ID, limit, offset)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}

		out := make([]revisionResponse, 0, len(revisions))
		for _, r := range revisions {
			out = append(out, toRevisionResponse(r))
		}

		setVersionHeader(c, article.CurrentVersion)
		c.JSON(http.StatusOK, gin.H{
			"slug":            article.Slug,
			"current_version": article.CurrentVersion,
			"revisions":       out,
		})
	}
}

// GetRevisionHandler retrieves one specific revision of an article.
// Implements: GET /api/v1/library/articles/:slug/revisions/:version
func GetRevisionHandler(articleRepo *repositories.ArticleRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		version, err := strconv.Atoi(c.Param("version"))
		if err != nil || version < 1 {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, "version must be a positive integer")
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

		rev, err := articleRepo.GetRevision(c.Request.Context(), article.ID, version)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}
		if rev == nil {
			apierror.Abort(c, http.StatusNotFound, apierror.CodeNotFound, "revision not found")
			return
		}

		c.JSON(http.StatusOK, toRevisionResponse(rev))
	}
}
