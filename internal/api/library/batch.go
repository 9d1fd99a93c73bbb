// batch.go implements the batch article read. A batch of N slugs costs N
// units from the read bucket, charged up front in one atomic increment, so a
// batch cannot slip more reads through the window than N sequential GETs.
package library

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/third-space/third-space-api/internal/apierror"
	"github.com/third-space/third-space-api/internal/db/models"
	"github.com/third-space/third-space-api/internal/db/repositories"
	"github.com/third-space/third-space-api/internal/middleware"
)

// MaxBatchSlugs bounds one batch read.
const MaxBatchSlugs = 50

type batchGetRequest struct {
	Slugs []string `json:"slugs" binding:"required,min=1,max=50"`
}

// BatchReadUnits parses the batch request ahead of the rate limiter and sets
// the request's cost to the number of requested slugs, classed as reads. The
// body is restored for the handler; a malformed body is rejected here so the
// limiter never charges for a request that cannot execute.
func BatchReadUnits() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, "failed to read request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		var req batchGetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, err.Error())
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		c.Set(middleware.ContextRateClass, models.BucketRead)
		c.Set(middleware.ContextRateUnits, len(req.Slugs))
		c.Next()
	}
}

// BatchGetHandler retrieves up to MaxBatchSlugs articles in one request.
// Unknown slugs are reported per-item rather than failing the batch.
// Implements: POST /api/v1/library/articles/batch-get
func BatchGetHandler(articleRepo *repositories.ArticleRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req batchGetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, err.Error())
			return
		}

		articles, err := articleRepo.GetBySlugs(c.Request.Context(), req.Slugs)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}

		found := make(map[string]*models.Article, len(articles))
		for _, a := range articles {
			found[a.Slug] = a
		}

		results := make([]gin.H, 0, len(req.Slugs))
		for _, slug := range req.Slugs {
			if a, ok := found[slug]; ok {
				results = append(results, gin.H{"slug": slug, "article": toArticleResponse(a)})
			} else {
				results = append(results, gin.H{"slug": slug, "error": gin.H{"code": apierror.CodeNotFound}})
			}
		}

		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}
