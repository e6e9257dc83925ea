package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/intake"
)

// webhookHandler handles POST /webhook/alerts, the Alertmanager receiver.
//
// Returns 200 once every alert in the payload is persisted, even when no
// rule matches any of them. A malformed payload gets 400 and is never
// retried; a storage failure gets 500 so Alertmanager redelivers.
func (s *Server) webhookHandler(c *gin.Context) {
	var payload intake.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid webhook payload: malformed JSON")
		return
	}

	ids, err := s.intake.Ingest(c.Request.Context(), &payload)
	if errors.Is(err, intake.ErrInvalidPayload) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{Status: "ok", AlertIDs: ids})
}
