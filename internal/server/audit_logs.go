package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	"github.com/smallbiznis/gatekeeper/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Action    string `form:"action"`
	ActorType string `form:"actor_type"`
	ActorID   string `form:"actor_id"`
	Outcome   string `form:"outcome"`
	StartAt   string `form:"start_at"`
	EndAt     string `form:"end_at"`
	From      string `form:"from"`
	To        string `form:"to"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondError(c, invalidRequestError())
		return
	}

	startAt, err := timeBound(false, query.StartAt, query.From)
	if err != nil {
		respondError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}

	endAt, err := timeBound(true, query.EndAt, query.To)
	if err != nil {
		respondError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Action:    strings.TrimSpace(query.Action),
		ActorType: strings.TrimSpace(query.ActorType),
		ActorID:   strings.TrimSpace(query.ActorID),
		Outcome:   strings.TrimSpace(query.Outcome),
		StartAt:   startAt,
		EndAt:     endAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
