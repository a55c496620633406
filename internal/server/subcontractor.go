package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	subdomain "github.com/sitebooks/sitebooks/internal/subcontractor/domain"
)

func (s *Server) CreateSubcontractor(c *gin.Context) {
	var req subdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "malformed request body"))
		return
	}

	sub, err := s.subSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": subcontractorView(*sub)})
}

func (s *Server) ListSubcontractors(c *gin.Context) {
	req := subdomain.ListRequest{}
	if raw := strings.TrimSpace(c.Query("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, newValidationError("active", "invalid", "active must be a boolean"))
			return
		}
		req.Active = &active
	}

	subs, err := s.subSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]gin.H, 0, len(subs))
	for _, sub := range subs {
		views = append(views, subcontractorView(sub))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) GetSubcontractor(c *gin.Context) {
	sub, err := s.subSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": subcontractorView(*sub)})
}

// RecordVerification applies the outcome of an HMRC verification check.
func (s *Server) RecordVerification(c *gin.Context) {
	var req subdomain.VerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "malformed request body"))
		return
	}
	req.ID = c.Param("id")
	req.Actor = actor(c)

	sub, err := s.subSvc.RecordVerification(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": subcontractorView(*sub)})
}

func (s *Server) ScheduleDeletion(c *gin.Context) {
	sub, err := s.subSvc.ScheduleDeletion(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": subcontractorView(*sub)})
}

func (s *Server) CancelDeletion(c *gin.Context) {
	sub, err := s.subSvc.CancelDeletion(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": subcontractorView(*sub)})
}

func subcontractorView(sub subdomain.Subcontractor) gin.H {
	view := gin.H{
		"id":             sub.ID.String(),
		"name":           sub.Name,
		"email":          sub.Email,
		"utr":            sub.UTR,
		"cis_status":     sub.CISStatus,
		"deduction_rate": sub.DeductionRate(),
		"account_number": sub.AccountNumber,
		"sort_code":      sub.SortCode,
		"total_invoices": sub.TotalInvoices,
		"total_paid":     sub.TotalPaid.StringFixed(2),
		"active":         sub.Active,
		"created_at":     sub.CreatedAt,
	}
	if sub.DeductionRateOverride != nil {
		view["deduction_rate_override"] = *sub.DeductionRateOverride
	}
	if sub.ScheduledForDeletionAt != nil {
		view["scheduled_for_deletion_at"] = sub.ScheduledForDeletionAt
	}
	if sub.LastInvoiceAt != nil {
		view["last_invoice_at"] = sub.LastInvoiceAt
	}
	return view
}
