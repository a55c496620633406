package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	rundomain "github.com/sitebooks/sitebooks/internal/paymentrun/domain"
)

func (s *Server) BuildPaymentRun(c *gin.Context) {
	var body struct {
		ScheduledDate string `json:"scheduled_date"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "malformed request body"))
		return
	}

	scheduled := time.Now().UTC()
	if body.ScheduledDate != "" {
		parsed, err := time.Parse("2006-01-02", body.ScheduledDate)
		if err != nil {
			AbortWithError(c, newValidationError("scheduled_date", "invalid", "scheduled_date must be YYYY-MM-DD"))
			return
		}
		scheduled = parsed
	}

	run, err := s.runSvc.Build(c.Request.Context(), rundomain.BuildRequest{
		ScheduledDate: scheduled,
		Actor:         actor(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": runView(*run)})
}

func (s *Server) ListPaymentRuns(c *gin.Context) {
	runs, err := s.runSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]gin.H, 0, len(runs))
	for _, run := range runs {
		views = append(views, runView(run))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) GetPaymentRun(c *gin.Context) {
	run, err := s.runSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runView(*run)})
}

func (s *Server) AttachInvoice(c *gin.Context) {
	run, err := s.runSvc.Attach(c.Request.Context(), c.Param("id"), c.Param("invoiceId"), actor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runView(*run)})
}

func (s *Server) DetachInvoice(c *gin.Context) {
	run, err := s.runSvc.Detach(c.Request.Context(), c.Param("id"), c.Param("invoiceId"), actor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runView(*run)})
}

func (s *Server) MarkRunReady(c *gin.Context) {
	run, err := s.runSvc.MarkReady(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runView(*run)})
}

// ExportPaymentRun streams the bank-transfer batch as CSV. The same run
// always exports the same bytes.
func (s *Server) ExportPaymentRun(c *gin.Context) {
	batch, err := s.runSvc.Export(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/csv", batch)
}

func (s *Server) CompletePaymentRun(c *gin.Context) {
	run, err := s.runSvc.Complete(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runView(*run)})
}

// MonthlyRollup reports per-subcontractor deduction totals for the CIS
// monthly return.
func (s *Server) MonthlyRollup(c *gin.Context) {
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil {
		AbortWithError(c, rundomain.ErrInvalidMonth)
		return
	}
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil {
		AbortWithError(c, rundomain.ErrInvalidMonth)
		return
	}

	rollup, err := s.runSvc.MonthlyRollup(c.Request.Context(), year, time.Month(month))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	rows := make([]gin.H, 0, len(rollup.Rows))
	for _, row := range rollup.Rows {
		rows = append(rows, gin.H{
			"subcontractor_id": row.SubcontractorID.String(),
			"name":             row.Name,
			"utr":              row.UTR,
			"invoice_count":    row.InvoiceCount,
			"gross_total":      row.GrossTotal.StringFixed(2),
			"deduction_total":  row.DeductionTotal.StringFixed(2),
			"net_total":        row.NetTotal.StringFixed(2),
			"missing_utr":      row.MissingUTR,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"year":        rollup.Year,
		"month":       int(rollup.Month),
		"rows":        rows,
		"missing_utr": rollup.MissingUTR,
	}})
}

func runView(run rundomain.PaymentRun) gin.H {
	view := gin.H{
		"id":                run.ID.String(),
		"reference":         run.Reference,
		"status":            run.Status,
		"scheduled_date":    run.ScheduledDate,
		"total_net_payment": run.TotalNetPayment.StringFixed(2),
		"created_at":        run.CreatedAt,
	}
	if run.CompletedAt != nil {
		view["completed_at"] = run.CompletedAt
	}
	return view
}
