package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sitebooks/sitebooks/internal/approval"
	invoicedomain "github.com/sitebooks/sitebooks/internal/invoice/domain"
)

// UploadInvoice accepts a multipart document from the user-facing flow.
func (s *Server) UploadInvoice(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		AbortWithError(c, newValidationError("file", "missing_file", "a document file is required"))
		return
	}
	defer file.Close()

	document, err := io.ReadAll(file)
	if err != nil {
		AbortWithError(c, invoicedomain.ErrEmptyDocument)
		return
	}

	subcontractorID := strings.TrimSpace(c.PostForm("subcontractor_id"))
	if subcontractorID == "" {
		AbortWithError(c, newValidationError("subcontractor_id", "required", "subcontractor_id is required"))
		return
	}

	result, err := s.invoiceSvc.Submit(c.Request.Context(), invoicedomain.SubmitRequest{
		Document:        document,
		MIMEType:        header.Header.Get("Content-Type"),
		Channel:         invoicedomain.ChannelUpload,
		Sender:          subcontractorID,
		SubcontractorID: subcontractorID,
		ProjectID:       strings.TrimSpace(c.PostForm("project_id")),
		Actor:           actor(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": invoiceView(*result.Invoice), "created": result.Created})
}

func (s *Server) ListInvoices(c *gin.Context) {
	req := invoicedomain.ListRequest{
		SubcontractorID: strings.TrimSpace(c.Query("subcontractor_id")),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := approval.Status(strings.ToUpper(raw))
		req.Status = &status
	}

	invoices, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]gin.H, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, invoiceView(inv))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) GetInvoice(c *gin.Context) {
	inv, err := s.invoiceSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoiceView(*inv)})
}

func (s *Server) ApproveInvoice(c *gin.Context) {
	inv, err := s.invoiceSvc.Approve(c.Request.Context(), invoicedomain.TransitionRequest{
		ID:    c.Param("id"),
		Actor: actor(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoiceView(*inv)})
}

func (s *Server) RejectInvoice(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, newValidationError("reason", "required", "a rejection reason is required"))
		return
	}

	inv, err := s.invoiceSvc.Reject(c.Request.Context(), invoicedomain.TransitionRequest{
		ID:     c.Param("id"),
		Actor:  actor(c),
		Reason: body.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoiceView(*inv)})
}

func (s *Server) ReviewInvoice(c *gin.Context) {
	inv, err := s.invoiceSvc.MarkUnderReview(c.Request.Context(), invoicedomain.TransitionRequest{
		ID:    c.Param("id"),
		Actor: actor(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoiceView(*inv)})
}

func (s *Server) CorrectInvoice(c *gin.Context) {
	var body struct {
		Amount string `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, newValidationError("amount", "invalid", "amount and reason are required"))
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(body.Amount))
	if err != nil {
		AbortWithError(c, invoicedomain.ErrInvalidAmount)
		return
	}

	inv, err := s.invoiceSvc.Correct(c.Request.Context(), invoicedomain.CorrectionRequest{
		ID:     c.Param("id"),
		Amount: amount,
		Actor:  actor(c),
		Reason: body.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoiceView(*inv)})
}

func (s *Server) RescoreInvoice(c *gin.Context) {
	inv, err := s.invoiceSvc.Rescore(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoiceView(*inv)})
}

func invoiceView(inv invoicedomain.Invoice) gin.H {
	view := gin.H{
		"id":               inv.ID.String(),
		"subcontractor_id": inv.SubcontractorID.String(),
		"invoice_number":   inv.InvoiceNumber,
		"invoice_date":     inv.InvoiceDate,
		"due_date":         inv.DueDate,
		"amount":           inv.Amount.StringFixed(2),
		"cis_rate":         inv.CISRate,
		"cis_deduction":    inv.CISDeduction.StringFixed(2),
		"net_payment":      inv.NetPayment.StringFixed(2),
		"status":           inv.Status,
		"source_channel":   inv.SourceChannel,
		"confidence":       inv.ExtractionConfidence,
		"risk_score":       inv.RiskScore,
		"risk_level":       inv.RiskLevel,
		"risk_flags":       inv.Flags(),
		"created_at":       inv.CreatedAt,
	}
	if inv.ProjectID != nil {
		view["project_id"] = inv.ProjectID.String()
	}
	if inv.PaymentRunID != nil {
		view["payment_run_id"] = inv.PaymentRunID.String()
	}
	if inv.PaymentDate != nil {
		view["payment_date"] = inv.PaymentDate
	}
	if inv.RejectReason != nil {
		view["reject_reason"] = *inv.RejectReason
	}
	return view
}
