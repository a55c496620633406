package server

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/sitebooks/sitebooks/internal/audit/domain"
	invoicedomain "github.com/sitebooks/sitebooks/internal/invoice/domain"
)

type inboundEmailRequest struct {
	From       string `json:"from"`
	Subject    string `json:"subject"`
	Attachment struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
		// Content is the base64-encoded attachment body, the shape inbound
		// email gateways post in their webhooks.
		Content string `json:"content"`
	} `json:"attachment"`
}

// InboundEmail receives parsed-email webhooks from the mail gateway and
// feeds the first attachment into the intake pipeline.
func (s *Server) InboundEmail(c *gin.Context) {
	var req inboundEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "malformed webhook payload"))
		return
	}

	sender := strings.TrimSpace(req.From)
	if sender == "" {
		AbortWithError(c, newValidationError("from", "required", "a sender address is required"))
		return
	}
	if req.Attachment.Content == "" {
		AbortWithError(c, invoicedomain.ErrEmptyDocument)
		return
	}

	document, err := base64.StdEncoding.DecodeString(req.Attachment.Content)
	if err != nil {
		AbortWithError(c, newValidationError("attachment.content", "invalid_base64", "attachment must be base64 encoded"))
		return
	}

	result, err := s.invoiceSvc.Submit(c.Request.Context(), invoicedomain.SubmitRequest{
		Document: document,
		MIMEType: req.Attachment.ContentType,
		Channel:  invoicedomain.ChannelEmail,
		Sender:   sender,
		Actor:    auditdomain.ActorInbound,
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
