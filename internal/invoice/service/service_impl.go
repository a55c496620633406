package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/sitebooks/sitebooks/internal/approval"
	auditdomain "github.com/sitebooks/sitebooks/internal/audit/domain"
	"github.com/sitebooks/sitebooks/internal/config"
	invoicedomain "github.com/sitebooks/sitebooks/internal/invoice/domain"
	"github.com/sitebooks/sitebooks/internal/observability/metrics"
	projectdomain "github.com/sitebooks/sitebooks/internal/project/domain"
	"github.com/sitebooks/sitebooks/internal/providers/docai"
	"github.com/sitebooks/sitebooks/internal/providers/email"
	"github.com/sitebooks/sitebooks/internal/risk"
	subdomain "github.com/sitebooks/sitebooks/internal/subcontractor/domain"
	"github.com/sitebooks/sitebooks/internal/tax"
	"github.com/sitebooks/sitebooks/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var allowedMIMETypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Audit     auditdomain.Recorder
	Extractor docai.Extractor
	Scorer    *risk.Scorer
	Policy    approval.Policy
	Notifier  email.Notifier
	Metrics   *metrics.Metrics `optional:"true"`
	Cfg       config.Config
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	audit     auditdomain.Recorder
	extractor docai.Extractor
	scorer    *risk.Scorer
	policy    approval.Policy
	notifier  email.Notifier
	metrics   *metrics.Metrics

	maxUploadBytes int64
}

func NewService(p ServiceParam) invoicedomain.Service {
	maxUpload := p.Cfg.Pipeline.UploadMaxBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("invoice.service"),
		genID:          p.GenID,
		audit:          p.Audit,
		extractor:      p.Extractor,
		scorer:         p.Scorer,
		policy:         p.Policy,
		notifier:       p.Notifier,
		metrics:        p.Metrics,
		maxUploadBytes: maxUpload,
	}
}

// Submit runs the intake pipeline for one document: boundary validation,
// idempotency, payee resolution, extraction, then a single transaction
// that locks the payee row, scores against history, computes the CIS
// deduction, decides the initial status and persists invoice plus audit
// entries. Notification happens only after commit.
func (s *Service) Submit(ctx context.Context, req invoicedomain.SubmitRequest) (*invoicedomain.SubmitResult, error) {
	if len(req.Document) == 0 {
		return nil, invoicedomain.ErrEmptyDocument
	}
	if int64(len(req.Document)) > s.maxUploadBytes {
		return nil, invoicedomain.ErrDocumentTooLarge
	}
	if !allowedMIMETypes[normalizeMIME(req.MIMEType)] {
		return nil, invoicedomain.ErrUnsupportedMediaType
	}

	key := idempotencyKey(req.Document, req.Sender)
	if existing, err := s.findByIdempotencyKey(ctx, key); err != nil {
		return nil, err
	} else if existing != nil {
		s.log.Info("idempotent replay", zap.String("invoice_id", existing.ID.String()))
		return &invoicedomain.SubmitResult{Invoice: existing, Created: false}, nil
	}

	sub, err := s.resolvePayee(ctx, req)
	if err != nil {
		return nil, err
	}

	var project *projectdomain.Project
	if strings.TrimSpace(req.ProjectID) != "" {
		pid, perr := snowflake.ParseString(strings.TrimSpace(req.ProjectID))
		if perr != nil {
			return nil, projectdomain.ErrNotFound
		}
		project = &projectdomain.Project{}
		if err := s.db.WithContext(ctx).First(project, "id = ?", pid).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, projectdomain.ErrNotFound
			}
			return nil, err
		}
	}

	// Extraction is I/O-bound and touches no shared state, so it runs
	// before any lock is taken. The provider bounds its own timeout and
	// retries.
	start := time.Now()
	extracted, err := s.extractor.Extract(ctx, docai.Document{
		Bytes:    req.Document,
		MIMEType: normalizeMIME(req.MIMEType),
	}, docai.Context{
		SubcontractorID:   sub.ID.String(),
		SubcontractorName: sub.Name,
	})
	if s.metrics != nil {
		s.metrics.ExtractionLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.countSubmission(req.Channel, "extraction_failed")
		return nil, err
	}

	var (
		inv          *invoicedomain.Invoice
		assessment   risk.Assessment
		autoApproved bool
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Row lock on the payee serialises concurrent submissions for the
		// same subcontractor: the history read below stays consistent
		// with any concurrently committing invoice, so at most one
		// submission wins a duplicate-detection race.
		var locked subdomain.Subcontractor
		if err := db.LockForUpdate(tx).
			First(&locked, "id = ?", sub.ID).Error; err != nil {
			return err
		}

		priors, err := s.priorInvoices(tx, locked.ID, 0)
		if err != nil {
			return err
		}

		var budget *risk.ProjectBudget
		if project != nil {
			invoiced, err := s.projectInvoiced(tx, project.ID, 0)
			if err != nil {
				return err
			}
			budget = &risk.ProjectBudget{
				Name:            project.Name,
				Budget:          project.Budget,
				AlreadyInvoiced: invoiced,
			}
		}

		assessment = s.scorer.Score(risk.Input{
			InvoiceNumber:     extracted.InvoiceNumber,
			Amount:            extracted.TotalAmount,
			InvoiceDate:       extracted.IssueDate,
			Confidence:        extracted.Confidence,
			SubcontractorName: locked.Name,
			PriorInvoices:     priors,
			Project:           budget,
		})

		deduction := tax.Compute(extracted.TotalAmount, locked)
		status := s.policy.InitialStatus(assessment, locked.TotalInvoices, extracted.TotalAmount)
		autoApproved = status == approval.StatusApproved

		flags, err := json.Marshal(assessment.Flags)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		record := invoicedomain.Invoice{
			ID:                   s.genID.Generate(),
			SubcontractorID:      locked.ID,
			InvoiceNumber:        extracted.InvoiceNumber,
			InvoiceDate:          extracted.IssueDate,
			DueDate:              extracted.DueDate,
			Amount:               extracted.TotalAmount,
			CISRate:              deduction.Rate,
			CISDeduction:         deduction.CISDeduction,
			NetPayment:           deduction.NetPayment,
			Status:               status,
			SourceChannel:        req.Channel,
			ExtractionConfidence: extracted.Confidence,
			IdempotencyKey:       key,
			RiskScore:            assessment.Score,
			RiskLevel:            assessment.Level,
			RiskFlags:            datatypes.JSON(flags),
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if project != nil {
			pid := project.ID
			record.ProjectID = &pid
		}

		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		if err := tx.Model(&subdomain.Subcontractor{}).
			Where("id = ?", locked.ID).
			Updates(map[string]any{
				"total_invoices":  gorm.Expr("total_invoices + 1"),
				"last_invoice_at": now,
				"updated_at":      now,
			}).Error; err != nil {
			return err
		}

		actor := strings.TrimSpace(req.Actor)
		if actor == "" {
			actor = auditdomain.ActorInbound
		}
		if err := s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "invoice",
			EntityID:   record.ID.String(),
			Action:     "invoice.created",
			Actor:      actor,
			After:      invoiceSnapshot(record),
		}); err != nil {
			return err
		}
		if autoApproved {
			if err := s.audit.Record(ctx, tx, auditdomain.Entry{
				EntityType: "invoice",
				EntityID:   record.ID.String(),
				Action:     "invoice.auto_approved",
				Actor:      auditdomain.ActorAutoApproval,
				Before:     map[string]any{"status": string(approval.StatusSubmitted)},
				After:      map[string]any{"status": string(approval.StatusApproved)},
			}); err != nil {
				return err
			}
		}

		inv = &record
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Either the invoice number or the idempotency key collided
			// with a concurrent insert. A key collision is a replay, not
			// a conflict.
			if existing, ferr := s.findByIdempotencyKey(ctx, key); ferr == nil && existing != nil {
				return &invoicedomain.SubmitResult{Invoice: existing, Created: false}, nil
			}
			s.countSubmission(req.Channel, "duplicate")
			return nil, invoicedomain.ErrDuplicateInvoiceNumber
		}
		s.countSubmission(req.Channel, "error")
		return nil, err
	}

	s.countSubmission(req.Channel, "created")
	if s.metrics != nil {
		if autoApproved {
			s.metrics.AutoApprovals.Inc()
		}
		for _, flag := range assessment.Flags {
			s.metrics.RiskFlags.WithLabelValues(flag.Type).Inc()
		}
	}

	// Fire-and-forget: notification failure never rolls back intake.
	go s.notify(*inv, *sub)

	return &invoicedomain.SubmitResult{Invoice: inv, Created: true}, nil
}

func (s *Service) Approve(ctx context.Context, req invoicedomain.TransitionRequest) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, req.ID, approval.StatusApproved, req.Actor, "")
}

func (s *Service) Reject(ctx context.Context, req invoicedomain.TransitionRequest) (*invoicedomain.Invoice, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, invoicedomain.ErrReasonRequired
	}
	return s.transition(ctx, req.ID, approval.StatusRejected, req.Actor, reason)
}

func (s *Service) MarkUnderReview(ctx context.Context, req invoicedomain.TransitionRequest) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, req.ID, approval.StatusUnderReview, req.Actor, "")
}

func (s *Service) transition(ctx context.Context, id string, to approval.Status, actor, reason string) (*invoicedomain.Invoice, error) {
	iid, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, invoicedomain.ErrNotFound
	}

	var inv invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.LockForUpdate(tx).
			First(&inv, "id = ?", iid).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return invoicedomain.ErrNotFound
			}
			return err
		}

		from := inv.Status
		if err := approval.Transition(from, to); err != nil {
			return err
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":     to,
			"updated_at": now,
		}
		if to == approval.StatusRejected {
			updates["reject_reason"] = reason
		}
		if err := tx.Model(&invoicedomain.Invoice{}).Where("id = ?", iid).Updates(updates).Error; err != nil {
			return err
		}

		inv.Status = to
		if to == approval.StatusRejected {
			inv.RejectReason = &reason
		}
		inv.UpdatedAt = now

		after := map[string]any{"status": string(to)}
		if reason != "" {
			after["reason"] = reason
		}
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "invoice",
			EntityID:   inv.ID.String(),
			Action:     "invoice." + strings.ToLower(string(to)),
			Actor:      actor,
			Before:     map[string]any{"status": string(from)},
			After:      after,
		})
	})
	if err != nil {
		return nil, err
	}

	return &inv, nil
}

// Correct replaces the gross amount and recomputes the deduction through
// the tax engine. Allowed only while the invoice is still actionable and
// not attached to a payment run.
func (s *Service) Correct(ctx context.Context, req invoicedomain.CorrectionRequest) (*invoicedomain.Invoice, error) {
	if !req.Amount.IsPositive() {
		return nil, invoicedomain.ErrInvalidAmount
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, invoicedomain.ErrReasonRequired
	}
	iid, err := snowflake.ParseString(strings.TrimSpace(req.ID))
	if err != nil {
		return nil, invoicedomain.ErrNotFound
	}

	var inv invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.LockForUpdate(tx).
			First(&inv, "id = ?", iid).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return invoicedomain.ErrNotFound
			}
			return err
		}
		if inv.PaymentRunID != nil || approval.Terminal(inv.Status) {
			return invoicedomain.ErrCorrectionLocked
		}

		var sub subdomain.Subcontractor
		if err := tx.First(&sub, "id = ?", inv.SubcontractorID).Error; err != nil {
			return err
		}

		before := invoiceSnapshot(inv)
		deduction := tax.Compute(req.Amount, sub)
		now := time.Now().UTC()

		if err := tx.Model(&invoicedomain.Invoice{}).Where("id = ?", iid).Updates(map[string]any{
			"amount":        req.Amount,
			"cis_rate":      deduction.Rate,
			"cis_deduction": deduction.CISDeduction,
			"net_payment":   deduction.NetPayment,
			"updated_at":    now,
		}).Error; err != nil {
			return err
		}

		inv.Amount = req.Amount
		inv.CISRate = deduction.Rate
		inv.CISDeduction = deduction.CISDeduction
		inv.NetPayment = deduction.NetPayment
		inv.UpdatedAt = now

		after := invoiceSnapshot(inv)
		after["reason"] = reason
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "invoice",
			EntityID:   inv.ID.String(),
			Action:     "invoice.corrected",
			Actor:      req.Actor,
			Before:     before,
			After:      after,
		})
	})
	if err != nil {
		return nil, err
	}

	return &inv, nil
}

// Rescore recomputes the risk assessment from the current history. Only
// this explicit action may replace an assessment.
func (s *Service) Rescore(ctx context.Context, id, actor string) (*invoicedomain.Invoice, error) {
	iid, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, invoicedomain.ErrNotFound
	}

	var inv invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.LockForUpdate(tx).
			First(&inv, "id = ?", iid).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return invoicedomain.ErrNotFound
			}
			return err
		}

		var sub subdomain.Subcontractor
		if err := tx.First(&sub, "id = ?", inv.SubcontractorID).Error; err != nil {
			return err
		}

		priors, err := s.priorInvoices(tx, sub.ID, inv.ID)
		if err != nil {
			return err
		}

		var budget *risk.ProjectBudget
		if inv.ProjectID != nil {
			var project projectdomain.Project
			if err := tx.First(&project, "id = ?", *inv.ProjectID).Error; err != nil {
				return err
			}
			invoiced, err := s.projectInvoiced(tx, project.ID, inv.ID)
			if err != nil {
				return err
			}
			budget = &risk.ProjectBudget{
				Name:            project.Name,
				Budget:          project.Budget,
				AlreadyInvoiced: invoiced,
			}
		}

		assessment := s.scorer.Score(risk.Input{
			InvoiceNumber:     inv.InvoiceNumber,
			Amount:            inv.Amount,
			InvoiceDate:       inv.InvoiceDate,
			Confidence:        inv.ExtractionConfidence,
			SubcontractorName: sub.Name,
			PriorInvoices:     priors,
			Project:           budget,
		})

		flags, err := json.Marshal(assessment.Flags)
		if err != nil {
			return err
		}

		before := map[string]any{
			"risk_score": inv.RiskScore,
			"risk_level": string(inv.RiskLevel),
		}
		now := time.Now().UTC()
		if err := tx.Model(&invoicedomain.Invoice{}).Where("id = ?", iid).Updates(map[string]any{
			"risk_score": assessment.Score,
			"risk_level": assessment.Level,
			"risk_flags": datatypes.JSON(flags),
			"updated_at": now,
		}).Error; err != nil {
			return err
		}

		inv.RiskScore = assessment.Score
		inv.RiskLevel = assessment.Level
		inv.RiskFlags = datatypes.JSON(flags)
		inv.UpdatedAt = now

		return s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "invoice",
			EntityID:   inv.ID.String(),
			Action:     "invoice.rescored",
			Actor:      actor,
			Before:     before,
			After: map[string]any{
				"risk_score": assessment.Score,
				"risk_level": string(assessment.Level),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return &inv, nil
}

func (s *Service) Get(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	iid, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, invoicedomain.ErrNotFound
	}
	var inv invoicedomain.Invoice
	if err := s.db.WithContext(ctx).First(&inv, "id = ?", iid).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, invoicedomain.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListRequest) ([]invoicedomain.Invoice, error) {
	stmt := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{})
	if req.Status != nil {
		stmt = stmt.Where("status = ?", *req.Status)
	}
	if sid := strings.TrimSpace(req.SubcontractorID); sid != "" {
		id, err := snowflake.ParseString(sid)
		if err != nil {
			return nil, invoicedomain.ErrNotFound
		}
		stmt = stmt.Where("subcontractor_id = ?", id)
	}

	var invoices []invoicedomain.Invoice
	err := stmt.Order("created_at DESC, id DESC").Find(&invoices).Error
	return invoices, err
}

func (s *Service) resolvePayee(ctx context.Context, req invoicedomain.SubmitRequest) (*subdomain.Subcontractor, error) {
	if sid := strings.TrimSpace(req.SubcontractorID); sid != "" {
		id, err := snowflake.ParseString(sid)
		if err != nil {
			return nil, invoicedomain.ErrUnmatchedPayee
		}
		var sub subdomain.Subcontractor
		if err := s.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, invoicedomain.ErrUnmatchedPayee
			}
			return nil, err
		}
		return &sub, nil
	}

	if req.Channel == invoicedomain.ChannelEmail {
		sender := strings.ToLower(strings.TrimSpace(req.Sender))
		if sender == "" {
			return nil, invoicedomain.ErrUnmatchedPayee
		}
		var sub subdomain.Subcontractor
		err := s.db.WithContext(ctx).
			First(&sub, "email = ? AND active = ?", sender, true).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, invoicedomain.ErrUnmatchedPayee
			}
			return nil, err
		}
		return &sub, nil
	}

	return nil, invoicedomain.ErrUnmatchedPayee
}

func (s *Service) findByIdempotencyKey(ctx context.Context, key string) (*invoicedomain.Invoice, error) {
	var inv invoicedomain.Invoice
	err := s.db.WithContext(ctx).First(&inv, "idempotency_key = ?", key).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}

// priorInvoices reads the payee's history inside the caller's transaction.
// Rejected invoices do not count towards duplicates or averages.
func (s *Service) priorInvoices(tx *gorm.DB, subID, exclude snowflake.ID) ([]risk.PriorInvoice, error) {
	var rows []invoicedomain.Invoice
	stmt := tx.Where("subcontractor_id = ? AND status <> ?", subID, approval.StatusRejected).
		Order("created_at ASC")
	if exclude != 0 {
		stmt = stmt.Where("id <> ?", exclude)
	}
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, err
	}

	priors := make([]risk.PriorInvoice, 0, len(rows))
	for _, row := range rows {
		priors = append(priors, risk.PriorInvoice{
			InvoiceNumber: row.InvoiceNumber,
			Amount:        row.Amount,
			InvoiceDate:   row.InvoiceDate,
		})
	}
	return priors, nil
}

func (s *Service) projectInvoiced(tx *gorm.DB, projectID, exclude snowflake.ID) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	stmt := tx.Model(&invoicedomain.Invoice{}).
		Select("SUM(amount)").
		Where("project_id = ? AND status <> ?", projectID, approval.StatusRejected)
	if exclude != 0 {
		stmt = stmt.Where("id <> ?", exclude)
	}
	if err := stmt.Scan(&total).Error; err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (s *Service) notify(inv invoicedomain.Invoice, sub subdomain.Subcontractor) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := s.notifier.InvoiceProcessed(ctx, email.Event{
		InvoiceID:     inv.ID.String(),
		InvoiceNumber: inv.InvoiceNumber,
		Status:        string(inv.Status),
		RiskLevel:     string(inv.RiskLevel),
		RecipientRole: "subcontractor",
		Recipient:     sub.Email,
	})
	if err != nil {
		s.log.Warn("notification failed",
			zap.String("invoice_id", inv.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) countSubmission(channel invoicedomain.SourceChannel, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Submissions.WithLabelValues(string(channel), outcome).Inc()
}

func idempotencyKey(document []byte, sender string) string {
	h := sha256.New()
	h.Write(document)
	h.Write([]byte("|"))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(sender))))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if mime == "image/jpg" {
		return "image/jpeg"
	}
	return mime
}

func invoiceSnapshot(inv invoicedomain.Invoice) map[string]any {
	return map[string]any{
		"invoice_number": inv.InvoiceNumber,
		"amount":         inv.Amount.StringFixed(2),
		"cis_rate":       inv.CISRate,
		"cis_deduction":  inv.CISDeduction.StringFixed(2),
		"net_payment":    inv.NetPayment.StringFixed(2),
		"status":         string(inv.Status),
		"risk_score":     inv.RiskScore,
		"risk_level":     string(inv.RiskLevel),
		"source_channel": string(inv.SourceChannel),
	}
}
