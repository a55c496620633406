package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/sitebooks/sitebooks/internal/approval"
	auditdomain "github.com/sitebooks/sitebooks/internal/audit/domain"
	invoicedomain "github.com/sitebooks/sitebooks/internal/invoice/domain"
	"github.com/sitebooks/sitebooks/internal/observability/metrics"
	domain "github.com/sitebooks/sitebooks/internal/paymentrun/domain"
	subdomain "github.com/sitebooks/sitebooks/internal/subcontractor/domain"
	"github.com/sitebooks/sitebooks/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Audit   auditdomain.Recorder
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	audit   auditdomain.Recorder
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("paymentrun.service"),
		genID:   p.GenID,
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

// Build opens a run and sweeps in every approved invoice not already held
// by an open run. The total is the live sum over members.
func (s *Service) Build(ctx context.Context, req domain.BuildRequest) (*domain.PaymentRun, error) {
	scheduled := req.ScheduledDate
	if scheduled.IsZero() {
		scheduled = time.Now().UTC()
	}

	run := domain.PaymentRun{
		ID:            s.genID.Generate(),
		Reference:     ulid.Make().String(),
		Status:        domain.RunStatusDraft,
		ScheduledDate: scheduled.UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}

		// Lock candidates so a concurrent build cannot claim the same
		// invoices into a second open run.
		var candidates []invoicedomain.Invoice
		if err := db.LockForUpdate(tx).
			Where("status = ? AND payment_run_id IS NULL", approval.StatusApproved).
			Order("created_at ASC, id ASC").
			Find(&candidates).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, inv := range candidates {
			if err := tx.Model(&invoicedomain.Invoice{}).
				Where("id = ? AND payment_run_id IS NULL", inv.ID).
				Updates(map[string]any{
					"payment_run_id": run.ID,
					"updated_at":     now,
				}).Error; err != nil {
				return err
			}
		}

		total, err := s.recomputeTotal(tx, run.ID)
		if err != nil {
			return err
		}
		run.TotalNetPayment = total

		return s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "payment_run",
			EntityID:   run.ID.String(),
			Action:     "payment_run.created",
			Actor:      req.Actor,
			After: map[string]any{
				"reference":         run.Reference,
				"member_count":      len(candidates),
				"total_net_payment": total.StringFixed(2),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return &run, nil
}

func (s *Service) Attach(ctx context.Context, runID, invoiceID, actor string) (*domain.PaymentRun, error) {
	rid, err := parseID(runID, domain.ErrNotFound)
	if err != nil {
		return nil, err
	}
	iid, err := parseID(invoiceID, domain.ErrInvoiceNotEligible)
	if err != nil {
		return nil, err
	}

	var run domain.PaymentRun
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRun(tx, rid, &run); err != nil {
			return err
		}
		if run.Status != domain.RunStatusDraft {
			return domain.ErrRunNotDraft
		}

		var inv invoicedomain.Invoice
		if err := db.LockForUpdate(tx).
			First(&inv, "id = ?", iid).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return domain.ErrInvoiceNotEligible
			}
			return err
		}
		if inv.Status != approval.StatusApproved || inv.PaymentRunID != nil {
			return domain.ErrInvoiceNotEligible
		}

		now := time.Now().UTC()
		if err := tx.Model(&invoicedomain.Invoice{}).Where("id = ?", iid).
			Updates(map[string]any{"payment_run_id": rid, "updated_at": now}).Error; err != nil {
			return err
		}

		total, err := s.recomputeTotal(tx, rid)
		if err != nil {
			return err
		}
		run.TotalNetPayment = total

		return s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "payment_run",
			EntityID:   run.ID.String(),
			Action:     "payment_run.invoice_attached",
			Actor:      actor,
			After: map[string]any{
				"invoice_id":        inv.ID.String(),
				"total_net_payment": total.StringFixed(2),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return &run, nil
}

func (s *Service) Detach(ctx context.Context, runID, invoiceID, actor string) (*domain.PaymentRun, error) {
	rid, err := parseID(runID, domain.ErrNotFound)
	if err != nil {
		return nil, err
	}
	iid, err := parseID(invoiceID, domain.ErrInvoiceNotEligible)
	if err != nil {
		return nil, err
	}

	var run domain.PaymentRun
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRun(tx, rid, &run); err != nil {
			return err
		}
		if run.Status != domain.RunStatusDraft {
			return domain.ErrRunNotDraft
		}

		result := tx.Model(&invoicedomain.Invoice{}).
			Where("id = ? AND payment_run_id = ?", iid, rid).
			Updates(map[string]any{"payment_run_id": nil, "updated_at": time.Now().UTC()})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrInvoiceNotEligible
		}

		total, err := s.recomputeTotal(tx, rid)
		if err != nil {
			return err
		}
		run.TotalNetPayment = total

		return s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "payment_run",
			EntityID:   run.ID.String(),
			Action:     "payment_run.invoice_detached",
			Actor:      actor,
			After: map[string]any{
				"invoice_id":        iid.String(),
				"total_net_payment": total.StringFixed(2),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return &run, nil
}

func (s *Service) MarkReady(ctx context.Context, runID, actor string) (*domain.PaymentRun, error) {
	rid, err := parseID(runID, domain.ErrNotFound)
	if err != nil {
		return nil, err
	}

	var run domain.PaymentRun
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRun(tx, rid, &run); err != nil {
			return err
		}
		if run.Status != domain.RunStatusDraft {
			return domain.ErrRunNotDraft
		}

		now := time.Now().UTC()
		if err := tx.Model(&domain.PaymentRun{}).Where("id = ?", rid).
			Updates(map[string]any{"status": domain.RunStatusReady, "updated_at": now}).Error; err != nil {
			return err
		}
		run.Status = domain.RunStatusReady

		return s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "payment_run",
			EntityID:   run.ID.String(),
			Action:     "payment_run.ready",
			Actor:      actor,
			Before:     map[string]any{"status": string(domain.RunStatusDraft)},
			After:      map[string]any{"status": string(domain.RunStatusReady)},
		})
	})
	if err != nil {
		return nil, err
	}

	return &run, nil
}

// Export renders one payment instruction per member invoice, ordered by
// invoice creation so a re-export is byte-identical. Exporting never
// changes invoice statuses; the first export moves a READY run to
// EXPORTED.
func (s *Service) Export(ctx context.Context, runID, actor string) ([]byte, error) {
	rid, err := parseID(runID, domain.ErrNotFound)
	if err != nil {
		return nil, err
	}

	var out []byte
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run domain.PaymentRun
		if err := lockRun(tx, rid, &run); err != nil {
			return err
		}
		if run.Status == domain.RunStatusDraft {
			return domain.ErrRunNotReady
		}

		members, subs, err := s.members(tx, rid)
		if err != nil {
			return err
		}

		var buf bytes.Buffer
		for _, inv := range members {
			sub := subs[inv.SubcontractorID]
			fmt.Fprintf(&buf, "%s,%s,%s,%s,%s\n",
				sub.Name,
				sub.AccountNumber,
				sub.SortCode,
				inv.NetPayment.StringFixed(2),
				inv.InvoiceNumber,
			)
		}
		out = buf.Bytes()

		if run.Status != domain.RunStatusReady {
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Model(&domain.PaymentRun{}).Where("id = ?", rid).
			Updates(map[string]any{"status": domain.RunStatusExported, "updated_at": now}).Error; err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "payment_run",
			EntityID:   run.ID.String(),
			Action:     "payment_run.exported",
			Actor:      actor,
			Before:     map[string]any{"status": string(domain.RunStatusReady)},
			After:      map[string]any{"status": string(domain.RunStatusExported), "lines": len(members)},
		})
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Complete settles the run: every member must still be APPROVED, and all
// of them transition to PAID in one transaction. A single ineligible
// member aborts the whole completion.
func (s *Service) Complete(ctx context.Context, runID, actor string) (*domain.PaymentRun, error) {
	rid, err := parseID(runID, domain.ErrNotFound)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(actor) == "" {
		actor = auditdomain.ActorPaymentRun
	}

	var run domain.PaymentRun
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRun(tx, rid, &run); err != nil {
			return err
		}
		if run.Status != domain.RunStatusReady && run.Status != domain.RunStatusExported {
			return domain.ErrRunNotReady
		}

		var members []invoicedomain.Invoice
		if err := db.LockForUpdate(tx).
			Where("payment_run_id = ?", rid).
			Order("created_at ASC, id ASC").
			Find(&members).Error; err != nil {
			return err
		}

		for _, inv := range members {
			if inv.Status != approval.StatusApproved {
				return fmt.Errorf("%w: invoice %s is %s",
					domain.ErrRunCompletionConflict, inv.ID.String(), inv.Status)
			}
		}

		now := time.Now().UTC()
		paidBySub := make(map[snowflake.ID]decimal.Decimal)
		for _, inv := range members {
			if err := tx.Model(&invoicedomain.Invoice{}).Where("id = ?", inv.ID).
				Updates(map[string]any{
					"status":       approval.StatusPaid,
					"payment_date": now,
					"updated_at":   now,
				}).Error; err != nil {
				return err
			}
			paidBySub[inv.SubcontractorID] = paidBySub[inv.SubcontractorID].Add(inv.NetPayment)

			if err := s.audit.Record(ctx, tx, auditdomain.Entry{
				EntityType: "invoice",
				EntityID:   inv.ID.String(),
				Action:     "invoice.paid",
				Actor:      actor,
				Before:     map[string]any{"status": string(approval.StatusApproved)},
				After: map[string]any{
					"status":         string(approval.StatusPaid),
					"payment_run_id": run.ID.String(),
				},
			}); err != nil {
				return err
			}
		}

		for subID, paid := range paidBySub {
			if err := tx.Model(&subdomain.Subcontractor{}).Where("id = ?", subID).
				Updates(map[string]any{
					"total_paid": gorm.Expr("total_paid + ?", paid),
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
		}

		total, err := s.recomputeTotal(tx, rid)
		if err != nil {
			return err
		}

		if err := tx.Model(&domain.PaymentRun{}).Where("id = ?", rid).
			Updates(map[string]any{
				"status":            domain.RunStatusCompleted,
				"total_net_payment": total,
				"completed_at":      now,
				"updated_at":        now,
			}).Error; err != nil {
			return err
		}
		run.Status = domain.RunStatusCompleted
		run.TotalNetPayment = total
		run.CompletedAt = &now

		return s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "payment_run",
			EntityID:   run.ID.String(),
			Action:     "payment_run.completed",
			Actor:      actor,
			After: map[string]any{
				"member_count":      len(members),
				"total_net_payment": total.StringFixed(2),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RunsCompleted.Inc()
	}
	return &run, nil
}

func (s *Service) Get(ctx context.Context, runID string) (*domain.PaymentRun, error) {
	rid, err := parseID(runID, domain.ErrNotFound)
	if err != nil {
		return nil, err
	}
	var run domain.PaymentRun
	if err := s.db.WithContext(ctx).First(&run, "id = ?", rid).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

func (s *Service) List(ctx context.Context) ([]domain.PaymentRun, error) {
	var runs []domain.PaymentRun
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Find(&runs).Error
	return runs, err
}

// MonthlyRollup groups PAID invoices by subcontractor over the payment
// month. Payees missing a UTR are surfaced as a blocking flag rather than
// dropped from the return.
func (s *Service) MonthlyRollup(ctx context.Context, year int, month time.Month) (*domain.Rollup, error) {
	if year < 2000 || month < time.January || month > time.December {
		return nil, domain.ErrInvalidMonth
	}

	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	var invoices []invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Where("status = ? AND payment_date >= ? AND payment_date < ?", approval.StatusPaid, start, end).
		Order("subcontractor_id ASC, created_at ASC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}

	subIDs := make([]snowflake.ID, 0)
	seen := make(map[snowflake.ID]bool)
	for _, inv := range invoices {
		if !seen[inv.SubcontractorID] {
			seen[inv.SubcontractorID] = true
			subIDs = append(subIDs, inv.SubcontractorID)
		}
	}

	subs := make(map[snowflake.ID]subdomain.Subcontractor, len(subIDs))
	if len(subIDs) > 0 {
		var rows []subdomain.Subcontractor
		if err := s.db.WithContext(ctx).Where("id IN ?", subIDs).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			subs[row.ID] = row
		}
	}

	bySub := make(map[snowflake.ID]*domain.RollupRow)
	for _, inv := range invoices {
		row, ok := bySub[inv.SubcontractorID]
		if !ok {
			sub := subs[inv.SubcontractorID]
			row = &domain.RollupRow{
				SubcontractorID: inv.SubcontractorID,
				Name:            sub.Name,
				UTR:             sub.UTR,
				MissingUTR:      strings.TrimSpace(sub.UTR) == "",
			}
			bySub[inv.SubcontractorID] = row
		}
		row.InvoiceCount++
		row.GrossTotal = row.GrossTotal.Add(inv.Amount)
		row.DeductionTotal = row.DeductionTotal.Add(inv.CISDeduction)
		row.NetTotal = row.NetTotal.Add(inv.NetPayment)
	}

	// Preserve the subcontractor_id ordering of the query.
	rollup := domain.Rollup{Year: year, Month: month}
	for _, subID := range subIDs {
		row := bySub[subID]
		rollup.Rows = append(rollup.Rows, *row)
		if row.MissingUTR {
			rollup.MissingUTR = append(rollup.MissingUTR, row.Name)
		}
	}

	return &rollup, nil
}

func (s *Service) recomputeTotal(tx *gorm.DB, runID snowflake.ID) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := tx.Model(&invoicedomain.Invoice{}).
		Select("SUM(net_payment)").
		Where("payment_run_id = ?", runID).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}

	value := decimal.Zero
	if total.Valid {
		value = total.Decimal
	}

	err = tx.Model(&domain.PaymentRun{}).Where("id = ?", runID).
		Update("total_net_payment", value).Error
	return value, err
}

func (s *Service) members(tx *gorm.DB, runID snowflake.ID) ([]invoicedomain.Invoice, map[snowflake.ID]subdomain.Subcontractor, error) {
	var members []invoicedomain.Invoice
	if err := tx.Where("payment_run_id = ?", runID).
		Order("created_at ASC, id ASC").
		Find(&members).Error; err != nil {
		return nil, nil, err
	}

	subs := make(map[snowflake.ID]subdomain.Subcontractor)
	for _, inv := range members {
		if _, ok := subs[inv.SubcontractorID]; ok {
			continue
		}
		var sub subdomain.Subcontractor
		if err := tx.First(&sub, "id = ?", inv.SubcontractorID).Error; err != nil {
			return nil, nil, err
		}
		subs[inv.SubcontractorID] = sub
	}

	return members, subs, nil
}

func lockRun(tx *gorm.DB, id snowflake.ID, run *domain.PaymentRun) error {
	err := db.LockForUpdate(tx).
		First(run, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return domain.ErrNotFound
	}
	return err
}

func parseID(raw string, notFound error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, notFound
	}
	return id, nil
}
