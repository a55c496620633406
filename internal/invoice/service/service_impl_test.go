package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/sitebooks/sitebooks/internal/approval"
	auditdomain "github.com/sitebooks/sitebooks/internal/audit/domain"
	auditservice "github.com/sitebooks/sitebooks/internal/audit/service"
	"github.com/sitebooks/sitebooks/internal/config"
	invoicedomain "github.com/sitebooks/sitebooks/internal/invoice/domain"
	projectdomain "github.com/sitebooks/sitebooks/internal/project/domain"
	"github.com/sitebooks/sitebooks/internal/providers/docai"
	"github.com/sitebooks/sitebooks/internal/providers/email"
	"github.com/sitebooks/sitebooks/internal/risk"
	subdomain "github.com/sitebooks/sitebooks/internal/subcontractor/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type extractorStub struct {
	result *docai.Result
	err    error
}

func (e *extractorStub) Extract(ctx context.Context, doc docai.Document, ectx docai.Context) (*docai.Result, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := *e.result
	return &out, nil
}

// seedNode is shared so rapid-fire seeding cannot mint colliding IDs the
// way per-call nodes would inside one millisecond.
var seedNode = func() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}()

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&subdomain.Subcontractor{},
		&projectdomain.Project{},
		&invoicedomain.Invoice{},
		&auditdomain.AuditLog{},
	))
	return gdb
}

func setupService(t *testing.T, gdb *gorm.DB, extractor docai.Extractor) invoicedomain.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	recorder := auditservice.NewService(auditservice.Params{
		DB:    gdb,
		Log:   log,
		GenID: node,
	})

	return NewService(ServiceParam{
		DB:        gdb,
		Log:       log,
		GenID:     node,
		Audit:     recorder,
		Extractor: extractor,
		Scorer:    risk.NewScorer(risk.DefaultConfig()),
		Policy:    approval.DefaultPolicy(),
		Notifier:  email.NoOpNotifier{},
		Cfg:       config.Config{Pipeline: config.PipelineConfig{UploadMaxBytes: 10 << 20}},
	})
}

func seedSubcontractor(t *testing.T, gdb *gorm.DB, status subdomain.CISStatus, history int64) subdomain.Subcontractor {
	t.Helper()
	sub := subdomain.Subcontractor{
		ID:            seedNode.Generate(),
		Name:          "Drylining Ltd",
		Email:         "invoices@drylining.example",
		UTR:           "1234567890",
		CISStatus:     status,
		AccountNumber: "12345678",
		SortCode:      "20-00-00",
		TotalInvoices: history,
		TotalPaid:     decimal.Zero,
		Active:        true,
	}
	require.NoError(t, gdb.Create(&sub).Error)
	return sub
}

func extractionResult(number string, amount string) *docai.Result {
	return &docai.Result{
		InvoiceNumber: number,
		IssueDate:     time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC),
		SupplierName:  "Drylining Ltd",
		TotalAmount:   decimal.RequireFromString(amount),
		Confidence:    0.95,
	}
}

func TestSubmitCreatesInvoiceWithDeduction(t *testing.T) {
	gdb := openTestDB(t)
	svc := setupService(t, gdb, &extractorStub{result: extractionResult("INV-100", "1000.00")})
	sub := seedSubcontractor(t, gdb, subdomain.StatusStandard, 0)

	result, err := svc.Submit(context.Background(), invoicedomain.SubmitRequest{
		Document:        []byte("%PDF-1.4 fake"),
		MIMEType:        "application/pdf",
		Channel:         invoicedomain.ChannelUpload,
		Sender:          sub.ID.String(),
		SubcontractorID: sub.ID.String(),
		Actor:           "user:site-admin",
	})
	require.NoError(t, err)
	require.True(t, result.Created)

	inv := result.Invoice
	assert.Equal(t, "INV-100", inv.InvoiceNumber)
	assert.Equal(t, 20, inv.CISRate)
	assert.Equal(t, "200.00", inv.CISDeduction.StringFixed(2))
	assert.Equal(t, "800.00", inv.NetPayment.StringFixed(2))
	assert.Equal(t, approval.StatusSubmitted, inv.Status)

	// New payee with zero history flags MEDIUM.
	types := make([]string, 0)
	for _, f := range inv.Flags() {
		types = append(types, f.Type)
	}
	assert.Contains(t, types, risk.FlagNewPayee)

	// History counter moved with the insert.
	var reloaded subdomain.Subcontractor
	require.NoError(t, gdb.First(&reloaded, "id = ?", sub.ID).Error)
	assert.Equal(t, int64(1), reloaded.TotalInvoices)
	assert.NotNil(t, reloaded.LastInvoiceAt)

	// The creation is audited.
	var logs []auditdomain.AuditLog
	require.NoError(t, gdb.Where("entity_id = ?", inv.ID.String()).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "invoice.created", logs[0].Action)
	assert.Equal(t, "user:site-admin", logs[0].Actor)
}

func TestSubmitIdempotentReplay(t *testing.T) {
	gdb := openTestDB(t)
	svc := setupService(t, gdb, &extractorStub{result: extractionResult("INV-200", "500.00")})
	sub := seedSubcontractor(t, gdb, subdomain.StatusStandard, 0)

	req := invoicedomain.SubmitRequest{
		Document:        []byte("identical bytes"),
		MIMEType:        "application/pdf",
		Channel:         invoicedomain.ChannelUpload,
		Sender:          sub.ID.String(),
		SubcontractorID: sub.ID.String(),
		Actor:           "user:site-admin",
	}

	first, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Invoice.ID, second.Invoice.ID)

	var count int64
	require.NoError(t, gdb.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSubmitDuplicateInvoiceNumberConflicts(t *testing.T) {
	gdb := openTestDB(t)
	stub := &extractorStub{result: extractionResult("INV-300", "500.00")}
	svc := setupService(t, gdb, stub)
	sub := seedSubcontractor(t, gdb, subdomain.StatusStandard, 0)

	_, err := svc.Submit(context.Background(), invoicedomain.SubmitRequest{
		Document:        []byte("first document"),
		MIMEType:        "application/pdf",
		Channel:         invoicedomain.ChannelUpload,
		Sender:          sub.ID.String(),
		SubcontractorID: sub.ID.String(),
	})
	require.NoError(t, err)

	// Different bytes, same extracted number: the unique index rejects it.
	_, err = svc.Submit(context.Background(), invoicedomain.SubmitRequest{
		Document:        []byte("second document"),
		MIMEType:        "application/pdf",
		Channel:         invoicedomain.ChannelUpload,
		Sender:          sub.ID.String(),
		SubcontractorID: sub.ID.String(),
	})
	assert.ErrorIs(t, err, invoicedomain.ErrDuplicateInvoiceNumber)
}

func TestSubmitBoundaryValidation(t *testing.T) {
	gdb := openTestDB(t)
	svc := setupService(t, gdb, &extractorStub{result: extractionResult("INV-X", "10.00")})

	_, err := svc.Submit(context.Background(), invoicedomain.SubmitRequest{
		Document: nil,
		MIMEType: "application/pdf",
		Channel:  invoicedomain.ChannelUpload,
	})
	assert.ErrorIs(t, err, invoicedomain.ErrEmptyDocument)

	_, err = svc.Submit(context.Background(), invoicedomain.SubmitRequest{
		Document: []byte("plain text"),
		MIMEType: "text/plain",
		Channel:  invoicedomain.ChannelUpload,
	})
	assert.ErrorIs(t, err, invoicedomain.ErrUnsupportedMediaType)
}

func TestSubmitUnmatchedPayee(t *testing.T) {
	gdb := openTestDB(t)
	svc := setupService(t, gdb, &extractorStub{result: extractionResult("INV-X", "10.00")})

	_, err := svc.Submit(context.Background(), invoicedomain.SubmitRequest{
		Document: []byte("%PDF"),
		MIMEType: "application/pdf",
		Channel:  invoicedomain.ChannelEmail,
		Sender:   "stranger@nowhere.example",
	})
	assert.ErrorIs(t, err, invoicedomain.ErrUnmatchedPayee)
}

func TestSubmitResolvesPayeeByEmail(t *testing.T) {
	gdb := openTestDB(t)
	svc := setupService(t, gdb, &extractorStub{result: extractionResult("INV-400", "250.00")})
	sub := seedSubcontractor(t, gdb, subdomain.StatusGross, 0)

	result, err := svc.Submit(context.Background(), invoicedomain.SubmitRequest{
		Document: []byte("%PDF emailed"),
		MIMEType: "application/pdf",
		Channel:  invoicedomain.ChannelEmail,
		Sender:   "Invoices@Drylining.example",
	})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, result.Invoice.SubcontractorID)
	assert.Equal(t, invoicedomain.ChannelEmail, result.Invoice.SourceChannel)
	// GROSS payees are withheld nothing.
	assert.Equal(t, 0, result.Invoice.CISRate)
	assert.True(t, result.Invoice.NetPayment.Equal(result.Invoice.Amount))
}

func TestSubmitExtractionFailureCreatesNothing(t *testing.T) {
	gdb := openTestDB(t)
	svc := setupService(t, gdb, &extractorStub{err: docai.ErrUnreadableDocument})
	sub := seedSubcontractor(t, gdb, subdomain.StatusStandard, 0)

	_, err := svc.Submit(context.Background(), invoicedomain.SubmitRequest{
		Document:        []byte("%PDF garbled"),
		MIMEType:        "application/pdf",
		Channel:         invoicedomain.ChannelUpload,
		Sender:          sub.ID.String(),
		SubcontractorID: sub.ID.String(),
	})
	assert.ErrorIs(t, err, docai.ErrUnreadableDocument)

	var count int64
	require.NoError(t, gdb.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubmitAutoApprovesTrustedPayee(t *testing.T) {
	gdb := openTestDB(t)
	svc := setupService(t, gdb, &extractorStub{result: extractionResult("INV-500", "4999.99")})
	sub := seedSubcontractor(t, gdb, subdomain.StatusStandard, 11)

	// Backfill enough history that the new-payee rule stays quiet.
	for i := 0; i < 3; i++ {
		seedInvoice(t, gdb, sub.ID, fmt.Sprintf("INV-OLD-%d", i), "4800.00", approval.StatusPaid)
	}

	result, err := svc.Submit(context.Background(), invoicedomain.SubmitRequest{
		Document:        []byte("%PDF trusted"),
		MIMEType:        "application/pdf",
		Channel:         invoicedomain.ChannelUpload,
		Sender:          sub.ID.String(),
		SubcontractorID: sub.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, result.Invoice.Status)

	var logs []auditdomain.AuditLog
	require.NoError(t, gdb.Where("entity_id = ? AND action = ?",
		result.Invoice.ID.String(), "invoice.auto_approved").Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.ActorAutoApproval, logs[0].Actor)
}

func TestSubmitHighRiskStaysSubmitted(t *testing.T) {
	gdb := openTestDB(t)
	stub := &extractorStub{result: extractionResult("INV-600", "100.00")}
	stub.result.Confidence = 0.4
	svc := setupService(t, gdb, stub)
	sub := seedSubcontractor(t, gdb, subdomain.StatusStandard, 20)

	result, err := svc.Submit(context.Background(), invoicedomain.SubmitRequest{
		Document:        []byte("%PDF blurry"),
		MIMEType:        "application/pdf",
		Channel:         invoicedomain.ChannelUpload,
		Sender:          sub.ID.String(),
		SubcontractorID: sub.ID.String(),
	})
	require.NoError(t, err)
	// Low confidence plus zero recorded invoices scores 50, above the
	// auto-approval ceiling.
	assert.Equal(t, approval.StatusSubmitted, result.Invoice.Status)
	assert.GreaterOrEqual(t, result.Invoice.RiskScore, 30)
}

func TestTransitions(t *testing.T) {
	gdb := openTestDB(t)
	svc := setupService(t, gdb, &extractorStub{result: extractionResult("INV-700", "100.00")})
	sub := seedSubcontractor(t, gdb, subdomain.StatusStandard, 0)

	result, err := svc.Submit(context.Background(), invoicedomain.SubmitRequest{
		Document:        []byte("%PDF transitions"),
		MIMEType:        "application/pdf",
		Channel:         invoicedomain.ChannelUpload,
		Sender:          sub.ID.String(),
		SubcontractorID: sub.ID.String(),
	})
	require.NoError(t, err)
	id := result.Invoice.ID.String()
	ctx := context.Background()

	reviewed, err := svc.MarkUnderReview(ctx, invoicedomain.TransitionRequest{ID: id, Actor: "user:reviewer"})
	require.NoError(t, err)
	assert.Equal(t, approval.StatusUnderReview, reviewed.Status)

	// Rejection without a reason is refused.
	_, err = svc.Reject(ctx, invoicedomain.TransitionRequest{ID: id, Actor: "user:reviewer"})
	assert.ErrorIs(t, err, invoicedomain.ErrReasonRequired)

	rejected, err := svc.Reject(ctx, invoicedomain.TransitionRequest{ID: id, Actor: "user:reviewer", Reason: "duplicate of INV-699"})
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectReason)
	assert.Equal(t, "duplicate of INV-699", *rejected.RejectReason)

	// Terminal state admits nothing further.
	_, err = svc.Approve(ctx, invoicedomain.TransitionRequest{ID: id, Actor: "user:reviewer"})
	assert.ErrorIs(t, err, approval.ErrInvalidTransition)
}

func TestCorrectRecomputesDeduction(t *testing.T) {
	gdb := openTestDB(t)
	svc := setupService(t, gdb, &extractorStub{result: extractionResult("INV-800", "1000.00")})
	sub := seedSubcontractor(t, gdb, subdomain.StatusHigher, 0)

	result, err := svc.Submit(context.Background(), invoicedomain.SubmitRequest{
		Document:        []byte("%PDF correction"),
		MIMEType:        "application/pdf",
		Channel:         invoicedomain.ChannelUpload,
		Sender:          sub.ID.String(),
		SubcontractorID: sub.ID.String(),
	})
	require.NoError(t, err)

	corrected, err := svc.Correct(context.Background(), invoicedomain.CorrectionRequest{
		ID:     result.Invoice.ID.String(),
		Amount: decimal.RequireFromString("800.00"),
		Actor:  "user:site-admin",
		Reason: "materials line double counted",
	})
	require.NoError(t, err)
	assert.Equal(t, "800.00", corrected.Amount.StringFixed(2))
	assert.Equal(t, 30, corrected.CISRate)
	assert.Equal(t, "240.00", corrected.CISDeduction.StringFixed(2))
	assert.Equal(t, "560.00", corrected.NetPayment.StringFixed(2))

	_, err = svc.Correct(context.Background(), invoicedomain.CorrectionRequest{
		ID:     result.Invoice.ID.String(),
		Amount: decimal.NewFromInt(900),
		Actor:  "user:site-admin",
	})
	assert.ErrorIs(t, err, invoicedomain.ErrReasonRequired)

	_, err = svc.Correct(context.Background(), invoicedomain.CorrectionRequest{
		ID:     result.Invoice.ID.String(),
		Amount: decimal.NewFromInt(-5),
		Actor:  "user:site-admin",
		Reason: "negative",
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidAmount)
}

func TestRescoreReplacesAssessment(t *testing.T) {
	gdb := openTestDB(t)
	svc := setupService(t, gdb, &extractorStub{result: extractionResult("INV-900", "100.00")})
	sub := seedSubcontractor(t, gdb, subdomain.StatusStandard, 0)

	result, err := svc.Submit(context.Background(), invoicedomain.SubmitRequest{
		Document:        []byte("%PDF rescore"),
		MIMEType:        "application/pdf",
		Channel:         invoicedomain.ChannelUpload,
		Sender:          sub.ID.String(),
		SubcontractorID: sub.ID.String(),
	})
	require.NoError(t, err)
	// Zero history raises the MEDIUM new-payee flag.
	assert.Equal(t, 25, result.Invoice.RiskScore)

	// Enough history accrues and the rescore clears the flag.
	for i := 0; i < 3; i++ {
		seedInvoice(t, gdb, sub.ID, fmt.Sprintf("INV-HIST-%d", i), "100.00", approval.StatusPaid)
	}

	rescored, err := svc.Rescore(context.Background(), result.Invoice.ID.String(), "user:site-admin")
	require.NoError(t, err)
	assert.Equal(t, 0, rescored.RiskScore)
	assert.Equal(t, risk.LevelLow, rescored.RiskLevel)

	var logs []auditdomain.AuditLog
	require.NoError(t, gdb.Where("entity_id = ? AND action = ?",
		result.Invoice.ID.String(), "invoice.rescored").Find(&logs).Error)
	assert.Len(t, logs, 1)
}

func seedInvoice(t *testing.T, gdb *gorm.DB, subID snowflake.ID, number, amount string, status approval.Status) invoicedomain.Invoice {
	t.Helper()
	amt := decimal.RequireFromString(amount)
	inv := invoicedomain.Invoice{
		ID:              seedNode.Generate(),
		SubcontractorID: subID,
		InvoiceNumber:   number,
		InvoiceDate:     time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Amount:          amt,
		CISRate:         20,
		CISDeduction:    amt.Mul(decimal.RequireFromString("0.2")).Round(2),
		NetPayment:      amt.Sub(amt.Mul(decimal.RequireFromString("0.2")).Round(2)),
		Status:          status,
		SourceChannel:   invoicedomain.ChannelUpload,
		IdempotencyKey:  "seed-" + number,
		CreatedAt:       time.Now().UTC().Add(-24 * time.Hour),
		UpdatedAt:       time.Now().UTC().Add(-24 * time.Hour),
	}
	require.NoError(t, gdb.Create(&inv).Error)
	return inv
}
