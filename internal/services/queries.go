package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sellaro/billing/internal/models"
)

// QueryService serves the read-only aggregations. Every query is scoped to a
// single workspace; nothing here ever crosses tenants.
type QueryService struct {
	DB *gorm.DB
}

func NewQueryService(db *gorm.DB) *QueryService { return &QueryService{DB: db} }

// AgingBucket is one column of the receivables aging report.
type AgingBucket struct {
	Count  int64 `json:"count"`
	Amount int64 `json:"amount"`
}

// AgingReport buckets open invoices by whole days past due, computed at query
// time from now - dueDate, never stored.
type AgingReport struct {
	Current    AgingBucket `json:"current"`
	Days1To30  AgingBucket `json:"days_1_30"`
	Days31To60 AgingBucket `json:"days_31_60"`
	Days61To90 AgingBucket `json:"days_61_90"`
	Over90     AgingBucket `json:"over_90"`
}

func (r *AgingReport) add(daysPastDue int, amount int64) {
	var b *AgingBucket
	switch {
	case daysPastDue <= 0:
		b = &r.Current
	case daysPastDue <= 30:
		b = &r.Days1To30
	case daysPastDue <= 60:
		b = &r.Days31To60
	case daysPastDue <= 90:
		b = &r.Days61To90
	default:
		b = &r.Over90
	}
	b.Count++
	b.Amount += amount
}

// Aging returns the aging report for a workspace's open invoices. Invoices
// without a due date count as current.
func (s *QueryService) Aging(ctx context.Context, workspaceID uint, now time.Time) (AgingReport, error) {
	var open []models.Invoice
	err := s.DB.WithContext(ctx).
		Where("workspace_id = ? AND status IN ?", workspaceID, []string{models.InvoiceSent, models.InvoiceOverdue}).
		Find(&open).Error
	if err != nil {
		return AgingReport{}, err
	}
	var report AgingReport
	for _, inv := range open {
		days := 0
		if inv.DueDate != nil {
			days = int(now.Sub(*inv.DueDate).Hours() / 24)
		}
		report.add(days, inv.Total)
	}
	return report, nil
}

// DashboardTotals are the headline numbers: what is owed, what has been
// collected, and this month's revenue.
type DashboardTotals struct {
	Outstanding  int64 `json:"outstanding"`
	Collected    int64 `json:"collected"`
	MonthRevenue int64 `json:"month_revenue"`
	OpenInvoices int64 `json:"open_invoices"`
}

func (s *QueryService) Dashboard(ctx context.Context, workspaceID uint, now time.Time) (DashboardTotals, error) {
	var out DashboardTotals
	open := []string{models.InvoiceSent, models.InvoiceOverdue}

	row := s.DB.WithContext(ctx).Model(&models.Invoice{}).
		Select("COALESCE(SUM(total),0) AS amount, COUNT(*) AS n").
		Where("workspace_id = ? AND status IN ?", workspaceID, open)
	var outstanding struct {
		Amount int64
		N      int64
	}
	if err := row.Scan(&outstanding).Error; err != nil {
		return out, err
	}
	out.Outstanding = outstanding.Amount
	out.OpenInvoices = outstanding.N

	if err := s.DB.WithContext(ctx).Model(&models.Payment{}).
		Select("COALESCE(SUM(amount),0)").
		Where("workspace_id = ?", workspaceID).
		Scan(&out.Collected).Error; err != nil {
		return out, err
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	nextMonth := monthStart.AddDate(0, 1, 0)
	if err := s.DB.WithContext(ctx).Model(&models.Payment{}).
		Select("COALESCE(SUM(amount),0)").
		Where("workspace_id = ? AND paid_at >= ? AND paid_at < ?", workspaceID, monthStart, nextMonth).
		Scan(&out.MonthRevenue).Error; err != nil {
		return out, err
	}
	return out, nil
}

// AverageCollectionDays is the mean of paidDate - invoiceDate across settled
// invoices, in days. Returns 0 when nothing has been collected yet.
func (s *QueryService) AverageCollectionDays(ctx context.Context, workspaceID uint) (float64, error) {
	var paid []models.Invoice
	err := s.DB.WithContext(ctx).
		Where("workspace_id = ? AND status = ? AND paid_date IS NOT NULL", workspaceID, models.InvoicePaid).
		Find(&paid).Error
	if err != nil {
		return 0, err
	}
	if len(paid) == 0 {
		return 0, nil
	}
	var totalDays float64
	for _, inv := range paid {
		totalDays += inv.PaidDate.Sub(inv.InvoiceDate).Hours() / 24
	}
	return totalDays / float64(len(paid)), nil
}
