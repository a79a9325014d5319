package domain

import "github.com/shopspring/decimal"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPage keeps Page*Size far from integer overflow.
	MaxPage = 1_000_000
)

type PageRequest struct {
	Page int
	Size int
}

// Normalize clamps the request to a page in [0, MaxPage] and a size in [1, MaxPageSize].
func (r PageRequest) Normalize() PageRequest {
	if r.Page < 0 {
		r.Page = 0
	}
	if r.Page > MaxPage {
		r.Page = MaxPage
	}
	if r.Size <= 0 {
		r.Size = DefaultPageSize
	}
	if r.Size > MaxPageSize {
		r.Size = MaxPageSize
	}
	return r
}

func (r PageRequest) Offset() int { return r.Page * r.Size }

type Page struct {
	Content       []Payment `json:"content"`
	Page          int       `json:"page"`
	Size          int       `json:"size"`
	TotalElements int64     `json:"totalElements"`
	TotalPages    int       `json:"totalPages"`
}

func NewPage(items []Payment, req PageRequest, total int64) Page {
	if items == nil {
		items = []Payment{}
	}
	pages := 0
	if req.Size > 0 {
		pages = int((total + int64(req.Size) - 1) / int64(req.Size))
	}
	return Page{Content: items, Page: req.Page, Size: req.Size, TotalElements: total, TotalPages: pages}
}

// Totals are the raw aggregates a repository computes over all payments.
type Totals struct {
	Successful     int64
	Failed         int64
	Total          int64
	Revenue        int64
	RefundedAmount int64
}

type Stats struct {
	SuccessfulPayments       int64   `json:"successfulPayments"`
	FailedPayments           int64   `json:"failedPayments"`
	TotalPayments            int64   `json:"totalPayments"`
	TotalRevenue             int64   `json:"totalRevenue"`
	RefundedAmount           int64   `json:"refundedAmount"`
	SuccessRate              float64 `json:"successRate"`
	AverageTransactionAmount float64 `json:"averageTransactionAmount"`
}

// NewStats derives rates from totals. Revenue counts captured payments including refunded ones.
func NewStats(t Totals) Stats {
	s := Stats{
		SuccessfulPayments: t.Successful,
		FailedPayments:     t.Failed,
		TotalPayments:      t.Total,
		TotalRevenue:       t.Revenue,
		RefundedAmount:     t.RefundedAmount,
	}
	if t.Total > 0 {
		s.SuccessRate, _ = decimal.NewFromInt(t.Successful).
			Mul(decimal.NewFromInt(100)).
			DivRound(decimal.NewFromInt(t.Total), 2).
			Float64()
	}
	if t.Successful > 0 {
		s.AverageTransactionAmount, _ = decimal.NewFromInt(t.Revenue).
			DivRound(decimal.NewFromInt(t.Successful), 2).
			Float64()
	}
	return s
}
