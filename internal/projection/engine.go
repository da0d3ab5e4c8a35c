// Package projection generates the twelve-month prescription cost projection
// shown to patients after every prescription change.
package projection

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"medipay/pkg/domain"

	"github.com/shopspring/decimal"
)

// MonthNames lists the breakdown labels in projection order.
var MonthNames = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

const (
	// growthSpread is the width of the uniform growth band centred on 1 (±5%).
	growthSpread = 0.1
	// seasonalAmplitude scales the sin(i/2) seasonal wave (±5%).
	seasonalAmplitude = 0.05
	// amountPlaces is the number of decimals kept per monthly amount.
	amountPlaces = 2
)

// ErrInvalidInput is returned when the starting monthly cost is negative or not
// finite, or is so large that the projection itself overflows.
var ErrInvalidInput = errors.New("projection: invalid input")

// Source supplies uniform draws in [0,1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// Result is an immutable twelve-month projection.
type Result struct {
	AnnualCost         float64                   `json:"annual_cost"`
	MonthlyInstallment float64                   `json:"monthly_emi"`
	MonthlyBreakdown   []domain.MonthlyCostPoint `json:"monthly_breakdown"`
}

// Engine runs projections. The zero value is not usable; call New.
type Engine struct {
	mu  sync.Mutex
	src Source
}

// New returns an engine drawing growth factors from src. A nil src uses the
// process-wide generator, so results differ between calls.
func New(src Source) *Engine {
	if src == nil {
		src = globalSource{}
	}
	return &Engine{src: src}
}

// NewSeeded returns an engine whose draws are reproducible for a given seed.
func NewSeeded(seed uint64) *Engine {
	return New(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Project compounds startingMonthlyCost through twelve months of random growth
// and seasonal adjustment. Each month's amount is the running cost rounded to
// two decimals; the running cost itself is never rounded.
func (e *Engine) Project(startingMonthlyCost float64) (Result, error) {
	if math.IsNaN(startingMonthlyCost) || math.IsInf(startingMonthlyCost, 0) || startingMonthlyCost < 0 {
		return Result{}, fmt.Errorf("%w: starting monthly cost %v", ErrInvalidInput, startingMonthlyCost)
	}

	breakdown, err := e.compound(startingMonthlyCost)
	if err != nil {
		return Result{}, err
	}

	annual := 0.0
	for _, point := range breakdown {
		annual += point.Amount
	}
	if math.IsInf(annual, 0) {
		return Result{}, fmt.Errorf("%w: annual cost overflows for starting monthly cost %v", ErrInvalidInput, startingMonthlyCost)
	}
	return Result{
		AnnualCost:         annual,
		MonthlyInstallment: annual / float64(len(MonthNames)),
		MonthlyBreakdown:   breakdown,
	}, nil
}

func (e *Engine) compound(start float64) ([]domain.MonthlyCostPoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	breakdown := make([]domain.MonthlyCostPoint, len(MonthNames))
	running := start
	for i, month := range MonthNames {
		growth := 1 + (e.src.Float64()-0.5)*growthSpread
		seasonal := 1 + math.Sin(float64(i)/2)*seasonalAmplitude
		running = running * growth * seasonal
		if math.IsInf(running, 0) || math.IsNaN(running) {
			return nil, fmt.Errorf("%w: %s cost overflows for starting monthly cost %v", ErrInvalidInput, month, start)
		}
		breakdown[i] = domain.MonthlyCostPoint{Month: month, Amount: RoundAmount(running)}
	}
	return breakdown, nil
}

// RoundAmount rounds a currency value to two decimals.
func RoundAmount(v float64) float64 {
	return decimal.NewFromFloat(v).Round(amountPlaces).InexactFloat64()
}

// FormatAmount renders a currency value with exactly two decimals.
func FormatAmount(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(amountPlaces)
}
