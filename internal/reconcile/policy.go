package reconcile

import "github.com/patungan-id/backend-patungan/internal/money"

// Policy holds the tolerance configuration for reconciliation. Values are
// process-wide defaults that individual deployments override via config.
type Policy struct {
	// Epsilon is the cent tolerance inside which item math is trusted.
	Epsilon float64
	// MaxAdjustmentAbs caps the absolute size of an auto-written
	// adjustment line. Zero disables the cap.
	MaxAdjustmentAbs float64
	// MaxAdjustmentPct caps the adjustment relative to the baseline
	// subtotal (0.25 = 25%). Zero disables the cap.
	MaxAdjustmentPct float64
}

// DefaultPolicy returns the tolerances used when no overrides are configured.
func DefaultPolicy() Policy {
	return Policy{
		Epsilon:          0.01,
		MaxAdjustmentAbs: 20.00,
		MaxAdjustmentPct: 0.25,
	}
}

// Capped reports whether writing an adjustment of the given size against the
// given baseline would exceed the configured caps.
func (p Policy) Capped(delta, baseline float64) bool {
	abs := delta
	if abs < 0 {
		abs = -abs
	}
	if p.MaxAdjustmentAbs > 0 && abs > p.MaxAdjustmentAbs {
		return true
	}
	if p.MaxAdjustmentPct > 0 && baseline != 0 {
		limit := baseline
		if limit < 0 {
			limit = -limit
		}
		if abs > money.Round2(limit*p.MaxAdjustmentPct) {
			return true
		}
	}
	return false
}
