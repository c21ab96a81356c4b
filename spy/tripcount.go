package spy

import (
	"go/token"
	"math"
)

// TripCount returns the trace count for a counting loop `for v := initVal; v <cmp> limit; v += step`:
// floor((limit - initVal) / step), plus one for an inclusive comparison. Descending loops (> or >=) negate
// both bounds and pass a positive step when the variable decreases. Negative counts are clamped to zero.
func TripCount(initVal, limit int64, cmp token.Token, step int64) (int64, error) {
	boundsErr := func(reason string) error {
		return &InvalidLoopBoundsError{Init: initVal, Limit: limit, Op: cmp, Step: step, Reason: reason}
	}

	var inclusive int64
	var descending bool
	switch cmp {
	case token.LSS:
	case token.LEQ:
		inclusive = 1
	case token.GTR:
		descending = true
	case token.GEQ:
		descending, inclusive = true, 1
	default:
		return 0, boundsErr("comparison must be one of <, <=, >, >=")
	}
	if step == 0 {
		return 0, boundsErr("zero step never reaches the limit")
	}

	lo, hi := initVal, limit
	if descending {
		if lo == math.MinInt64 || hi == math.MinInt64 {
			return 0, boundsErr("bound can not be negated")
		}
		lo, hi = -lo, -hi
	}

	if (lo < 0 && hi > math.MaxInt64+lo) || (lo > 0 && hi < math.MinInt64+lo) {
		return 0, boundsErr("loop span overflows int64")
	}
	span := hi - lo
	if span == math.MinInt64 && step == -1 {
		return 0, boundsErr("trip count overflows int64")
	}

	count := span / step
	if span%step != 0 && (span < 0) != (step < 0) {
		count-- // round toward negative infinity
	}
	if count < 0 {
		return 0, nil
	} else if count == math.MaxInt64 && inclusive == 1 {
		return 0, boundsErr("trip count overflows int64")
	}
	return count + inclusive, nil
}
