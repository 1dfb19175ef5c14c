package sale

import "errors"

var (
	// ErrUnauthorized rejects privileged calls made without the engine's
	// administrator capability.
	ErrUnauthorized = errors.New("sale: unauthorized")
	// ErrPlanNotFound rejects operations referencing an unknown plan id.
	ErrPlanNotFound = errors.New("sale: plan not found")
	// ErrAssetNotSupported rejects purchases in a currency the sale does not
	// accept (unknown asset or admissibility flag cleared).
	ErrAssetNotSupported = errors.New("sale: asset not supported")
	// ErrAmountOutOfRange rejects purchase amounts outside the asset's
	// per-user bounds.
	ErrAmountOutOfRange = errors.New("sale: amount out of range")
	// ErrHardCapExceeded rejects purchases that would push the asset's
	// cumulative raise above its hard cap.
	ErrHardCapExceeded = errors.New("sale: hard cap exceeded")
	// ErrSaleNotActive rejects purchases outside the plan's sale window.
	ErrSaleNotActive = errors.New("sale: sale not active")
	// ErrAlreadyPurchased rejects a second purchase for the same (plan,
	// buyer) pair.
	ErrAlreadyPurchased = errors.New("sale: already purchased")
	// ErrInvalidQuote rejects purchases whose oracle quote or effective
	// payment amount cannot price the allocation.
	ErrInvalidQuote = errors.New("sale: invalid oracle quote")
	// ErrSlippage rejects purchases whose allocation falls below the buyer's
	// minimum token bound.
	ErrSlippage = errors.New("sale: allocation below minimum")
	// ErrTransferFailed wraps custody failures moving funds in or out.
	ErrTransferFailed = errors.New("sale: transfer failed")
	// ErrNothingToClaim rejects claims by callers with no purchase record.
	ErrNothingToClaim = errors.New("sale: nothing to claim")
	// ErrStillLocked rejects claims before the plan lock has elapsed.
	ErrStillLocked = errors.New("sale: still locked")
	// ErrAlreadyClaimed rejects a second claim for an already released
	// purchase.
	ErrAlreadyClaimed = errors.New("sale: already claimed")
	// ErrReentrantCall rejects a buy, claim, or registry write submitted
	// while another one is still executing, including a collaborator calling
	// back into the engine mid-operation. Callers resubmit.
	ErrReentrantCall = errors.New("sale: reentrant or overlapping call")
)

// Code returns the stable machine-readable identifier for a sale error, or
// "Internal" when the error does not belong to the sale taxonomy. RPC clients
// key on these strings, so they must never change meaning.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrPlanNotFound):
		return "PlanNotFound"
	case errors.Is(err, ErrAssetNotSupported):
		return "AssetNotSupported"
	case errors.Is(err, ErrAmountOutOfRange):
		return "AmountOutOfRange"
	case errors.Is(err, ErrHardCapExceeded):
		return "HardCapExceeded"
	case errors.Is(err, ErrSaleNotActive):
		return "SaleNotActive"
	case errors.Is(err, ErrAlreadyPurchased):
		return "AlreadyPurchased"
	case errors.Is(err, ErrInvalidQuote):
		return "InvalidQuote"
	case errors.Is(err, ErrSlippage):
		return "Slippage"
	case errors.Is(err, ErrTransferFailed):
		return "TransferFailed"
	case errors.Is(err, ErrNothingToClaim):
		return "NothingToClaim"
	case errors.Is(err, ErrStillLocked):
		return "StillLocked"
	case errors.Is(err, ErrAlreadyClaimed):
		return "AlreadyClaimed"
	case errors.Is(err, ErrReentrantCall):
		return "ReentrantCall"
	default:
		return "Internal"
	}
}
