package rpc

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"kusdcore/native/bank"
	nativecommon "kusdcore/native/common"
	"kusdcore/native/stable"
	"kusdcore/native/vault"
	"kusdcore/native/yield"
)

// traceIDFromContext surfaces the active trace so operators can correlate an
// RPC failure with the exported spans.
func traceIDFromContext(ctx context.Context) string {
	span := trace.SpanContextFromContext(ctx)
	if !span.HasTraceID() {
		return ""
	}
	return span.TraceID().String()
}

func serverErrorData(ctx context.Context, err error) map[string]string {
	data := map[string]string{"error": err.Error()}
	if traceID := traceIDFromContext(ctx); traceID != "" {
		data["traceId"] = traceID
	}
	return data
}

// writeStableError maps deposit and redemption failures onto the RPC error
// envelope. Request-shaped failures carry codeInvalidParams; custody and
// capacity conditions are server-side and carry the trace ID for follow-up.
func writeStableError(w http.ResponseWriter, r *http.Request, id interface{}, err error) {
	var capErr *stable.CapacityError
	switch {
	case errors.As(err, &capErr):
		data := map[string]string{
			"scope":     capErr.Scope,
			"limit":     amountString(capErr.Limit),
			"current":   amountString(capErr.Current),
			"attempted": amountString(capErr.Attempted),
		}
		if traceID := traceIDFromContext(r.Context()); traceID != "" {
			data["traceId"] = traceID
		}
		writeError(w, http.StatusConflict, id, codeServerError, err.Error(), data)
	case errors.Is(err, stable.ErrAssetNotSupported),
		errors.Is(err, stable.ErrRedemptionNotFound):
		writeError(w, http.StatusNotFound, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, stable.ErrInvalidAmount),
		errors.Is(err, stable.ErrAmountTooSmall),
		errors.Is(err, stable.ErrBelowMinimum):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, stable.ErrRedemptionNotReady),
		errors.Is(err, stable.ErrRedemptionCompleted),
		errors.Is(err, stable.ErrTooManyOpenRedemptions):
		writeError(w, http.StatusConflict, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, stable.ErrInsufficientBalance),
		errors.Is(err, bank.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, stable.ErrInsufficientReserve):
		writeError(w, http.StatusConflict, id, codeServerError, err.Error(), serverErrorData(r.Context(), err))
	case errors.Is(err, stable.ErrNotAllowed),
		errors.Is(err, stable.ErrForbidden),
		errors.Is(err, stable.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, nativecommon.ErrModulePaused):
		writeError(w, http.StatusServiceUnavailable, id, codeServerError, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal error", serverErrorData(r.Context(), err))
	}
}

func writeYieldError(w http.ResponseWriter, r *http.Request, id interface{}, err error) {
	switch {
	case errors.Is(err, yield.ErrDistributionNotFound),
		errors.Is(err, yield.ErrAssetNotSupported):
		writeError(w, http.StatusNotFound, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, yield.ErrInvalidAmount),
		errors.Is(err, yield.ErrDurationOutOfRange),
		errors.Is(err, yield.ErrStartInPast):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, yield.ErrTooManyActive),
		errors.Is(err, yield.ErrDistributionInactive),
		errors.Is(err, yield.ErrNothingDue):
		writeError(w, http.StatusConflict, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, yield.ErrInsufficientCustody):
		writeError(w, http.StatusConflict, id, codeServerError, err.Error(), serverErrorData(r.Context(), err))
	case errors.Is(err, yield.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, nativecommon.ErrModulePaused):
		writeError(w, http.StatusServiceUnavailable, id, codeServerError, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal error", serverErrorData(r.Context(), err))
	}
}

func writeVaultError(w http.ResponseWriter, r *http.Request, id interface{}, err error) {
	switch {
	case errors.Is(err, vault.ErrAmountTooSmall):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, vault.ErrInsufficientShares),
		errors.Is(err, bank.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, nativecommon.ErrModulePaused):
		writeError(w, http.StatusServiceUnavailable, id, codeServerError, err.Error(), nil)
	default:
		writeStableError(w, r, id, err)
	}
}
