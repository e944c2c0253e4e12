package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pario-ai/tollgate/pkg/budget"
	"github.com/pario-ai/tollgate/pkg/catalog"
	"github.com/pario-ai/tollgate/pkg/ledger"
	"github.com/pario-ai/tollgate/pkg/metering"
	"github.com/pario-ai/tollgate/pkg/settings"
	"github.com/pario-ai/tollgate/pkg/store"
	"github.com/pario-ai/tollgate/pkg/tier"
)

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = "5"

// requestError is a request the handler could not decode.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

// statusFor maps an operation error to an HTTP status code. The second result
// reports whether the error message is safe to show to the caller.
func statusFor(err error) (int, bool) {
	var (
		reqErr    *requestError
		inputErr  *metering.InputError
		validErr  *settings.ValidationError
		periodErr *ledger.PeriodError
		authErr   *authError
		tierErr   *settings.TierError
		deniedErr *catalog.ModelDeniedError
	)
	switch {
	case errors.As(err, &reqErr), errors.As(err, &inputErr), errors.As(err, &validErr),
		errors.As(err, &periodErr), errors.Is(err, tier.ErrActorRequired), errors.Is(err, errMissingActor):
		return http.StatusBadRequest, true
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, true
	case errors.As(err, &tierErr), errors.As(err, &deniedErr), errors.Is(err, metering.ErrNotPlatformOwner):
		return http.StatusForbidden, true
	case errors.Is(err, tier.ErrNoMembership), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, true
	case errors.Is(err, budget.ErrBudgetExceeded), errors.Is(err, metering.ErrDailyLimit):
		return http.StatusTooManyRequests, true
	case errors.Is(err, ledger.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, false
	default:
		return http.StatusInternalServerError, false
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"tollgate_error","code":%d}}`, message, code)
}
