package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/john25coder/pizzaria-app/internal/domain/catalog"
	"github.com/john25coder/pizzaria-app/internal/domain/coupon"
	"github.com/john25coder/pizzaria-app/internal/domain/customer"
	"github.com/john25coder/pizzaria-app/internal/domain/order"
	"github.com/john25coder/pizzaria-app/internal/domain/payment"
	redisstore "github.com/john25coder/pizzaria-app/internal/storage/redis"
)

const maxBodyBytes = 1 << 20

// requestError reports a malformed request.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Code: status, Message: msg})
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeMessage(w, status, msg)
}

func classify(err error) (int, string) {
	var (
		invalidCoupon *coupon.InvalidCouponError
		productLine   *order.ProductNotFoundError
		sizeLine      *order.SizeNotFoundError
		unavailable   *order.UnavailableError
		quantity      *order.InvalidQuantityError
		transition    *order.InvalidTransitionError
		state         *payment.InvalidStateError
		external      *payment.ExternalError
		malformed     *requestError
	)

	switch {
	case errors.As(err, &invalidCoupon):
		return http.StatusUnprocessableEntity, invalidCoupon.Reason
	case errors.As(err, &productLine):
		return http.StatusUnprocessableEntity, productLine.Error()
	case errors.As(err, &sizeLine):
		return http.StatusUnprocessableEntity, sizeLine.Error()
	case errors.As(err, &unavailable):
		return http.StatusUnprocessableEntity, unavailable.Error()
	case errors.As(err, &quantity):
		return http.StatusBadRequest, quantity.Error()
	case errors.As(err, &transition):
		return http.StatusConflict, transition.Error()
	case errors.As(err, &state):
		return http.StatusConflict, state.Error()
	case errors.As(err, &external):
		return http.StatusBadGateway, "payment processor unavailable"

	case errors.As(err, &malformed),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrCustomerRequired),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, coupon.ErrCodeRequired),
		errors.Is(err, coupon.ErrInvalidKind),
		errors.Is(err, coupon.ErrInvalidDiscount),
		errors.Is(err, coupon.ErrInvalidMaxUses),
		errors.Is(err, catalog.ErrNameRequired),
		errors.Is(err, catalog.ErrInvalidPrice),
		errors.Is(err, payment.ErrNothingToPay),
		errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrSizeNotFound),
		errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, customer.ErrNotFound),
		errors.Is(err, payment.ErrNotFound):
		return http.StatusNotFound, err.Error()

	case errors.Is(err, coupon.ErrUsageLimitReached):
		return http.StatusUnprocessableEntity, coupon.ReasonUsageLimit

	case errors.Is(err, coupon.ErrDuplicateCode),
		errors.Is(err, catalog.ErrDuplicateSize),
		errors.Is(err, order.ErrConcurrentUpdate),
		errors.Is(err, redisstore.ErrInProgress):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}

// decodeJSON reads a single JSON object into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid " + name + " parameter")
	}
	return n, nil
}
