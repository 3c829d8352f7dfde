package interfaces

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kiosk/internal/pkg/logger"
	"kiosk/internal/service/order/application"
	"kiosk/internal/service/order/domain"
)

const maxBodyBytes = 1 << 20

// OrderHandler 把 HTTP 请求转换为应用服务调用，自身不做业务判断。
type OrderHandler struct {
	service *application.OrderApplicationService
	socket  http.Handler
	limiter *RateLimiter
	timeout time.Duration
}

// HandlerOption 调整路由的可选部分。
type HandlerOption func(*OrderHandler)

// WithSocket 挂载 websocket 端点。
func WithSocket(socket http.Handler) HandlerOption {
	return func(h *OrderHandler) { h.socket = socket }
}

// WithRateLimiter 对订单接口按 IP 限流。
func WithRateLimiter(limiter *RateLimiter) HandlerOption {
	return func(h *OrderHandler) { h.limiter = limiter }
}

// WithRequestTimeout 设置订单接口的处理超时。
func WithRequestTimeout(timeout time.Duration) HandlerOption {
	return func(h *OrderHandler) { h.timeout = timeout }
}

func NewOrderHandler(service *application.OrderApplicationService, opts ...HandlerOption) *OrderHandler {
	h := &OrderHandler{service: service, timeout: 15 * time.Second}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes 构建完整的路由。
func (h *OrderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(logger.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	if h.socket != nil {
		r.Handle("/socket", h.socket)
	}

	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}
		r.Use(middleware.Timeout(h.timeout))

		r.Post("/order", h.placeOrder)
		r.Post("/order/toss_deposit", h.tossDeposit)
		r.Get("/order/{orderID}", h.getOrder)
		r.Post("/order/{orderID}/payment", h.payment)
		r.Get("/order/{orderID}/accept", h.accept)
		r.Post("/order/{orderID}/accept", h.accept)
		r.Post("/order/{orderID}/cancel", h.cancel)
		r.Get("/orders", h.listOrders)
	})
	return r
}

func (h *OrderHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req application.PlaceOrderRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.service.PlaceOrder(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) payment(w http.ResponseWriter, r *http.Request) {
	var req application.PaymentRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.service.ReconcilePayment(r.Context(), chi.URLParam(r, "orderID"), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) accept(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.Accept(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req application.CancelRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.service.Cancel(r.Context(), chi.URLParam(r, "orderID"), req.CancelReason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) tossDeposit(w http.ResponseWriter, r *http.Request) {
	var cb application.DepositCallback
	if err := decodeJSON(r, &cb, false); err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.service.ReconcileWebhook(r.Context(), &cb)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// listOrders 的 start、end 为 unix 秒，缺省表示不设边界。
func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	start, err := parseEpoch(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseEpoch(r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	orders, err := h.service.ListOrders(r.Context(), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// errBadRequest 表示请求体本身无法解析。
var errBadRequest = errors.New("malformed request")

func decodeJSON(r *http.Request, v interface{}, allowEmpty bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return errors.Wrap(errBadRequest, err.Error())
	}
	return nil
}

func parseEpoch(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(errBadRequest, "invalid epoch %q", raw)
	}
	return time.Unix(sec, 0), nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusOf(err error) (int, string) {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest, domain.KindValidation.String()
	}
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest, kind.String()
	case domain.KindNotFound:
		return http.StatusNotFound, kind.String()
	case domain.KindStateConflict:
		return http.StatusConflict, kind.String()
	case domain.KindAmountMismatch:
		return http.StatusUnprocessableEntity, kind.String()
	case domain.KindGateway:
		return http.StatusBadGateway, kind.String()
	case domain.KindStoreUnavailable:
		return http.StatusServiceUnavailable, kind.String()
	case domain.KindInvalidSecret:
		return http.StatusForbidden, kind.String()
	}
	return http.StatusInternalServerError, kind.String()
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg("request failed")
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	}
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
