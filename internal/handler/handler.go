// Package handler содержит HTTP-обработчики API маркетплейса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kayicom/marketplace/internal/metrics"
	"github.com/kayicom/marketplace/internal/middleware"
	"github.com/kayicom/marketplace/internal/model"
	"github.com/kayicom/marketplace/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput) (*model.Order, error)
	ListOrders(ctx context.Context, userID string) ([]model.Order, error)
	GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error)
	SubmitPaymentProof(ctx context.Context, userID, orderID, transactionID, proofURL string) (*model.Order, error)
	WalletHistory(ctx context.Context, userID string) (*model.WalletHistory, error)
	ConvertCredits(ctx context.Context, userID string, credits int64) (*service.ConversionResult, error)
	ValidateCoupon(ctx context.Context, code string, amountCents int64) (*model.Coupon, error)
	ConfirmPayment(ctx context.Context, c service.PaymentConfirmation) (*model.Order, error)
	Transition(ctx context.Context, orderID string, payment *model.PaymentStatus, status *model.OrderStatus) (*model.Order, error)
	Deliver(ctx context.Context, orderID, details string) (*model.Order, error)
	Refund(ctx context.Context, orderID string, amountCents int64, reason string) (*model.Order, error)
	AdminAdjust(ctx context.Context, identifier string, amountCents int64, action service.AdjustAction, reason string) (*service.AdjustResult, error)
	AdminAdjustCredits(ctx context.Context, identifier string, credits int64, reason string) (*service.ConversionResult, error)
	SweepSubscriptions(ctx context.Context) (*service.SweepResult, error)
}

// Handler реализует HTTP-обработчики API маркетплейса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	adminToken     string
	metrics        *metrics.Metrics
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// m может быть nil, тогда /metrics не публикуется.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, adminToken string, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		adminToken:     adminToken,
		metrics:        m,
	}
}

// writeError переводит доменную ошибку в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, service.ErrAlreadyRefunded):
		status = http.StatusConflict
	case errors.Is(err, service.ErrValidation):
		status = http.StatusUnprocessableEntity
	case service.IsNotFound(err):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(status), status)
		return
	}

	h.logger.Debug(op+" rejected", zap.Error(err), zap.Int("status", status))
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

type orderItemRequest struct {
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	PlayerID    string `json:"player_id"`
	Credentials string `json:"credentials"`
}

type createOrderRequest struct {
	Items         []orderItemRequest `json:"items"`
	PaymentMethod string             `json:"payment_method"`
	CouponCode    string             `json:"coupon_code"`
}

type orderItemResponse struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	PlayerID    string  `json:"player_id,omitempty"`
}

type orderResponse struct {
	ID                  string              `json:"id"`
	Items               []orderItemResponse `json:"items"`
	Subtotal            float64             `json:"subtotal"`
	Discount            float64             `json:"discount"`
	CouponCode          string              `json:"coupon_code,omitempty"`
	Total               float64             `json:"total"`
	Currency            string              `json:"currency"`
	PaymentMethod       string              `json:"payment_method"`
	PaymentStatus       string              `json:"payment_status"`
	OrderStatus         string              `json:"order_status"`
	CreditsAwarded      int64               `json:"credits_awarded"`
	SubscriptionStartAt string              `json:"subscription_start_date,omitempty"`
	SubscriptionEndAt   string              `json:"subscription_end_date,omitempty"`
	Refunded            float64             `json:"refunded,omitempty"`
	DeliveryDetails     string              `json:"delivery_details,omitempty"`
	CreatedAt           string              `json:"created_at"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func newOrderResponse(o *model.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       model.CentsToFloat(it.UnitPriceCents),
			PlayerID:    it.PlayerID,
		})
	}

	resp := orderResponse{
		ID:                  o.ID,
		Items:               items,
		Subtotal:            model.CentsToFloat(o.SubtotalCents),
		Discount:            model.CentsToFloat(o.DiscountCents),
		CouponCode:          o.CouponCode,
		Total:               model.CentsToFloat(o.TotalCents),
		Currency:            o.Currency,
		PaymentMethod:       string(o.PaymentMethod),
		PaymentStatus:       string(o.PaymentStatus),
		OrderStatus:         string(o.OrderStatus),
		CreditsAwarded:      o.CreditsAwarded,
		SubscriptionStartAt: formatTime(o.SubscriptionStartAt),
		SubscriptionEndAt:   formatTime(o.SubscriptionEndAt),
		Refunded:            model.CentsToFloat(o.RefundedCents),
		CreatedAt:           o.CreatedAt.Format(time.RFC3339),
	}
	if o.Delivery != nil {
		resp.DeliveryDetails = o.Delivery.Details
	}
	return resp
}

// CreateOrder оформляет заказ текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	in := service.CreateOrderInput{
		UserID:        userID,
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
		CouponCode:    req.CouponCode,
		Items:         make([]service.ItemInput, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.ItemInput{
			ProductID:   it.ProductID,
			Quantity:    it.Quantity,
			PlayerID:    it.PlayerID,
			Credentials: it.Credentials,
		})
	}

	o, err := h.service.CreateOrder(r.Context(), in)
	if err != nil {
		h.writeError(w, "create order", err)
		return
	}

	writeJSON(w, http.StatusCreated, newOrderResponse(o))
}

// ListOrders возвращает заказы текущего пользователя.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.ListOrders(r.Context(), userID)
	if err != nil {
		h.writeError(w, "list orders", err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrder возвращает заказ текущего пользователя.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	o, err := h.service.GetOrder(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get order", err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

type paymentProofRequest struct {
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	ProofURL      string `json:"payment_proof_url"`
}

// SubmitPaymentProof принимает подтверждение ручной оплаты.
func (h *Handler) SubmitPaymentProof(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req paymentProofRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.SubmitPaymentProof(r.Context(), userID, req.OrderID, req.TransactionID, req.ProofURL)
	if err != nil {
		h.writeError(w, "submit payment proof", err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

type walletTransactionResponse struct {
	ID        string  `json:"id"`
	OrderID   string  `json:"order_id,omitempty"`
	Amount    float64 `json:"amount"`
	Type      string  `json:"type"`
	Reason    string  `json:"reason,omitempty"`
	CreatedAt string  `json:"created_at"`
}

type walletResponse struct {
	Balance      float64                     `json:"wallet_balance"`
	Credits      int64                       `json:"credits_balance"`
	Transactions []walletTransactionResponse `json:"transactions"`
}

// GetWallet возвращает баланс кошелька, бонусные кредиты и историю операций.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	history, err := h.service.WalletHistory(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get wallet", err)
		return
	}

	resp := walletResponse{
		Balance:      model.CentsToFloat(history.BalanceCents),
		Credits:      history.Credits,
		Transactions: make([]walletTransactionResponse, 0, len(history.Transactions)),
	}
	for _, tx := range history.Transactions {
		resp.Transactions = append(resp.Transactions, walletTransactionResponse{
			ID:        tx.ID,
			OrderID:   tx.OrderID,
			Amount:    model.CentsToFloat(tx.AmountCents),
			Type:      string(tx.Type),
			Reason:    tx.Reason,
			CreatedAt: tx.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type convertCreditsRequest struct {
	Credits int64 `json:"credits"`
}

type balancesResponse struct {
	Balance float64 `json:"wallet_balance"`
	Credits int64   `json:"credits_balance"`
}

// ConvertCredits переводит бонусные кредиты текущего пользователя в средства кошелька.
func (h *Handler) ConvertCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req convertCreditsRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.ConvertCredits(r.Context(), userID, req.Credits)
	if err != nil {
		h.writeError(w, "convert credits", err)
		return
	}

	writeJSON(w, http.StatusOK, balancesResponse{
		Balance: model.CentsToFloat(res.BalanceCents),
		Credits: res.Credits,
	})
}

type couponResponse struct {
	Valid    bool    `json:"valid"`
	Code     string  `json:"code"`
	Type     string  `json:"discount_type"`
	Value    string  `json:"discount_value"`
	Discount float64 `json:"discount"`
}

// ValidateCoupon проверяет купон для суммы заказа (?code=&amount=).
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")

	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil || amount < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	amountCents := model.CentsFromFloat(amount)

	c, err := h.service.ValidateCoupon(r.Context(), code, amountCents)
	if err != nil {
		h.writeError(w, "validate coupon", err)
		return
	}

	writeJSON(w, http.StatusOK, couponResponse{
		Valid:    true,
		Code:     c.Code,
		Type:     string(c.DiscountType),
		Value:    c.DiscountValue.String(),
		Discount: model.CentsToFloat(service.CalculateDiscount(c, amountCents)),
	})
}

// PlisioCallback принимает уведомление платёжного шлюза о статусе счёта.
// Поддерживаются тела application/json и application/x-www-form-urlencoded.
func (h *Handler) PlisioCallback(w http.ResponseWriter, r *http.Request) {
	var c service.PaymentConfirmation

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decode(r, &c); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		c = service.PaymentConfirmation{
			OrderID: r.Form.Get("order_number"),
			Status:  r.Form.Get("status"),
			TxnID:   r.Form.Get("txn_id"),
		}
	}

	if _, err := h.service.ConfirmPayment(r.Context(), c); err != nil {
		h.writeError(w, "plisio callback", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRequest struct {
	PaymentStatus *string `json:"payment_status"`
	OrderStatus   *string `json:"order_status"`
}

// UpdateOrderStatus меняет статусы заказа и применяет побочные эффекты.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var (
		payment *model.PaymentStatus
		status  *model.OrderStatus
	)
	if req.PaymentStatus != nil {
		p := model.PaymentStatus(*req.PaymentStatus)
		payment = &p
	}
	if req.OrderStatus != nil {
		s := model.OrderStatus(*req.OrderStatus)
		status = &s
	}

	o, err := h.service.Transition(r.Context(), chi.URLParam(r, "id"), payment, status)
	if err != nil {
		h.writeError(w, "update order status", err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

type deliveryRequest struct {
	Details string `json:"delivery_details"`
}

// DeliverOrder сохраняет данные ручной выдачи и завершает заказ.
func (h *Handler) DeliverOrder(w http.ResponseWriter, r *http.Request) {
	var req deliveryRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.Deliver(r.Context(), chi.URLParam(r, "id"), req.Details)
	if err != nil {
		h.writeError(w, "deliver order", err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

type refundRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

// RefundOrder возвращает средства за заказ на кошелёк владельца.
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.Refund(r.Context(), chi.URLParam(r, "id"), model.CentsFromFloat(req.Amount), req.Reason)
	if err != nil {
		h.writeError(w, "refund order", err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

type walletAdjustRequest struct {
	Identifier string  `json:"identifier"`
	Amount     float64 `json:"amount"`
	Action     string  `json:"action"`
	Reason     string  `json:"reason"`
}

type adjustResponse struct {
	UserID  string  `json:"user_id"`
	Balance float64 `json:"wallet_balance"`
}

// AdjustWallet вручную зачисляет или списывает средства кошелька.
func (h *Handler) AdjustWallet(w http.ResponseWriter, r *http.Request) {
	var req walletAdjustRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.AdminAdjust(r.Context(), req.Identifier, model.CentsFromFloat(req.Amount),
		service.AdjustAction(req.Action), req.Reason)
	if err != nil {
		h.writeError(w, "adjust wallet", err)
		return
	}

	writeJSON(w, http.StatusOK, adjustResponse{UserID: res.UserID, Balance: model.CentsToFloat(res.BalanceCents)})
}

type creditsAdjustRequest struct {
	Identifier string `json:"identifier"`
	Credits    int64  `json:"credits"`
	Reason     string `json:"reason"`
}

// AdjustCredits вручную начисляет или списывает бонусные кредиты.
func (h *Handler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	var req creditsAdjustRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.AdminAdjustCredits(r.Context(), req.Identifier, req.Credits, req.Reason)
	if err != nil {
		h.writeError(w, "adjust credits", err)
		return
	}

	writeJSON(w, http.StatusOK, balancesResponse{
		Balance: model.CentsToFloat(res.BalanceCents),
		Credits: res.Credits,
	})
}

type sweepResponse struct {
	Scanned int  `json:"scanned"`
	Sent    int  `json:"sent"`
	Skipped bool `json:"skipped"`
}

// SweepSubscriptions запускает внеочередной проход по подпискам.
func (h *Handler) SweepSubscriptions(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.SweepSubscriptions(r.Context())
	if err != nil {
		h.writeError(w, "sweep subscriptions", err)
		return
	}

	writeJSON(w, http.StatusOK, sweepResponse{Scanned: res.Scanned, Sent: res.Sent, Skipped: res.Skipped})
}
