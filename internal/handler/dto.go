package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/john25coder/pizzaria-app/internal/domain/catalog"
	"github.com/john25coder/pizzaria-app/internal/domain/coupon"
	"github.com/john25coder/pizzaria-app/internal/domain/order"
	"github.com/john25coder/pizzaria-app/internal/domain/paging"
	"github.com/john25coder/pizzaria-app/internal/domain/payment"
)

// money renders amounts as JSON numbers with two decimals.
type money decimal.Decimal

func (m money) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(m).StringFixed(2)), nil
}

type pageInfo struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

func toPageInfo(p paging.Info) pageInfo {
	return pageInfo{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      p.Total,
		TotalPages: p.TotalPages,
		HasNext:    p.HasNext,
		HasPrev:    p.HasPrev,
	}
}

type productResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	ImageURL    string    `json:"imageUrl"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toProduct(p *catalog.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		ImageURL:    p.ImageURL,
		Active:      p.Active,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type productPageResponse struct {
	Products   []productResponse `json:"products"`
	Pagination pageInfo          `json:"pagination"`
}

type sizeResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       money     `json:"price"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toSize(s *catalog.Size) sizeResponse {
	return sizeResponse{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Price:       money(s.Price),
		Active:      s.Active,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

type lineRequest struct {
	ProductID string `json:"productId"`
	SizeID    string `json:"sizeId"`
	Quantity  int    `json:"quantity"`
}

func toLines(in []lineRequest) []order.Line {
	lines := make([]order.Line, len(in))
	for i, l := range in {
		lines[i] = order.Line{ProductID: l.ProductID, SizeID: l.SizeID, Quantity: l.Quantity}
	}
	return lines
}

type quoteRequest struct {
	Items      []lineRequest `json:"items"`
	CouponCode string        `json:"couponCode,omitempty"`
}

type createOrderRequest struct {
	CustomerID      string        `json:"customerId"`
	Items           []lineRequest `json:"items"`
	DeliveryAddress string        `json:"deliveryAddress"`
	Phone           string        `json:"phone"`
	Notes           string        `json:"notes,omitempty"`
	CouponCode      string        `json:"couponCode,omitempty"`
}

type itemResponse struct {
	ID          string `json:"id,omitempty"`
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	SizeID      string `json:"sizeId"`
	SizeName    string `json:"sizeName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   money  `json:"unitPrice"`
	LineTotal   money  `json:"lineTotal"`
}

func toItems(items []order.Item) []itemResponse {
	out := make([]itemResponse, len(items))
	for i, it := range items {
		out[i] = itemResponse{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			SizeID:      it.SizeID,
			SizeName:    it.SizeName,
			Quantity:    it.Quantity,
			UnitPrice:   money(it.UnitPrice),
			LineTotal:   money(it.LineTotal()),
		}
	}
	return out
}

type quoteResponse struct {
	Items       []itemResponse `json:"items"`
	Subtotal    money          `json:"subtotal"`
	Discount    money          `json:"discount"`
	DeliveryFee money          `json:"deliveryFee"`
	Total       money          `json:"total"`
	CouponCode  string         `json:"couponCode,omitempty"`
}

func toQuote(q *order.Quote) quoteResponse {
	resp := quoteResponse{
		Items:       toItems(q.Items),
		Subtotal:    money(q.Subtotal),
		Discount:    money(q.Discount),
		DeliveryFee: money(q.DeliveryFee),
		Total:       money(q.Total),
	}
	if q.Coupon != nil {
		resp.CouponCode = q.Coupon.Code
	}
	return resp
}

type orderResponse struct {
	ID              string         `json:"id"`
	CustomerID      string         `json:"customerId"`
	Status          string         `json:"status"`
	Items           []itemResponse `json:"items"`
	Subtotal        money          `json:"subtotal"`
	Discount        money          `json:"discount"`
	DeliveryFee     money          `json:"deliveryFee"`
	Total           money          `json:"total"`
	DeliveryAddress string         `json:"deliveryAddress"`
	Phone           string         `json:"phone"`
	Notes           string         `json:"notes,omitempty"`
	CouponCode      string         `json:"couponCode,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func toOrder(o *order.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		Status:          string(o.Status),
		Items:           toItems(o.Items),
		Subtotal:        money(o.Subtotal),
		Discount:        money(o.Discount),
		DeliveryFee:     money(o.DeliveryFee),
		Total:           money(o.Total),
		DeliveryAddress: o.DeliveryAddress,
		Phone:           o.Phone,
		Notes:           o.Notes,
		CouponCode:      o.CouponCode,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

type orderPageResponse struct {
	Orders     []orderResponse `json:"orders"`
	Pagination pageInfo        `json:"pagination"`
}

func toOrderPage(p *order.Page) orderPageResponse {
	resp := orderPageResponse{
		Orders:     make([]orderResponse, len(p.Orders)),
		Pagination: toPageInfo(p.Info),
	}
	for i := range p.Orders {
		resp.Orders[i] = toOrder(&p.Orders[i])
	}
	return resp
}

type orderStatsResponse struct {
	Total            int            `json:"total"`
	ByStatus         map[string]int `json:"byStatus"`
	DeliveredRevenue money          `json:"deliveredRevenue"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type refundRequest struct {
	Reason string `json:"reason,omitempty"`
}

type refundResponse struct {
	RefundID string `json:"refundId"`
	Status   string `json:"status"`
	Amount   money  `json:"amount"`
}

type validateCouponRequest struct {
	Code string `json:"code"`
}

type validationResponse struct {
	Valid  bool            `json:"valid"`
	Reason string          `json:"reason,omitempty"`
	Coupon *couponResponse `json:"coupon,omitempty"`
}

type couponResponse struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	Kind        string     `json:"kind"`
	Value       money      `json:"value"`
	Description string     `json:"description"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	MaxUses     *int       `json:"maxUses,omitempty"`
	Uses        int        `json:"uses"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func toCoupon(c *coupon.Coupon) *couponResponse {
	return &couponResponse{
		ID:          c.ID,
		Code:        c.Code,
		Kind:        string(c.Kind),
		Value:       money(c.Value),
		Description: c.Description,
		ExpiresAt:   c.ExpiresAt,
		MaxUses:     c.MaxUses,
		Uses:        c.Uses,
		Active:      c.Active,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

type couponStatsResponse struct {
	Coupon        *couponResponse `json:"coupon"`
	Uses          int             `json:"uses"`
	MaxUses       *int            `json:"maxUses,omitempty"`
	Remaining     *int            `json:"remaining,omitempty"`
	OrderCount    int             `json:"orderCount"`
	TotalDiscount money           `json:"totalDiscount"`
}

type couponRequest struct {
	Code        string          `json:"code"`
	Kind        string          `json:"kind"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description"`
	ExpiresAt   *time.Time      `json:"expiresAt"`
	MaxUses     *int            `json:"maxUses"`
}

type couponPatchRequest struct {
	Code           *string          `json:"code"`
	Kind           *string          `json:"kind"`
	Value          *decimal.Decimal `json:"value"`
	Description    *string          `json:"description"`
	ExpiresAt      *time.Time       `json:"expiresAt"`
	ClearExpiresAt bool             `json:"clearExpiresAt"`
	MaxUses        *int             `json:"maxUses"`
	ClearMaxUses   bool             `json:"clearMaxUses"`
	Active         *bool            `json:"active"`
}

type productRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	ImageURL    string `json:"imageUrl"`
}

type productPatchRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	ImageURL    *string `json:"imageUrl"`
	Active      *bool   `json:"active"`
}

type sizeRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

type sizePatchRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Active      *bool            `json:"active"`
}

type createIntentRequest struct {
	OrderID string `json:"orderId"`
}

type intentResponse struct {
	PaymentID    string `json:"paymentId"`
	IntentID     string `json:"paymentIntentId"`
	ClientSecret string `json:"clientSecret"`
	Amount       money  `json:"amount"`
	Currency     string `json:"currency"`
}

type confirmRequest struct {
	IntentID string `json:"paymentIntentId"`
}

type paymentResponse struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"orderId"`
	IntentID    string    `json:"paymentIntentId"`
	Status      string    `json:"status"`
	Amount      money     `json:"amount"`
	Currency    string    `json:"currency"`
	Method      string    `json:"method"`
	Description string    `json:"description,omitempty"`
	RefundID    string    `json:"refundId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toPayment(p *payment.Payment) paymentResponse {
	return paymentResponse{
		ID:          p.ID,
		OrderID:     p.OrderID,
		IntentID:    p.IntentID,
		Status:      string(p.Status),
		Amount:      money(p.Amount),
		Currency:    p.Currency,
		Method:      p.Method,
		Description: p.Description,
		RefundID:    p.RefundID,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
