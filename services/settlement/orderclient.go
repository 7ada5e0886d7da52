package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"commissionplane/pkg/config"
	"commissionplane/pkg/errutil"
)

const OrderStatusCompleted = "completed"

// OrderFact is the order service's view of one order at validation time.
type OrderFact struct {
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	RefundAmount int64  `json:"refund_amount"`
}

// OrderService is the external order system the settlement run validates
// against before paying out.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (*OrderFact, error)
}

type httpOrderService struct {
	baseURL string
	client  *http.Client
}

func NewHTTPOrderService(cfg *config.Config) OrderService {
	timeout := cfg.OrderService.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &httpOrderService{
		baseURL: cfg.OrderService.BaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *httpOrderService) GetOrder(ctx context.Context, orderID string) (*OrderFact, error) {
	url := fmt.Sprintf("%s/v1/orders/%s", s.baseURL, orderID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errutil.BadGateway("order service unreachable", err, errutil.WithErr(err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errutil.NotFound("order not found", nil)
	default:
		return nil, errutil.BadGateway(fmt.Sprintf("order service returned %d", resp.StatusCode), nil)
	}

	var fact OrderFact
	if err := json.NewDecoder(resp.Body).Decode(&fact); err != nil {
		return nil, errutil.BadGateway("malformed order service response", err, errutil.WithErr(err))
	}
	return &fact, nil
}
