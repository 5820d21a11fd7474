package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"newstrader/internal/domain"
	"newstrader/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface against the Alpaca brokerage
// API: market orders on the trading API, latest trades on the market-data
// API. Fills are asynchronous: SubmitOrder normally returns an ACK and the
// reconciliation sync resolves the fill later.
type AlpacaBroker struct {
	trading *alpacaapi.Client
	data    *marketdata.Client
	limiter *util.RateLimiter
	apiKey  string
	secret  string
}

// NewAlpacaBroker creates an AlpacaBroker with the given credentials and
// endpoints. timeout bounds every HTTP call.
func NewAlpacaBroker(apiKey, apiSecret, baseURL, dataURL string, timeout time.Duration) *AlpacaBroker {
	httpClient := &http.Client{Timeout: timeout}

	return &AlpacaBroker{
		trading: alpacaapi.NewClient(alpacaapi.ClientOpts{
			APIKey:     apiKey,
			APISecret:  apiSecret,
			BaseURL:    baseURL,
			HTTPClient: httpClient,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:     apiKey,
			APISecret:  apiSecret,
			BaseURL:    dataURL,
			HTTPClient: httpClient,
		}),
		limiter: util.NewRateLimiter(alpacaRequestsPerMinute),
		apiKey:  apiKey,
		secret:  apiSecret,
	}
}

// Alpaca throttles at 200 requests/min per account; stay under it.
const alpacaRequestsPerMinute = 180

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

// SubmitOrder places a day market order. The request's ClientOrderID is
// forwarded so a retry of the same logical order is deduplicated venue-side.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	if req.Ticker == "" {
		return OrderAck{}, &domain.ValidationError{Field: "ticker", Reason: "empty"}
	}
	if req.Qty <= 0 {
		return OrderAck{}, &domain.ValidationError{Field: "qty", Reason: "must be positive"}
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return OrderAck{}, &domain.TransientBrokerError{Op: "submit_order", Err: err}
	}

	qty := decimal.NewFromFloat(req.Qty)
	order, err := b.trading.PlaceOrder(alpacaapi.PlaceOrderRequest{
		Symbol:        req.Ticker,
		Qty:           &qty,
		Side:          alpacaSide(req.Side),
		Type:          alpacaapi.Market,
		TimeInForce:   alpacaapi.Day,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return OrderAck{}, classify("submit_order", err)
	}

	ack := OrderAck{BrokerOrderID: order.ID}
	if order.Status == "filled" {
		ack.Status = AckFilled
		if order.FilledAvgPrice != nil {
			ack.FillPrice, _ = order.FilledAvgPrice.Float64()
		}
		ack.FilledQty, _ = order.FilledQty.Float64()
		return ack, nil
	}
	ack.Status = AckSent
	return ack, nil
}

// InquireOrder maps the venue order state onto filled/working/rejected.
func (b *AlpacaBroker) InquireOrder(ctx context.Context, brokerOrderID string) (OrderUpdate, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return OrderUpdate{}, &domain.TransientBrokerError{Op: "inquire_order", Err: err}
	}
	order, err := b.trading.GetOrder(brokerOrderID)
	if err != nil {
		return OrderUpdate{}, classify("inquire_order", err)
	}

	switch order.Status {
	case "filled":
		u := OrderUpdate{Status: UpdateFilled}
		if order.FilledAvgPrice != nil {
			u.FillPrice, _ = order.FilledAvgPrice.Float64()
		}
		return u, nil
	case "rejected", "canceled", "expired", "stopped", "suspended":
		return OrderUpdate{Status: UpdateRejected, Reason: order.Status}, nil
	default:
		// new, accepted, pending_new, partially_filled, ...
		return OrderUpdate{Status: UpdateWorking}, nil
	}
}

// GetLastPrice returns the latest trade price for the ticker.
func (b *AlpacaBroker) GetLastPrice(ctx context.Context, ticker string) (float64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, &domain.TransientBrokerError{Op: "get_last_price", Err: err}
	}
	trade, err := b.data.GetLatestTrade(ticker, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return 0, classify("get_last_price", err)
	}
	if trade.Price <= 0 {
		return 0, &domain.TransientBrokerError{Op: "get_last_price", Err: fmt.Errorf("no trade for %s", ticker)}
	}
	return trade.Price, nil
}

// HealthCheck triages credentials and connectivity. Missing credentials or
// an unreachable trading API are CRITICAL; a blocked account is WARN.
func (b *AlpacaBroker) HealthCheck(ctx context.Context) (Health, error) {
	if b.apiKey == "" || b.secret == "" {
		return Health{Status: HealthCritical, Detail: "missing credentials"}, nil
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return Health{}, &domain.TransientBrokerError{Op: "health_check", Err: err}
	}

	acct, err := b.trading.GetAccount()
	if err != nil {
		return Health{Status: HealthCritical, Detail: fmt.Sprintf("account check failed: %v", err)}, nil
	}
	if acct.TradingBlocked || acct.AccountBlocked {
		return Health{Status: HealthWarn, Detail: "account blocked for trading"}, nil
	}
	return Health{Status: HealthOK, Detail: "account " + string(acct.Status)}, nil
}

func alpacaSide(s domain.Side) alpacaapi.Side {
	if s == domain.SideSell {
		return alpacaapi.Sell
	}
	return alpacaapi.Buy
}

// classify converts SDK and transport errors into the pipeline taxonomy:
// explicit 4xx API rejections are terminal, everything else (timeouts, 429,
// 5xx, connection resets) is transient.
func classify(op string, err error) error {
	var apiErr *alpacaapi.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return &domain.TransientBrokerError{Op: op, Err: err}
		}
		return &domain.TerminalBrokerError{Op: op, Reason: apiErr.Message}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.TransientBrokerError{Op: op, Err: err}
	}
	return &domain.TransientBrokerError{Op: op, Err: err}
}
