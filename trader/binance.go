package trader

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"gridbot/logger"
)

// BinanceAdapter implements Adapter against Binance spot.
type BinanceAdapter struct {
	client *binance.Client
}

// NewBinanceAdapter creates a Binance spot adapter.
func NewBinanceAdapter(apiKey, secretKey string, testnet bool) *BinanceAdapter {
	binance.UseTestnet = testnet
	return &BinanceAdapter{
		client: binance.NewClient(apiKey, secretKey),
	}
}

// PlaceLimitOrder places a GTC limit order
func (b *BinanceAdapter) PlaceLimitOrder(ctx context.Context, symbol, side string, price, quantity float64) (string, error) {
	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Price(formatDecimal(price)).
		Quantity(formatDecimal(quantity)).
		Do(ctx)
	if err != nil {
		return "", classifyBinanceError(err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

// PlaceMarketOrder places a market order (risk guard liquidation path)
func (b *BinanceAdapter) PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) error {
	_, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(formatDecimal(quantity)).
		Do(ctx)
	if err != nil {
		return classifyBinanceError(err)
	}
	return nil
}

// CancelOrder cancels an order by ID
func (b *BinanceAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid binance order id %q: %w", orderID, err)
	}
	_, err = b.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return classifyBinanceError(err)
	}
	return nil
}

// GetOrderStatus queries a single order
func (b *BinanceAdapter) GetOrderStatus(ctx context.Context, symbol, orderID string) (*Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid binance order id %q: %w", orderID, err)
	}
	res, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return nil, classifyBinanceError(err)
	}
	return convertBinanceOrder(res), nil
}

// GetOpenOrders lists open orders for a symbol
func (b *BinanceAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	res, err := b.client.NewListOpenOrdersService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return nil, classifyBinanceError(err)
	}
	orders := make([]Order, 0, len(res))
	for _, o := range res {
		orders = append(orders, *convertBinanceOrder(o))
	}
	return orders, nil
}

// GetCurrentPrice returns the last traded price
func (b *BinanceAdapter) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return 0, classifyBinanceError(err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", symbol)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price %q: %w", prices[0].Price, err)
	}
	return price, nil
}

// convertBinanceOrder maps a Binance order to the venue-agnostic Order
func convertBinanceOrder(o *binance.Order) *Order {
	price, _ := strconv.ParseFloat(o.Price, 64)
	qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
	executedQty, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(o.CummulativeQuoteQuantity, 64)

	order := &Order{
		OrderID:  strconv.FormatInt(o.OrderID, 10),
		Symbol:   o.Symbol,
		Side:     string(o.Side),
		Price:    price,
		Quantity: qty,
		Status:   convertBinanceStatus(o.Status),
	}
	if order.Status == OrderStatusFilled {
		order.FilledQty = executedQty
		if executedQty > 0 && cumQuote > 0 {
			order.FilledPrice = cumQuote / executedQty
		} else {
			// Venue omitted the average fill price; fall back to limit price
			order.FilledPrice = price
		}
	}
	return order
}

func convertBinanceStatus(s binance.OrderStatusType) OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled:
		return OrderStatusOpen
	case binance.OrderStatusTypeFilled:
		return OrderStatusFilled
	case binance.OrderStatusTypeRejected:
		return OrderStatusRejected
	default:
		// CANCELED, EXPIRED, PENDING_CANCEL
		return OrderStatusCanceled
	}
}

// classifyBinanceError maps Binance API errors onto the adapter taxonomy
func classifyBinanceError(err error) error {
	if err == nil {
		return nil
	}
	apiErr, ok := err.(*common.APIError)
	if !ok {
		// Network-level failure, left as-is so IsTransient can inspect it
		return err
	}
	switch apiErr.Code {
	case -1003, -1015: // TOO_MANY_REQUESTS / TOO_MANY_ORDERS
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	case -2010: // NEW_ORDER_REJECTED
		if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
			return fmt.Errorf("%w: %s", ErrInsufficientBalance, apiErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrRejected, apiErr.Message)
	case -1013, -4014: // invalid price/lot filters
		return fmt.Errorf("%w: %s", ErrInvalidPrice, apiErr.Message)
	case -2011: // CANCEL_REJECTED: unknown or already executed order
		if strings.Contains(strings.ToLower(apiErr.Message), "unknown") {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, apiErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrAlreadyFilled, apiErr.Message)
	case -2013: // NO_SUCH_ORDER
		return fmt.Errorf("%w: %s", ErrOrderNotFound, apiErr.Message)
	default:
		logger.Warnf("[Binance] Unclassified API error %d: %s", apiErr.Code, apiErr.Message)
		return fmt.Errorf("%w: code=%d %s", ErrRejected, apiErr.Code, apiErr.Message)
	}
}

// formatDecimal renders a float the way venue REST APIs expect, without
// exponent notation
func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
