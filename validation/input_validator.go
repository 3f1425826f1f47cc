package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	MaxPriceDecimals = 8

	MinQuantity int64 = 1
	MaxQuantity int64 = 1_000_000_000

	MaxClientIDLength = 64
	MaxSymbolLength   = 20
	MaxOrderIDLength  = 64
	MaxSideLength     = 10

	MaxRequestBodySize = 1024 * 1024
	MaxJSONDepth       = 10

	ClientIDPattern = `^[a-zA-Z0-9_-]+$`
	SymbolPattern   = `^[A-Z0-9]+-[A-Z0-9]+$`
	OrderIDPattern  = `^[a-zA-Z0-9_-]+$`
)

var (
	clientIDRegex = regexp.MustCompile(ClientIDPattern)
	symbolRegex   = regexp.MustCompile(SymbolPattern)
	orderIDRegex  = regexp.MustCompile(OrderIDPattern)

	MinPrice = decimal.New(1, -8)          // 0.00000001
	MaxPrice = decimal.New(1_000_000_000, 0)

	ErrInvalidPrice           = errors.New("invalid price")
	ErrPricePrecisionExceeded = errors.New("price precision exceeds 8 decimals")
	ErrPriceOutOfRange        = errors.New("price out of valid range")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrQuantityOutOfRange     = errors.New("quantity out of valid range")
	ErrInvalidClientID        = errors.New("invalid client_id format or length")
	ErrInvalidSymbol          = errors.New("invalid symbol format or length")
	ErrInvalidOrderID         = errors.New("invalid order_id format or length")
	ErrInvalidSide            = errors.New("invalid order side")
	ErrRequestBodyTooLarge    = errors.New("request body too large")
	ErrMalformedJSON          = errors.New("malformed JSON")
	ErrInvalidContentType     = errors.New("invalid content type, expected application/json")
)

// ValidationConfig bounds the values ValidatePrice/ValidateQuantity accept.
// Quantities are integer unit counts, never floats — a fraction of a unit
// isn't representable on the book.
type ValidationConfig struct {
	MaxPriceDecimals   int
	MinPrice           decimal.Decimal
	MaxPrice           decimal.Decimal
	MinQuantity        int64
	MaxQuantity        int64
	MaxClientIDLength  int
	MaxSymbolLength    int
	MaxRequestBodySize int64
}

func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		MaxPriceDecimals:   MaxPriceDecimals,
		MinPrice:           MinPrice,
		MaxPrice:           MaxPrice,
		MinQuantity:        MinQuantity,
		MaxQuantity:        MaxQuantity,
		MaxClientIDLength:  MaxClientIDLength,
		MaxSymbolLength:    MaxSymbolLength,
		MaxRequestBodySize: MaxRequestBodySize,
	}
}

type InputValidator struct {
	config *ValidationConfig
}

func NewInputValidator(config *ValidationConfig) *InputValidator {
	if config == nil {
		config = DefaultValidationConfig()
	}
	return &InputValidator{config: config}
}

// NewDefaultInputValidator creates a validator with default configuration
func NewDefaultInputValidator() *InputValidator {
	return NewInputValidator(DefaultValidationConfig())
}

// ValidatePrice validates price range and decimal precision. price arrives
// already parsed by decimal.NewFromString at the JSON boundary, so NaN/Inf
// can't occur here the way they could with a float.
func (iv *InputValidator) ValidatePrice(price decimal.Decimal) error {
	if price.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidPrice, price)
	}
	if price.LessThan(iv.config.MinPrice) {
		return fmt.Errorf("%w: price %s is below minimum %s",
			ErrPriceOutOfRange, price, iv.config.MinPrice)
	}
	if price.GreaterThan(iv.config.MaxPrice) {
		return fmt.Errorf("%w: price %s exceeds maximum %s",
			ErrPriceOutOfRange, price, iv.config.MaxPrice)
	}
	if -price.Exponent() > int32(iv.config.MaxPriceDecimals) {
		return fmt.Errorf("%w: price %s has more than %d decimal places",
			ErrPricePrecisionExceeded, price, iv.config.MaxPriceDecimals)
	}
	return nil
}

// ValidateQuantity validates an integer unit quantity against range bounds.
func (iv *InputValidator) ValidateQuantity(quantity int64) error {
	if quantity < iv.config.MinQuantity {
		return fmt.Errorf("%w: quantity %d is below minimum %d",
			ErrQuantityOutOfRange, quantity, iv.config.MinQuantity)
	}
	if quantity > iv.config.MaxQuantity {
		return fmt.Errorf("%w: quantity %d exceeds maximum %d",
			ErrQuantityOutOfRange, quantity, iv.config.MaxQuantity)
	}
	return nil
}

// ValidateClientID validates client ID format and length
func (iv *InputValidator) ValidateClientID(clientID string) error {
	if clientID == "" {
		return fmt.Errorf("%w: client_id cannot be empty", ErrInvalidClientID)
	}

	if len(clientID) > iv.config.MaxClientIDLength {
		return fmt.Errorf("%w: client_id length %d exceeds maximum %d",
			ErrInvalidClientID, len(clientID), iv.config.MaxClientIDLength)
	}

	if !utf8.ValidString(clientID) {
		return fmt.Errorf("%w: client_id contains invalid UTF-8", ErrInvalidClientID)
	}

	if !clientIDRegex.MatchString(clientID) {
		return fmt.Errorf("%w: client_id must contain only alphanumeric characters, underscores, and hyphens",
			ErrInvalidClientID)
	}

	return nil
}

// ValidateSymbol validates trading symbol format and length, e.g. "BTC-USD".
func (iv *InputValidator) ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol cannot be empty", ErrInvalidSymbol)
	}

	if len(symbol) > iv.config.MaxSymbolLength {
		return fmt.Errorf("%w: symbol length %d exceeds maximum %d",
			ErrInvalidSymbol, len(symbol), iv.config.MaxSymbolLength)
	}

	if !symbolRegex.MatchString(symbol) {
		return fmt.Errorf("%w: symbol must be two uppercase alphanumeric legs separated by a hyphen, e.g. BTC-USD",
			ErrInvalidSymbol)
	}

	return nil
}

// ValidateOrderID validates order ID format and length
func (iv *InputValidator) ValidateOrderID(orderID string) error {
	if orderID == "" {
		return fmt.Errorf("%w: order_id cannot be empty", ErrInvalidOrderID)
	}

	if len(orderID) > MaxOrderIDLength {
		return fmt.Errorf("%w: order_id length %d exceeds maximum %d",
			ErrInvalidOrderID, len(orderID), MaxOrderIDLength)
	}

	if !utf8.ValidString(orderID) {
		return fmt.Errorf("%w: order_id contains invalid UTF-8", ErrInvalidOrderID)
	}

	if !orderIDRegex.MatchString(orderID) {
		return fmt.Errorf("%w: order_id must contain only alphanumeric characters, underscores, and hyphens",
			ErrInvalidOrderID)
	}

	return nil
}

// ValidateSide validates order side (buy/sell)
func (iv *InputValidator) ValidateSide(side string) error {
	side = strings.ToLower(strings.TrimSpace(side))

	if side != "buy" && side != "sell" {
		return fmt.Errorf("%w: side must be 'buy' or 'sell', got '%s'", ErrInvalidSide, side)
	}

	return nil
}

// ValidateRequestBody validates and reads request body with size limit
func (iv *InputValidator) ValidateRequestBody(r *http.Request, maxSize int64) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "application/json") {
		return nil, ErrInvalidContentType
	}

	if maxSize <= 0 {
		maxSize = iv.config.MaxRequestBodySize
	}

	limitedReader := io.LimitReader(r.Body, maxSize+1)

	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	if int64(len(body)) > maxSize {
		return nil, fmt.Errorf("%w: body size %d exceeds maximum %d bytes",
			ErrRequestBodyTooLarge, len(body), maxSize)
	}

	return body, nil
}

// ValidateAndDecodeJSON validates and decodes JSON with security checks
func (iv *InputValidator) ValidateAndDecodeJSON(body []byte, v interface{}) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty request body", ErrMalformedJSON)
	}

	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	if decoder.More() {
		return fmt.Errorf("%w: trailing data after JSON", ErrMalformedJSON)
	}

	return nil
}

// OrderRequest is the wire shape for POST /orders and PUT /orders/{id}.
// Price is a JSON string, parsed with decimal.NewFromString so it never
// passes through a float on the way in.
type OrderRequest struct {
	ClientID string          `json:"client_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// ValidateOrderRequest performs comprehensive validation on an order request
func (iv *InputValidator) ValidateOrderRequest(req *OrderRequest) error {
	var errs []error

	if err := iv.ValidateClientID(req.ClientID); err != nil {
		errs = append(errs, err)
	}
	if err := iv.ValidateSymbol(req.Symbol); err != nil {
		errs = append(errs, err)
	}
	if err := iv.ValidateSide(req.Side); err != nil {
		errs = append(errs, err)
	}
	if err := iv.ValidatePrice(req.Price); err != nil {
		errs = append(errs, err)
	}
	if err := iv.ValidateQuantity(req.Quantity); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}

	return nil
}

// CancelOrderRequest represents a cancel order request
type CancelOrderRequest struct {
	ClientID string `json:"client_id"`
	OrderID  string `json:"order_id"`
	Symbol   string `json:"symbol"`
}

// ValidateCancelOrderRequest validates a cancel order request
func (iv *InputValidator) ValidateCancelOrderRequest(req *CancelOrderRequest) error {
	var errs []error

	if err := iv.ValidateClientID(req.ClientID); err != nil {
		errs = append(errs, err)
	}
	if err := iv.ValidateOrderID(req.OrderID); err != nil {
		errs = append(errs, err)
	}
	if err := iv.ValidateSymbol(req.Symbol); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}

	return nil
}

// SanitizeString removes control characters and limits length
func SanitizeString(s string, maxLen int) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	str := result.String()
	if len(str) > maxLen {
		str = str[:maxLen]
	}

	return str
}

// ValidateNumericRange checks if a numeric value is within acceptable range
func ValidateNumericRange(value, min, max float64, fieldName string) error {
	if value < min || value > max {
		return fmt.Errorf("%s %.2f is out of valid range [%.2f, %.2f]",
			fieldName, value, min, max)
	}

	return nil
}
