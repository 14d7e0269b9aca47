package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPReporter posts fills to the platform's REST ledger.
type HTTPReporter struct {
	base   string
	client *http.Client
}

func NewHTTPReporter(baseURL string, timeout time.Duration) *HTTPReporter {
	return &HTTPReporter{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// Amounts go out as JSON numbers in whole units (shares, dollars, probability).
type positionBody struct {
	UserAddress  string      `json:"userAddress"`
	OutcomeIndex uint8       `json:"outcomeIndex"`
	AmountChange json.Number `json:"amountChange"`
	Price        json.Number `json:"price"`
}

type volumeBody struct {
	ContractAddress string      `json:"contractAddress"`
	TradeVolume     json.Number `json:"tradeVolume"`
}

// micro converts a 6-decimal fixed point integer to a decimal.
func micro(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -6)
}

func (r *HTTPReporter) OnFill(ctx context.Context, u PositionUpdate) error {
	amount := micro(u.Amount)
	if u.Sell {
		amount = amount.Neg()
	}
	body := positionBody{
		UserAddress:  u.User.Hex(),
		OutcomeIndex: u.Outcome,
		AmountChange: json.Number(amount.String()),
		Price:        json.Number(micro(u.Price).String()),
	}
	return r.post(ctx, "/markets/"+url.PathEscape(u.MarketID)+"/position", body)
}

func (r *HTTPReporter) OnVolumeDelta(ctx context.Context, u VolumeUpdate) error {
	body := volumeBody{
		ContractAddress: u.Market.Hex(),
		TradeVolume:     json.Number(micro(u.Volume).String()),
	}
	return r.post(ctx, "/markets/volume/update", body)
}

func (r *HTTPReporter) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %v", ErrExternalLedgerUnavailable, path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: POST %s: status %d", ErrExternalLedgerUnavailable, path, resp.StatusCode)
	}
	return nil
}
