package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	model "auction-engine/internal/models"
	"auction-engine/services/bidding/helpers"
)

// AuctionInfo is the server's view of one auction. Start and end are zero
// when the server sent nothing parseable.
type AuctionInfo struct {
	ID         string
	Name       string
	StartPrice decimal.Decimal
	StartTime  time.Time
	EndTime    time.Time
	WinnerID   *string
	FinalPrice *decimal.Decimal
	Finalized  bool
}

// HighestInfo is the current price of an auction
type HighestInfo struct {
	Amount     decimal.Decimal
	BidderID   string
	TotalBids  int
	MinNextBid decimal.Decimal

	// MinNextBidInclusive is false before the first bid, when MinNextBid
	// itself is not enough
	MinNextBidInclusive bool
}

// Source is what the tracker needs from the engine
type Source interface {
	Auction(ctx context.Context, auctionID string) (AuctionInfo, error)
	ServerTime(ctx context.Context) (time.Time, error)
	Highest(ctx context.Context, auctionID string) (HighestInfo, error)
	Finalize(ctx context.Context, auctionID string) (model.FinalizationResult, error)
}

// APIError is a non-2xx answer from the engine
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine answered %d: %s", e.Status, e.Detail)
}

// HTTPSource reads the engine over its HTTP API
type HTTPSource struct {
	client  *http.Client
	baseURL string
	userID  string
}

// NewHTTPSource returns a source for the engine at baseURL. userID, when set,
// is sent as X-User-Id.
func NewHTTPSource(client *http.Client, baseURL, userID string) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
	}
}

func (s *HTTPSource) Auction(ctx context.Context, auctionID string) (AuctionInfo, error) {
	var resp helpers.AuctionResponse
	if err := s.do(ctx, http.MethodGet, "/products/"+url.PathEscape(auctionID), &resp); err != nil {
		return AuctionInfo{}, fmt.Errorf("tracker: fetch auction %s: %w", auctionID, err)
	}
	return AuctionInfo{
		ID:         resp.ProductID,
		Name:       resp.ProductName,
		StartPrice: resp.StartPrice,
		StartTime:  parseOrZero(resp.StartTime),
		EndTime:    parseOrZero(resp.EndTime),
		WinnerID:   resp.WinnerID,
		FinalPrice: resp.FinalPrice,
		Finalized:  resp.FinalizedAt != nil,
	}, nil
}

func (s *HTTPSource) ServerTime(ctx context.Context) (time.Time, error) {
	var resp helpers.VirtualTimeResponse
	if err := s.do(ctx, http.MethodGet, "/products/time/virtual", &resp); err != nil {
		return time.Time{}, fmt.Errorf("tracker: fetch server time: %w", err)
	}
	t, err := model.ParseTimestamp(resp.VirtualTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("tracker: parse server time %q: %w", resp.VirtualTime, err)
	}
	return t, nil
}

func (s *HTTPSource) Highest(ctx context.Context, auctionID string) (HighestInfo, error) {
	var resp helpers.HighestBidResponse
	if err := s.do(ctx, http.MethodGet, "/bids/"+url.PathEscape(auctionID)+"/highest", &resp); err != nil {
		return HighestInfo{}, fmt.Errorf("tracker: fetch highest bid of %s: %w", auctionID, err)
	}
	h := HighestInfo{
		Amount:              resp.HighestBid,
		TotalBids:           resp.TotalBids,
		MinNextBid:          resp.MinNextBid,
		MinNextBidInclusive: resp.MinNextBidInclusive,
	}
	if resp.UserID != nil {
		h.BidderID = *resp.UserID
	}
	return h, nil
}

func (s *HTTPSource) Finalize(ctx context.Context, auctionID string) (model.FinalizationResult, error) {
	var resp helpers.FinalizeResponse
	if err := s.do(ctx, http.MethodPost, "/products/finalize/"+url.PathEscape(auctionID), &resp); err != nil {
		return model.FinalizationResult{}, fmt.Errorf("tracker: finalize %s: %w", auctionID, err)
	}
	return model.FinalizationResult{
		AuctionID:   resp.ProductID,
		WinnerID:    resp.WinnerID,
		FinalPrice:  resp.FinalPrice,
		FinalizedAt: parseOrZero(resp.FinalizedAt),
	}, nil
}

func (s *HTTPSource) do(ctx context.Context, method, path string, out any) error {
	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.userID != "" {
		req.Header.Set(helpers.UserIDHeader, s.userID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Detail: apiErr.Detail}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := model.ParseTimestamp(s)
	if err != nil {
		return time.Time{}
	}
	return t
}
