package biddingerrors

import "errors"

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrUserNoBids      = errors.New("user has not placed any bids")
	ErrSlotTaken       = errors.New("an auction with this start_time already exists")
)

// business logic errors
var (
	ErrInvalidBid       = errors.New("invalid bid")
	ErrInvalidAuction   = errors.New("invalid auction")
	ErrBidTooLow        = errors.New("bid amount too low")
	ErrAuctionNotActive = errors.New("auction is not active")
	ErrAuctionNotEnded  = errors.New("auction has not ended yet")
)

// transport-level errors
var (
	ErrMissingIdentity = errors.New("missing caller identity")
	ErrRateLimited     = errors.New("too many requests")
)
