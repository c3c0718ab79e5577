package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAuctionClosed   = errors.New("auction closed")
	ErrBidTooLow       = errors.New("bid amount must exceed current price")
	ErrSelfBid         = errors.New("seller cannot bid on own auction")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrBusy            = errors.New("auction busy, retry")
	ErrRateLimited     = errors.New("rate limited")
	ErrLockHeld        = errors.New("lock already held")
	ErrVersionConflict = errors.New("stale auction version")
	ErrInvalidAuction  = errors.New("invalid auction parameters")
)
