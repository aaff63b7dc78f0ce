package ticketing

import "errors"

var (
	ErrNotOwner             = errors.New("ticketing: caller is not the ledger owner")
	ErrInsufficientTickets  = errors.New("ticketing: insufficient tickets")
	ErrInsufficientFunds    = errors.New("ticketing: insufficient funds")
	ErrTransferFailed       = errors.New("ticketing: transfer failed")
	ErrInvalidPrice         = errors.New("ticketing: invalid price")
	ErrInvalidAmount        = errors.New("ticketing: invalid amount")
	ErrInvalidRate          = errors.New("ticketing: invalid refund rate")
	ErrReserveLimitExceeded = errors.New("ticketing: reserve limit exceeded")
	ErrSameUser             = errors.New("ticketing: buyer and seller must differ")
)
