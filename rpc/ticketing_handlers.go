package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"tixledger/crypto"
)

type handlerFunc func(w http.ResponseWriter, req *RPCRequest)

func (s *Server) mutationHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"ticket_listForSale":     s.handleListForSale,
		"ticket_delist":          s.handleDelist,
		"ticket_buy":             s.handleBuy,
		"ticket_refund":          s.handleRefund,
		"ticket_partialRefund":   s.handlePartialRefund,
		"ticket_withdraw":        s.handleWithdraw,
		"ticket_cancelEvent":     s.handleCancelEvent,
		"ticket_setPrice":        s.handleSetPrice,
		"ticket_setRefundRate":   s.handleSetRefundRate,
		"ticket_setMaxPerUser":   s.handleSetMaxPerUser,
		"ticket_setReserveLimit": s.handleSetReserveLimit,
		"ticket_increasePrice":   s.handleIncreasePrice,
		"ticket_decreasePrice":   s.handleDecreasePrice,
	}
}

func (s *Server) queryHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"ticket_getPrice":      s.handleGetPrice,
		"ticket_getRefundRate": s.handleGetRefundRate,
		"ticket_getPolicy":     s.handleGetPolicy,
		"ticket_getAccount":    s.handleGetAccount,
		"ticket_getListing":    s.handleGetListing,
		"ticket_getReserve":    s.handleGetReserve,
	}
}

// --- parameter helpers ---

func decodeParams(req *RPCRequest, target interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	if err := json.Unmarshal(req.Params[0], target); err != nil {
		return fmt.Errorf("invalid parameter object: %w", err)
	}
	return nil
}

func parseAddress(raw string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

func parseBigInt(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	return value, nil
}

func (s *Server) invalidParams(w http.ResponseWriter, req *RPCRequest, err error) {
	writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
}

// --- mutation handlers ---

type callerAmountParams struct {
	Caller string `json:"caller"`
	Amount uint64 `json:"amount"`
}

func (s *Server) handleListForSale(w http.ResponseWriter, req *RPCRequest) {
	var params callerAmountParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.engine.ListForSale(caller, params.Amount); err != nil {
		s.engineError(w, req, "listForSale", err)
		return
	}
	s.committed(w, req, "listForSale")
}

func (s *Server) handleDelist(w http.ResponseWriter, req *RPCRequest) {
	var params callerAmountParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.engine.Delist(caller, params.Amount); err != nil {
		s.engineError(w, req, "delist", err)
		return
	}
	s.committed(w, req, "delist")
}

type buyParams struct {
	Buyer  string `json:"buyer"`
	Seller string `json:"seller"`
	Amount uint64 `json:"amount"`
}

func (s *Server) handleBuy(w http.ResponseWriter, req *RPCRequest) {
	var params buyParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	seller, err := parseAddress(params.Seller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.engine.Buy(buyer, seller, params.Amount); err != nil {
		s.engineError(w, req, "buy", err)
		return
	}
	s.committed(w, req, "buy")
}

func (s *Server) handleRefund(w http.ResponseWriter, req *RPCRequest) {
	var params callerAmountParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.engine.Refund(caller, params.Amount); err != nil {
		s.engineError(w, req, "refund", err)
		return
	}
	s.committed(w, req, "refund")
}

func (s *Server) handlePartialRefund(w http.ResponseWriter, req *RPCRequest) {
	var params callerAmountParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.engine.PartialRefund(caller, params.Amount); err != nil {
		s.engineError(w, req, "partialRefund", err)
		return
	}
	s.committed(w, req, "partialRefund")
}

type withdrawParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *RPCRequest) {
	var params withdrawParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	amount, err := parseBigInt(params.Amount)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.engine.Withdraw(caller, amount); err != nil {
		s.engineError(w, req, "withdraw", err)
		return
	}
	s.committed(w, req, "withdraw")
}

type callerParams struct {
	Caller string `json:"caller"`
}

func (s *Server) handleCancelEvent(w http.ResponseWriter, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.engine.CancelEvent(caller); err != nil {
		s.engineError(w, req, "cancelEvent", err)
		return
	}
	s.committed(w, req, "cancelEvent")
}

type pricePayloadParams struct {
	Caller string `json:"caller"`
	Price  string `json:"price"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, req *RPCRequest) {
	var params pricePayloadParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	price, err := parseBigInt(params.Price)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.engine.SetTicketPrice(caller, price); err != nil {
		s.engineError(w, req, "setPrice", err)
		return
	}
	s.committed(w, req, "setPrice")
}

type rateParams struct {
	Caller      string `json:"caller"`
	RatePercent uint32 `json:"ratePercent"`
}

func (s *Server) handleSetRefundRate(w http.ResponseWriter, req *RPCRequest) {
	var params rateParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.engine.SetRefundRate(caller, params.RatePercent); err != nil {
		s.engineError(w, req, "setRefundRate", err)
		return
	}
	s.committed(w, req, "setRefundRate")
}

type maxPerUserParams struct {
	Caller string `json:"caller"`
	Max    uint64 `json:"max"`
}

func (s *Server) handleSetMaxPerUser(w http.ResponseWriter, req *RPCRequest) {
	var params maxPerUserParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.engine.SetMaxTicketsPerUser(caller, params.Max); err != nil {
		s.engineError(w, req, "setMaxPerUser", err)
		return
	}
	s.committed(w, req, "setMaxPerUser")
}

type reserveLimitParams struct {
	Caller string `json:"caller"`
	Limit  uint64 `json:"limit"`
}

func (s *Server) handleSetReserveLimit(w http.ResponseWriter, req *RPCRequest) {
	var params reserveLimitParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.engine.SetReserveLimit(caller, params.Limit); err != nil {
		s.engineError(w, req, "setReserveLimit", err)
		return
	}
	s.committed(w, req, "setReserveLimit")
}

type priceDeltaParams struct {
	Caller string `json:"caller"`
	Delta  string `json:"delta"`
}

func (s *Server) handleIncreasePrice(w http.ResponseWriter, req *RPCRequest) {
	var params priceDeltaParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	delta, err := parseBigInt(params.Delta)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.engine.IncreasePrice(caller, delta); err != nil {
		s.engineError(w, req, "increasePrice", err)
		return
	}
	s.committed(w, req, "increasePrice")
}

func (s *Server) handleDecreasePrice(w http.ResponseWriter, req *RPCRequest) {
	var params priceDeltaParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	delta, err := parseBigInt(params.Delta)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.engine.DecreasePrice(caller, delta); err != nil {
		s.engineError(w, req, "decreasePrice", err)
		return
	}
	s.committed(w, req, "decreasePrice")
}

// --- query handlers ---

type policyResult struct {
	TicketPrice       string `json:"ticketPrice"`
	RefundRatePercent uint32 `json:"refundRatePercent"`
	MaxTicketsPerUser uint64 `json:"maxTicketsPerUser"`
	ReserveLimit      uint64 `json:"reserveLimit"`
}

type accountResult struct {
	Address string `json:"address"`
	Tickets uint64 `json:"tickets"`
	Balance string `json:"balance"`
}

type listingResult struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
	Price   string `json:"price"`
}

func (s *Server) handleGetPrice(w http.ResponseWriter, req *RPCRequest) {
	price, err := s.engine.TicketPrice()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, price.String())
}

func (s *Server) handleGetRefundRate(w http.ResponseWriter, req *RPCRequest) {
	rate, err := s.engine.RefundRate()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, rate)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, req *RPCRequest) {
	policy, err := s.engine.CurrentPolicy()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, policyResult{
		TicketPrice:       policy.TicketPrice.String(),
		RefundRatePercent: policy.RefundRatePercent,
		MaxTicketsPerUser: policy.MaxTicketsPerUser,
		ReserveLimit:      policy.ReserveLimit,
	})
}

type addressParams struct {
	Address string `json:"address"`
}

func (s *Server) handleGetAccount(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	account, err := s.engine.AccountOf(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, accountResult{
		Address: strings.TrimSpace(params.Address),
		Tickets: account.Tickets,
		Balance: account.Balance.String(),
	})
}

func (s *Server) handleGetListing(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	listing, err := s.engine.ListingOf(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, listingResult{
		Address: strings.TrimSpace(params.Address),
		Amount:  listing.Amount,
		Price:   listing.Price.String(),
	})
}

func (s *Server) handleGetReserve(w http.ResponseWriter, req *RPCRequest) {
	reserve, err := s.engine.Reserve()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, reserve)
}
