package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tixledger/crypto"
	"tixledger/native/ticketing"
)

// Config wires the read-only gateway: the engine to project and the optional
// token check.
type Config struct {
	Engine        *ticketing.Engine
	Authenticator *Authenticator
}

type policyJSON struct {
	TicketPrice       string `json:"ticketPrice"`
	RefundRatePercent uint32 `json:"refundRatePercent"`
	MaxTicketsPerUser uint64 `json:"maxTicketsPerUser"`
	ReserveLimit      uint64 `json:"reserveLimit"`
}

type accountJSON struct {
	Address string `json:"address"`
	Tickets uint64 `json:"tickets"`
	Balance string `json:"balance"`
}

type listingJSON struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
	Price   string `json:"price"`
}

type reserveJSON struct {
	Reserve uint64 `json:"reserve"`
}

// New builds the gateway handler. All ticketing routes are GETs over the
// query façade; mutations stay on the JSON-RPC surface.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/ticketing", func(tr chi.Router) {
		if cfg.Authenticator != nil {
			tr.Use(cfg.Authenticator.Middleware)
		}
		tr.Get("/policy", func(w http.ResponseWriter, _ *http.Request) {
			policy, err := cfg.Engine.CurrentPolicy()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, policyJSON{
				TicketPrice:       policy.TicketPrice.String(),
				RefundRatePercent: policy.RefundRatePercent,
				MaxTicketsPerUser: policy.MaxTicketsPerUser,
				ReserveLimit:      policy.ReserveLimit,
			})
		})
		tr.Get("/reserve", func(w http.ResponseWriter, _ *http.Request) {
			reserve, err := cfg.Engine.Reserve()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, reserveJSON{Reserve: reserve})
		})
		tr.Get("/accounts/{address}", func(w http.ResponseWriter, r *http.Request) {
			raw := chi.URLParam(r, "address")
			addr, err := crypto.DecodeAddress(raw)
			if err != nil {
				http.Error(w, "invalid address", http.StatusBadRequest)
				return
			}
			account, err := cfg.Engine.AccountOf(addr.Raw())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, accountJSON{Address: raw, Tickets: account.Tickets, Balance: account.Balance.String()})
		})
		tr.Get("/listings/{address}", func(w http.ResponseWriter, r *http.Request) {
			raw := chi.URLParam(r, "address")
			addr, err := crypto.DecodeAddress(raw)
			if err != nil {
				http.Error(w, "invalid address", http.StatusBadRequest)
				return
			}
			listing, err := cfg.Engine.ListingOf(addr.Raw())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, listingJSON{Address: raw, Amount: listing.Amount, Price: listing.Price.String()})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
