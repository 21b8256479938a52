package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/kdvteam/kdv-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware кассы доверия.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/account", h.GetAccount)
			r.Get("/ledger", h.GetLedger)

			r.Post("/records", h.BuyProduct)
			r.Post("/records/manual", h.ManualAdjustment)
			r.Post("/records/{id}/revoke", h.RevokeRecord)

			r.Get("/transfer-targets", h.GetTransferTargets)
			r.Post("/transactions", h.Transfer)
			r.Post("/transactions/{id}/challenge", h.ChallengeTransaction)
			r.Post("/transactions/{id}/unchallenge", h.UnchallengeTransaction)
			r.Post("/transactions/{id}/return", h.ReturnTransaction)
		})
	})

	r.Get("/api/products", h.GetCatalog)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/api/products", h.SaveProduct)
		r.Delete("/api/products/{barcode}", h.DeleteProduct)
		r.Post("/api/categories", h.CreateCategory)
		r.Delete("/api/categories/{id}", h.DeleteCategory)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
