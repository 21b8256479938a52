// Package handler содержит HTTP-обработчики API кассы доверия.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kdvteam/kdv-system/internal/middleware"
	"github.com/kdvteam/kdv-system/internal/model"
	"github.com/kdvteam/kdv-system/internal/repository"
	"github.com/kdvteam/kdv-system/internal/service"
	"github.com/kdvteam/kdv-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	CurrentAccount(ctx context.Context, userID int64) (*model.Account, error)
	Balance(ctx context.Context, accountID int64) (int64, error)
	FormatAmount(value int64) string
	BuyProduct(ctx context.Context, accountID, barcode, quantity int64) (*model.Record, error)
	ManualAdjustment(ctx context.Context, accountID int64, value string, direction model.AdjustmentDirection) (*model.Record, error)
	RevokeRecord(ctx context.Context, recordID, accountID int64) error
	Transfer(ctx context.Context, fromAccountID, toAccountID int64, value string) (*model.Transaction, error)
	TransferTargets(ctx context.Context, accountID int64) ([]repository.AccountRef, error)
	ChallengeTransaction(ctx context.Context, transactionID, accountID int64) error
	UnchallengeTransaction(ctx context.Context, transactionID, accountID int64) error
	ReturnTransaction(ctx context.Context, transactionID, accountID int64) error
	Ledger(ctx context.Context, accountID int64) ([]model.LedgerEntry, error)
	Catalog(ctx context.Context) ([]service.CategoryProducts, error)
	SaveProduct(ctx context.Context, p model.Product) error
	DeleteProduct(ctx context.Context, barcode int64) error
	CreateCategory(ctx context.Context, name string) (int64, error)
	DeleteCategory(ctx context.Context, id int64) error
}

// Handler реализует HTTP-обработчики API кассы доверия.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError переводит доменную ошибку в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	var status int
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, repository.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, repository.ErrUserExists):
		status = http.StatusConflict
	case errors.Is(err, repository.ErrUserNotFound), errors.Is(err, service.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, validation.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidBarcode),
		errors.Is(err, service.ErrInvalidTarget):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidDirection):
		status = http.StatusBadRequest
	default:
		h.logger.Error(msg, zap.Error(err))
		status = http.StatusInternalServerError
	}
	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	h.writeJSONStatus(w, http.StatusOK, v)
}

func (h *Handler) writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// currentAccount определяет счёт текущего пользователя, создавая его при
// первом обращении.
func (h *Handler) currentAccount(w http.ResponseWriter, r *http.Request) (*model.Account, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return nil, false
	}

	account, err := h.service.CurrentAccount(r.Context(), userID)
	if err != nil {
		h.logger.Error("resolve account error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}

	return account, true
}

func urlParamInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, err, "register user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, err, "login user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type accountResponse struct {
	ID               int64  `json:"id"`
	Balance          int64  `json:"balance"`
	BalanceFormatted string `json:"balance_formatted"`
}

// GetAccount возвращает счёт текущего пользователя с вычисленным балансом.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	balance, err := h.service.Balance(r.Context(), account.ID)
	if err != nil {
		h.writeError(w, err, "get balance error")
		return
	}

	h.writeJSON(w, accountResponse{
		ID:               account.ID,
		Balance:          balance,
		BalanceFormatted: h.service.FormatAmount(balance),
	})
}

type ledgerEntryResponse struct {
	Kind            string `json:"kind"`
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Amount          int64  `json:"amount"`
	AmountFormatted string `json:"amount_formatted"`
	State           string `json:"state"`
	Registered      string `json:"registered"`
}

// GetLedger возвращает историю операций текущего счёта.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	entries, err := h.service.Ledger(r.Context(), account.ID)
	if err != nil {
		h.writeError(w, err, "get ledger error")
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, ledgerEntryResponse{
			Kind:            string(e.Kind),
			ID:              e.ID,
			Name:            e.Name,
			Amount:          e.Amount,
			AmountFormatted: h.service.FormatAmount(e.Amount),
			State:           e.State,
			Registered:      e.Registered.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, resp)
}

type buyRequest struct {
	Barcode  int64 `json:"barcode"`
	Quantity int64 `json:"quantity"`
}

type recordResponse struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Cost          int64  `json:"cost"`
	CostFormatted string `json:"cost_formatted"`
	State         string `json:"state"`
	Registered    string `json:"registered"`
}

func (h *Handler) recordResponse(rec *model.Record) recordResponse {
	return recordResponse{
		ID:            rec.ID,
		Name:          rec.Name,
		Cost:          rec.Cost,
		CostFormatted: h.service.FormatAmount(rec.Cost),
		State:         string(rec.State),
		Registered:    rec.Registered.Format(time.RFC3339),
	}
}

// BuyProduct создаёт запись о покупке товара для текущего счёта.
func (h *Handler) BuyProduct(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	rec, err := h.service.BuyProduct(r.Context(), account.ID, req.Barcode, req.Quantity)
	if err != nil {
		h.writeError(w, err, "buy product error")
		return
	}

	h.writeJSONStatus(w, http.StatusCreated, h.recordResponse(rec))
}

// adjustmentRequest принимает сумму строкой, чтобы не терять точность
// десятичной записи при разборе JSON.
type adjustmentRequest struct {
	Value     string `json:"value"`
	Direction string `json:"direction"`
}

// ManualAdjustment создаёт запись о ручном внесении или снятии наличных.
func (h *Handler) ManualAdjustment(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rec, err := h.service.ManualAdjustment(r.Context(), account.ID, req.Value, model.AdjustmentDirection(req.Direction))
	if err != nil {
		h.writeError(w, err, "manual adjustment error")
		return
	}

	h.writeJSONStatus(w, http.StatusCreated, h.recordResponse(rec))
}

// RevokeRecord отменяет запись о покупке текущего счёта.
func (h *Handler) RevokeRecord(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	recordID, err := urlParamInt64(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RevokeRecord(r.Context(), recordID, account.ID); err != nil {
		h.writeError(w, err, "revoke record error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type transferTargetResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// GetTransferTargets возвращает счета, доступные как получатели перевода.
func (h *Handler) GetTransferTargets(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	targets, err := h.service.TransferTargets(r.Context(), account.ID)
	if err != nil {
		h.writeError(w, err, "get transfer targets error")
		return
	}

	resp := make([]transferTargetResponse, 0, len(targets))
	for _, t := range targets {
		resp = append(resp, transferTargetResponse{ID: t.ID, Name: t.Name})
	}

	h.writeJSON(w, resp)
}

type transferRequest struct {
	To    int64  `json:"to"`
	Value string `json:"value"`
}

type transactionResponse struct {
	ID             int64  `json:"id"`
	From           int64  `json:"from"`
	To             int64  `json:"to"`
	Value          int64  `json:"value"`
	ValueFormatted string `json:"value_formatted"`
	State          string `json:"state"`
	Registered     string `json:"registered"`
}

// Transfer создаёт перевод с текущего счёта на другой.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tr, err := h.service.Transfer(r.Context(), account.ID, req.To, req.Value)
	if err != nil {
		h.writeError(w, err, "transfer error")
		return
	}

	h.writeJSONStatus(w, http.StatusCreated, transactionResponse{
		ID:             tr.ID,
		From:           tr.FromAccountID,
		To:             tr.ToAccountID,
		Value:          tr.Value,
		ValueFormatted: h.service.FormatAmount(tr.Value),
		State:          string(tr.State),
		Registered:     tr.Registered.Format(time.RFC3339),
	})
}

func (h *Handler) transactionAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, transactionID, accountID int64) error, msg string) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	transactionID, err := urlParamInt64(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := action(r.Context(), transactionID, account.ID); err != nil {
		h.writeError(w, err, msg)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ChallengeTransaction оспаривает исходящий перевод.
func (h *Handler) ChallengeTransaction(w http.ResponseWriter, r *http.Request) {
	h.transactionAction(w, r, h.service.ChallengeTransaction, "challenge transaction error")
}

// UnchallengeTransaction снимает оспаривание исходящего перевода.
func (h *Handler) UnchallengeTransaction(w http.ResponseWriter, r *http.Request) {
	h.transactionAction(w, r, h.service.UnchallengeTransaction, "unchallenge transaction error")
}

// ReturnTransaction возвращает входящий перевод.
func (h *Handler) ReturnTransaction(w http.ResponseWriter, r *http.Request) {
	h.transactionAction(w, r, h.service.ReturnTransaction, "return transaction error")
}

type productResponse struct {
	Barcode       int64  `json:"barcode"`
	Name          string `json:"name"`
	Cost          int64  `json:"cost"`
	CostFormatted string `json:"cost_formatted"`
	Storage       int64  `json:"storage"`
}

type catalogCategoryResponse struct {
	ID       *int64            `json:"id"`
	Name     string            `json:"name"`
	Products []productResponse `json:"products"`
}

// GetCatalog возвращает каталог товаров, сгруппированный по категориям.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.service.Catalog(r.Context())
	if err != nil {
		h.writeError(w, err, "get catalog error")
		return
	}

	resp := make([]catalogCategoryResponse, 0, len(catalog))
	for _, c := range catalog {
		products := make([]productResponse, 0, len(c.Products))
		for _, p := range c.Products {
			products = append(products, productResponse{
				Barcode:       p.Barcode,
				Name:          p.Name,
				Cost:          p.Cost,
				CostFormatted: h.service.FormatAmount(p.Cost),
				Storage:       p.Storage,
			})
		}

		cat := catalogCategoryResponse{Products: products}
		if c.Category.ID != 0 {
			id := c.Category.ID
			cat.ID = &id
			cat.Name = c.Category.Name
		}
		resp = append(resp, cat)
	}

	h.writeJSON(w, resp)
}

type productRequest struct {
	Barcode    int64  `json:"barcode"`
	Name       string `json:"name"`
	Cost       int64  `json:"cost"`
	Storage    int64  `json:"storage"`
	CategoryID *int64 `json:"category_id"`
}

// SaveProduct создаёт товар либо обновляет существующий с тем же штрихкодом.
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.SaveProduct(r.Context(), model.Product{
		Barcode:    req.Barcode,
		Name:       req.Name,
		Cost:       req.Cost,
		Storage:    req.Storage,
		CategoryID: req.CategoryID,
	})
	if err != nil {
		h.writeError(w, err, "save product error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteProduct удаляет товар из каталога.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	barcode, err := urlParamInt64(r, "barcode")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteProduct(r.Context(), barcode); err != nil {
		h.writeError(w, err, "delete product error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type categoryRequest struct {
	Name string `json:"name"`
}

type categoryResponse struct {
	ID int64 `json:"id"`
}

// CreateCategory создаёт категорию товаров.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateCategory(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, err, "create category error")
		return
	}

	h.writeJSONStatus(w, http.StatusCreated, categoryResponse{ID: id})
}

// DeleteCategory удаляет категорию товаров; товары остаются без категории.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt64(r, "id")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteCategory(r.Context(), id); err != nil {
		h.writeError(w, err, "delete category error")
		return
	}

	w.WriteHeader(http.StatusOK)
}
