package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/kdvteam/kdv-system/internal/middleware"
	"github.com/kdvteam/kdv-system/internal/model"
	"github.com/kdvteam/kdv-system/internal/repository"
	"github.com/kdvteam/kdv-system/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUserID int64
	authErr    error

	account    *model.Account
	accountErr error

	balance    int64
	balanceErr error

	buyRecord *model.Record
	buyErr    error

	adjustRecord *model.Record
	adjustErr    error

	revokeErr error

	transferResult *model.Transaction
	transferErr    error

	targets    []repository.AccountRef
	targetsErr error

	challengeErr   error
	unchallengeErr error
	returnErr      error

	ledgerResp []model.LedgerEntry
	ledgerErr  error

	catalogResp []service.CategoryProducts
	catalogErr  error

	saveProductErr    error
	deleteProductErr  error
	createCategoryID  int64
	createCategoryErr error
	deleteCategoryErr error
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	return s.authUserID, s.authErr
}

func (s *stubService) CurrentAccount(ctx context.Context, userID int64) (*model.Account, error) {
	if s.account == nil && s.accountErr == nil {
		return &model.Account{ID: 1, UserID: &userID}, nil
	}
	return s.account, s.accountErr
}

func (s *stubService) Balance(ctx context.Context, accountID int64) (int64, error) {
	return s.balance, s.balanceErr
}

func (s *stubService) FormatAmount(value int64) string {
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	return sign + "stub"
}

func (s *stubService) BuyProduct(ctx context.Context, accountID, barcode, quantity int64) (*model.Record, error) {
	return s.buyRecord, s.buyErr
}

func (s *stubService) ManualAdjustment(ctx context.Context, accountID int64, value string, direction model.AdjustmentDirection) (*model.Record, error) {
	return s.adjustRecord, s.adjustErr
}

func (s *stubService) RevokeRecord(ctx context.Context, recordID, accountID int64) error {
	return s.revokeErr
}

func (s *stubService) Transfer(ctx context.Context, fromAccountID, toAccountID int64, value string) (*model.Transaction, error) {
	return s.transferResult, s.transferErr
}

func (s *stubService) TransferTargets(ctx context.Context, accountID int64) ([]repository.AccountRef, error) {
	return s.targets, s.targetsErr
}

func (s *stubService) ChallengeTransaction(ctx context.Context, transactionID, accountID int64) error {
	return s.challengeErr
}

func (s *stubService) UnchallengeTransaction(ctx context.Context, transactionID, accountID int64) error {
	return s.unchallengeErr
}

func (s *stubService) ReturnTransaction(ctx context.Context, transactionID, accountID int64) error {
	return s.returnErr
}

func (s *stubService) Ledger(ctx context.Context, accountID int64) ([]model.LedgerEntry, error) {
	return s.ledgerResp, s.ledgerErr
}

func (s *stubService) Catalog(ctx context.Context) ([]service.CategoryProducts, error) {
	return s.catalogResp, s.catalogErr
}

func (s *stubService) SaveProduct(ctx context.Context, p model.Product) error {
	return s.saveProductErr
}

func (s *stubService) DeleteProduct(ctx context.Context, barcode int64) error {
	return s.deleteProductErr
}

func (s *stubService) CreateCategory(ctx context.Context, name string) (int64, error) {
	return s.createCategoryID, s.createCategoryErr
}

func (s *stubService) DeleteCategory(ctx context.Context, id int64) error {
	return s.deleteCategoryErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

// doAuthed выполняет запрос через полный роутер с валидным cookie авторизации.
func doAuthed(t *testing.T, h *Handler, method, target string, body []byte) *http.Response {
	t.Helper()

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, 1)
	cookie := rec.Result().Cookies()[0]

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.AddCookie(cookie)

	respRec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(respRec, req)

	return respRec.Result()
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("auth cookie not set")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{
		registerErr: repository.ErrUserExists,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "pass"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{
		authErr: service.ErrInvalidCredentials,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "wrong"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetAccount_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/user/account", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetAccount_ReturnsBalance(t *testing.T) {
	svc := &stubService{
		balance: -350,
	}
	h := newTestHandler(t, svc)

	res := doAuthed(t, h, http.MethodGet, "/api/user/account", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp accountResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.Balance != -350 {
		t.Fatalf("balance = %d, want -350", resp.Balance)
	}
	if resp.BalanceFormatted != "-stub" {
		t.Fatalf("balance_formatted = %q, want %q", resp.BalanceFormatted, "-stub")
	}
}

func TestGetLedger_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doAuthed(t, h, http.MethodGet, "/api/user/ledger", nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestBuyProduct_Created(t *testing.T) {
	svc := &stubService{
		buyRecord: &model.Record{
			ID:    7,
			Name:  "3x Mate",
			Cost:  450,
			State: model.RecordStateActive,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(buyRequest{Barcode: 4029764001807, Quantity: 3})

	res := doAuthed(t, h, http.MethodPost, "/api/user/records", body)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp recordResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Name != "3x Mate" || resp.Cost != 450 {
		t.Fatalf("record = %q/%d, want 3x Mate/450", resp.Name, resp.Cost)
	}
}

func TestBuyProduct_UnknownBarcode(t *testing.T) {
	svc := &stubService{
		buyErr: repository.ErrNotFound,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(buyRequest{Barcode: 999, Quantity: 1})

	res := doAuthed(t, h, http.MethodPost, "/api/user/records", body)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestBuyProduct_InvalidQuantity(t *testing.T) {
	svc := &stubService{
		buyErr: service.ErrInvalidQuantity,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(buyRequest{Barcode: 1, Quantity: -1})

	res := doAuthed(t, h, http.MethodPost, "/api/user/records", body)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestManualAdjustment_Created(t *testing.T) {
	svc := &stubService{
		adjustRecord: &model.Record{
			ID:   8,
			Name: "Manuelle Ein/Auszahlung",
			Cost: -500,
		},
	}
	h := newTestHandler(t, svc)

	body := []byte(`{"value":"5.00","direction":"IN"}`)

	res := doAuthed(t, h, http.MethodPost, "/api/user/records/manual", body)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
}

func TestTransfer_SelfTarget(t *testing.T) {
	svc := &stubService{
		transferErr: service.ErrInvalidTarget,
	}
	h := newTestHandler(t, svc)

	body := []byte(`{"to":1,"value":"1.00"}`)

	res := doAuthed(t, h, http.MethodPost, "/api/user/transactions", body)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestTransfer_Created(t *testing.T) {
	svc := &stubService{
		transferResult: &model.Transaction{
			ID:            3,
			FromAccountID: 1,
			ToAccountID:   2,
			Value:         100,
			State:         model.TransactionStateActive,
		},
	}
	h := newTestHandler(t, svc)

	body := []byte(`{"to":2,"value":"1.00"}`)

	res := doAuthed(t, h, http.MethodPost, "/api/user/transactions", body)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp transactionResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Value != 100 || resp.To != 2 {
		t.Fatalf("transaction = %+v, want value 100 to 2", resp)
	}
}

func TestChallenge_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "ok", err: nil, wantStatus: http.StatusOK},
		{name: "not found", err: repository.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "forbidden", err: repository.ErrForbidden, wantStatus: http.StatusForbidden},
		{name: "invalid state", err: repository.ErrInvalidState, wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{challengeErr: tt.err}
			h := newTestHandler(t, svc)

			res := doAuthed(t, h, http.MethodPost, "/api/user/transactions/5/challenge", nil)
			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestRevokeRecord_OK(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doAuthed(t, h, http.MethodPost, "/api/user/records/5/revoke", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestRevokeRecord_BadID(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doAuthed(t, h, http.MethodPost, "/api/user/records/abc/revoke", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestGetCatalog_Public(t *testing.T) {
	svc := &stubService{
		catalogResp: []service.CategoryProducts{
			{
				Category: model.Category{ID: 1, Name: "Getränke"},
				Products: []model.Product{
					{Barcode: 4029764001807, Name: "Mate", Cost: 150},
				},
			},
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp []catalogCategoryResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Name != "Getränke" || len(resp[0].Products) != 1 {
		t.Fatalf("unexpected catalog: %+v", resp)
	}
}

func TestSaveProduct_BadRequest(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doAuthed(t, h, http.MethodPost, "/api/products", []byte(`{"barcode":1}`))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}
