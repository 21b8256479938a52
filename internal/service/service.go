// Package service реализует бизнес-логику кассы доверия.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/kdvteam/kdv-system/internal/currency"
	"github.com/kdvteam/kdv-system/internal/model"
	"github.com/kdvteam/kdv-system/internal/repository"
	"github.com/kdvteam/kdv-system/internal/validation"
)

// Штрихкод и название, зарезервированные для ручных операций с балансом.
const (
	manualBarcode = 2990005000008
	manualName    = "Manuelle Ein/Auszahlung"
)

// ErrInvalidQuantity возвращается при покупке с неположительным количеством.
var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidTarget возвращается при попытке перевода самому себе.
	ErrInvalidTarget = errors.New("transfer target must differ from source")
	// ErrInvalidDirection возвращается при неизвестном направлении ручной операции.
	ErrInvalidDirection = errors.New("invalid adjustment direction")
	// ErrInvalidCredentials возвращается при неверном логине или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidBarcode возвращается при неположительном штрихкоде товара.
	ErrInvalidBarcode = errors.New("invalid barcode")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetOrCreateAccount(ctx context.Context, userID int64) (*model.Account, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	ListTransferTargets(ctx context.Context, exceptAccountID int64) ([]repository.AccountRef, error)
	GetBalance(ctx context.Context, accountID int64) (int64, error)
	CreateRecord(ctx context.Context, accountID, barcode int64, name string, cost int64) (*model.Record, error)
	GetRecord(ctx context.Context, id int64) (*model.Record, error)
	RevokeRecord(ctx context.Context, id, accountID int64) error
	CreateTransaction(ctx context.Context, fromAccountID, toAccountID, value int64) (*model.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*model.Transaction, error)
	UpdateTransactionState(ctx context.Context, id, actorAccountID int64, actor repository.TransactionActor, from []model.TransactionState, to model.TransactionState) error
	ListLedger(ctx context.Context, accountID int64) ([]model.LedgerEntry, error)
	GetProduct(ctx context.Context, barcode int64) (*model.Product, error)
	SaveProduct(ctx context.Context, p model.Product) error
	DeleteProduct(ctx context.Context, barcode int64) error
	CreateCategory(ctx context.Context, name string) (int64, error)
	DeleteCategory(ctx context.Context, id int64) error
	ListCategories(ctx context.Context) ([]model.Category, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
}

// Service содержит бизнес-логику кассы доверия.
type Service struct {
	repo      Repository
	formatter currency.Formatter
}

// NewService создаёт новый сервис с указанным репозиторием и форматтером валюты.
func NewService(repo Repository, formatter currency.Formatter) *Service {
	return &Service{
		repo:      repo,
		formatter: formatter,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// CurrentAccount возвращает счёт пользователя, создавая его при первом обращении.
func (s *Service) CurrentAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return s.repo.GetOrCreateAccount(ctx, userID)
}

// Balance возвращает текущий баланс счёта в минорных единицах.
func (s *Service) Balance(ctx context.Context, accountID int64) (int64, error) {
	return s.repo.GetBalance(ctx, accountID)
}

// FormatAmount переводит сумму в минорных единицах в строку для отображения.
func (s *Service) FormatAmount(value int64) string {
	return s.formatter.Format(value)
}

// BuyProduct создаёт запись о покупке товара по штрихкоду. При количестве
// больше единицы стоимость умножается, а название дополняется множителем,
// например "3x Mate".
func (s *Service) BuyProduct(ctx context.Context, accountID, barcode, quantity int64) (*model.Record, error) {
	if !validation.IsValidQuantity(quantity) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}

	product, err := s.repo.GetProduct(ctx, barcode)
	if err != nil {
		return nil, err
	}

	return s.record(ctx, accountID, product.Barcode, product.Name, product.Cost, quantity)
}

// ManualAdjustment создаёт запись о ручном внесении или снятии наличных.
// Внесение уменьшает суммарную стоимость покупок (cost отрицательный) и тем
// самым увеличивает баланс, снятие — наоборот.
func (s *Service) ManualAdjustment(ctx context.Context, accountID int64, value string, direction model.AdjustmentDirection) (*model.Record, error) {
	cents, err := validation.ParseAmount(value)
	if err != nil {
		return nil, err
	}

	var cost int64
	switch direction {
	case model.AdjustmentDeposit:
		cost = -cents
	case model.AdjustmentWithdrawal:
		cost = cents
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}

	return s.record(ctx, accountID, manualBarcode, manualName, cost, 1)
}

// record — общий путь создания записи для покупок и ручных операций.
func (s *Service) record(ctx context.Context, accountID, barcode int64, name string, cost, quantity int64) (*model.Record, error) {
	if quantity > 1 {
		name = fmt.Sprintf("%dx %s", quantity, name)
		cost = cost * quantity
	}
	return s.repo.CreateRecord(ctx, accountID, barcode, name, cost)
}

// RevokeRecord отменяет активную запись о покупке. Отмена необратима.
func (s *Service) RevokeRecord(ctx context.Context, recordID, accountID int64) error {
	return s.repo.RevokeRecord(ctx, recordID, accountID)
}

// Transfer создаёт перевод с одного счёта на другой. Перевод самому себе запрещён.
func (s *Service) Transfer(ctx context.Context, fromAccountID, toAccountID int64, value string) (*model.Transaction, error) {
	cents, err := validation.ParseAmount(value)
	if err != nil {
		return nil, err
	}

	if toAccountID == fromAccountID {
		return nil, ErrInvalidTarget
	}

	if _, err := s.repo.GetAccount(ctx, toAccountID); err != nil {
		return nil, err
	}

	return s.repo.CreateTransaction(ctx, fromAccountID, toAccountID, cents)
}

// TransferTargets возвращает список счетов, доступных как получатели перевода.
// Счёт отправителя исключается уже на этом уровне, а не при создании перевода.
func (s *Service) TransferTargets(ctx context.Context, accountID int64) ([]repository.AccountRef, error) {
	return s.repo.ListTransferTargets(ctx, accountID)
}

// transactionTransition описывает один разрешённый переход перевода:
// какая сторона его выполняет, из каких состояний и в какое.
type transactionTransition struct {
	actor repository.TransactionActor
	from  []model.TransactionState
	to    model.TransactionState
}

// Таблица переходов перевода. Оспорить и снять оспаривание может только
// отправитель, вернуть перевод — только получатель; возврат окончателен.
var (
	challengeTransition = transactionTransition{
		actor: repository.ActorSource,
		from:  []model.TransactionState{model.TransactionStateActive},
		to:    model.TransactionStateChallenged,
	}
	unchallengeTransition = transactionTransition{
		actor: repository.ActorSource,
		from:  []model.TransactionState{model.TransactionStateChallenged},
		to:    model.TransactionStateActive,
	}
	returnTransition = transactionTransition{
		actor: repository.ActorDestination,
		from:  []model.TransactionState{model.TransactionStateActive, model.TransactionStateChallenged},
		to:    model.TransactionStateReturned,
	}
)

func (s *Service) applyTransition(ctx context.Context, transactionID, accountID int64, tr transactionTransition) error {
	return s.repo.UpdateTransactionState(ctx, transactionID, accountID, tr.actor, tr.from, tr.to)
}

// ChallengeTransaction оспаривает активный перевод от имени отправителя.
func (s *Service) ChallengeTransaction(ctx context.Context, transactionID, accountID int64) error {
	return s.applyTransition(ctx, transactionID, accountID, challengeTransition)
}

// UnchallengeTransaction снимает оспаривание перевода от имени отправителя.
func (s *Service) UnchallengeTransaction(ctx context.Context, transactionID, accountID int64) error {
	return s.applyTransition(ctx, transactionID, accountID, unchallengeTransition)
}

// ReturnTransaction возвращает перевод от имени получателя. После возврата
// сумма перестаёт учитываться в балансах обеих сторон.
func (s *Service) ReturnTransaction(ctx context.Context, transactionID, accountID int64) error {
	return s.applyTransition(ctx, transactionID, accountID, returnTransition)
}

// Ledger возвращает историю операций счёта от новых к старым.
func (s *Service) Ledger(ctx context.Context, accountID int64) ([]model.LedgerEntry, error) {
	return s.repo.ListLedger(ctx, accountID)
}

// CategoryProducts — категория каталога вместе с её товарами.
type CategoryProducts struct {
	Category model.Category
	Products []model.Product
}

// Catalog возвращает каталог товаров, сгруппированный по категориям.
// Товары без категории собираются в отдельную группу в конце списка.
func (s *Service) Catalog(ctx context.Context) ([]CategoryProducts, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	byCategory := make(map[int64][]model.Product)
	var uncategorized []model.Product
	for _, p := range products {
		if p.CategoryID == nil {
			uncategorized = append(uncategorized, p)
			continue
		}
		byCategory[*p.CategoryID] = append(byCategory[*p.CategoryID], p)
	}

	res := make([]CategoryProducts, 0, len(categories)+1)
	for _, c := range categories {
		res = append(res, CategoryProducts{
			Category: c,
			Products: byCategory[c.ID],
		})
	}
	if len(uncategorized) > 0 {
		res = append(res, CategoryProducts{Products: uncategorized})
	}

	return res, nil
}

// SaveProduct создаёт товар либо обновляет существующий.
func (s *Service) SaveProduct(ctx context.Context, p model.Product) error {
	if !validation.IsValidBarcode(p.Barcode) {
		return fmt.Errorf("%w: %d", ErrInvalidBarcode, p.Barcode)
	}
	return s.repo.SaveProduct(ctx, p)
}

// DeleteProduct удаляет товар из каталога.
func (s *Service) DeleteProduct(ctx context.Context, barcode int64) error {
	return s.repo.DeleteProduct(ctx, barcode)
}

// CreateCategory создаёт категорию товаров.
func (s *Service) CreateCategory(ctx context.Context, name string) (int64, error) {
	return s.repo.CreateCategory(ctx, name)
}

// DeleteCategory удаляет категорию товаров.
func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	return s.repo.DeleteCategory(ctx, id)
}
