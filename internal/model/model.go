// Package model содержит доменные сущности кассы доверия.
package model

import "time"

// User представляет зарегистрированного пользователя кассы.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Account — счёт, на котором учитываются покупки и переводы.
// Баланс нигде не хранится, он всегда вычисляется по записям и переводам.
type Account struct {
	ID        int64
	UserID    *int64
	CreatedAt time.Time
}

// RecordState описывает состояние записи о покупке.
type RecordState string

const (
	RecordStateActive  RecordState = "AC"
	RecordStateRevoked RecordState = "RV"
)

// Record — запись о покупке или ручной корректировке баланса.
// Штрихкод и название копируются из товара в момент покупки и не меняются,
// даже если сам товар позже переименуют или переоценят.
type Record struct {
	ID         int64
	Registered time.Time
	Updated    time.Time
	Barcode    int64
	Name       string
	Cost       int64
	State      RecordState
	AccountID  int64
}

// TransactionState описывает состояние перевода между счетами.
type TransactionState string

const (
	TransactionStateActive     TransactionState = "AC"
	TransactionStateChallenged TransactionState = "CH"
	TransactionStateReturned   TransactionState = "RT"
)

// Transaction — перевод средств с одного счёта на другой.
type Transaction struct {
	ID            int64
	Registered    time.Time
	Updated       time.Time
	FromAccountID int64
	ToAccountID   int64
	Value         int64
	State         TransactionState
}

// Category — категория товаров.
type Category struct {
	ID   int64
	Name string
}

// Product — товар, который можно купить по штрихкоду.
type Product struct {
	Barcode    int64
	Name       string
	Cost       int64
	Storage    int64
	CategoryID *int64
}

// AdjustmentDirection задаёт направление ручной операции с балансом.
type AdjustmentDirection string

const (
	// AdjustmentDeposit — внесение наличных, увеличивает баланс.
	AdjustmentDeposit AdjustmentDirection = "IN"
	// AdjustmentWithdrawal — снятие наличных, уменьшает баланс.
	AdjustmentWithdrawal AdjustmentDirection = "OUT"
)

// LedgerEntryKind различает виды строк в истории операций счёта.
type LedgerEntryKind string

const (
	LedgerEntryRecord         LedgerEntryKind = "record"
	LedgerEntryTransactionOut LedgerEntryKind = "transaction-out"
	LedgerEntryTransactionIn  LedgerEntryKind = "transaction-in"
)

// LedgerEntry — строка объединённой истории операций: запись о покупке либо
// исходящий или входящий перевод. Amount — знаковый вклад операции в баланс
// счёта; у отменённых записей и возвращённых переводов строка остаётся в
// истории, но в балансе не участвует.
type LedgerEntry struct {
	Kind       LedgerEntryKind
	ID         int64
	Name       string
	Amount     int64
	State      string
	Registered time.Time
}
