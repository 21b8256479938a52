// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/kdvteam/kdv-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotFound возвращается, если запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrForbidden возвращается, если действие выполняется не тем счётом.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState возвращается при попытке перехода из недопустимого состояния.
	ErrInvalidState = errors.New("invalid state")
)

// TransactionActor определяет, какой стороной перевода должен быть действующий счёт.
type TransactionActor string

const (
	// ActorSource — отправитель перевода.
	ActorSource TransactionActor = "source"
	// ActorDestination — получатель перевода.
	ActorDestination TransactionActor = "destination"
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks;
		// с переподключением pgxpool справляется сам.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetOrCreateAccount возвращает счёт пользователя, создавая его при первом обращении.
// Вставка через ON CONFLICT гарантирует, что параллельные первые обращения
// одного пользователя не создадут два счёта.
func (r *PostgresRepository) GetOrCreateAccount(ctx context.Context, userID int64) (*model.Account, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, created_at FROM accounts WHERE user_id = $1`,
		userID,
	)

	var a model.Account
	if err := row.Scan(&a.ID, &a.UserID, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}

	return &a, nil
}

// GetAccount возвращает счёт по идентификатору.
func (r *PostgresRepository) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, created_at FROM accounts WHERE id = $1`,
		id,
	)

	var a model.Account
	if err := row.Scan(&a.ID, &a.UserID, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	return &a, nil
}

// AccountRef описывает счёт в списке возможных получателей перевода.
type AccountRef struct {
	ID   int64
	Name string
}

// ListTransferTargets возвращает все счета, кроме счёта отправителя.
func (r *PostgresRepository) ListTransferTargets(ctx context.Context, exceptAccountID int64) ([]AccountRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, COALESCE(u.login, 'Account #' || a.id::text)
		 FROM accounts a
		 LEFT JOIN users u ON u.id = a.user_id
		 WHERE a.id <> $1
		 ORDER BY a.id`,
		exceptAccountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transfer targets: %w", err)
	}
	defer rows.Close()

	var res []AccountRef
	for rows.Next() {
		var ref AccountRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		res = append(res, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetBalance возвращает текущий баланс счёта в минорных единицах.
// Три суммы считаются одним запросом, поэтому видят один снимок данных:
// полученные переводы минус неотменённые покупки минус отправленные переводы.
func (r *PostgresRepository) GetBalance(ctx context.Context, accountID int64) (int64, error) {
	var balance int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT
			   COALESCE((SELECT SUM(value) FROM transactions WHERE acc_to = $1 AND state <> $2), 0)
			 - COALESCE((SELECT SUM(cost) FROM records WHERE account_id = $1 AND state <> $3), 0)
			 - COALESCE((SELECT SUM(value) FROM transactions WHERE acc_from = $1 AND state <> $2), 0)`,
			accountID,
			string(model.TransactionStateReturned),
			string(model.RecordStateRevoked),
		).Scan(&balance)
	})
	if err != nil {
		return 0, fmt.Errorf("sum balance: %w", err)
	}
	return balance, nil
}

// CreateRecord сохраняет запись о покупке или ручной корректировке.
func (r *PostgresRepository) CreateRecord(ctx context.Context, accountID, barcode int64, name string, cost int64) (*model.Record, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO records (account_id, barcode, name, cost)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, registered, updated, barcode, name, cost, state, account_id`,
		accountID, barcode, name, cost,
	)

	rec, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

// GetRecord возвращает запись по идентификатору.
func (r *PostgresRepository) GetRecord(ctx context.Context, id int64) (*model.Record, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, registered, updated, barcode, name, cost, state, account_id
		 FROM records WHERE id = $1`,
		id,
	)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*model.Record, error) {
	var rec model.Record
	var state string
	err := row.Scan(&rec.ID, &rec.Registered, &rec.Updated, &rec.Barcode, &rec.Name, &rec.Cost, &state, &rec.AccountID)
	if err != nil {
		return nil, err
	}
	rec.State = model.RecordState(state)
	return &rec, nil
}

// RevokeRecord переводит активную запись счёта в состояние Revoked.
// Предикат UPDATE повторяет предусловия, поэтому переход атомарен даже при
// конкурирующих запросах; при нуле затронутых строк причина отказа
// определяется повторным чтением.
func (r *PostgresRepository) RevokeRecord(ctx context.Context, id, accountID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE records SET state = $1, updated = now()
		 WHERE id = $2 AND account_id = $3 AND state = $4`,
		string(model.RecordStateRevoked), id, accountID, string(model.RecordStateActive),
	)
	if err != nil {
		return fmt.Errorf("revoke record: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	rec, err := r.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.AccountID != accountID {
		return ErrForbidden
	}
	return ErrInvalidState
}

// CreateTransaction сохраняет перевод между двумя разными счетами.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, fromAccountID, toAccountID, value int64) (*model.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO transactions (acc_from, acc_to, value)
		 VALUES ($1, $2, $3)
		 RETURNING id, registered, updated, acc_from, acc_to, value, state`,
		fromAccountID, toAccountID, value,
	)

	tr, err := scanTransaction(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return tr, nil
}

// GetTransaction возвращает перевод по идентификатору.
func (r *PostgresRepository) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, registered, updated, acc_from, acc_to, value, state
		 FROM transactions WHERE id = $1`,
		id,
	)

	tr, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tr, nil
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var tr model.Transaction
	var state string
	err := row.Scan(&tr.ID, &tr.Registered, &tr.Updated, &tr.FromAccountID, &tr.ToAccountID, &tr.Value, &state)
	if err != nil {
		return nil, err
	}
	tr.State = model.TransactionState(state)
	return &tr, nil
}

// UpdateTransactionState выполняет переход перевода в новое состояние.
// Действующий счёт должен быть указанной стороной перевода, а текущее
// состояние — одним из допустимых. Предикат UPDATE повторяет оба условия,
// что делает переход атомарным; при нуле затронутых строк причина отказа
// определяется повторным чтением.
func (r *PostgresRepository) UpdateTransactionState(ctx context.Context, id, actorAccountID int64, actor TransactionActor, from []model.TransactionState, to model.TransactionState) error {
	actorColumn := "acc_from"
	if actor == ActorDestination {
		actorColumn = "acc_to"
	}

	fromStates := make([]string, 0, len(from))
	for _, s := range from {
		fromStates = append(fromStates, string(s))
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE transactions SET state = $1, updated = now()
		 WHERE id = $2 AND `+actorColumn+` = $3 AND state = ANY($4)`,
		string(to), id, actorAccountID, fromStates,
	)
	if err != nil {
		return fmt.Errorf("update transaction state: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	tr, err := r.GetTransaction(ctx, id)
	if err != nil {
		return err
	}

	actorID := tr.FromAccountID
	if actor == ActorDestination {
		actorID = tr.ToAccountID
	}
	if actorID != actorAccountID {
		return ErrForbidden
	}
	return ErrInvalidState
}

// ListLedger возвращает объединённую историю операций счёта: записи о покупках
// и переводы в обе стороны, от новых к старым. Знак суммы показывает вклад
// операции в баланс; для переводов вместо названия подставляется логин
// контрагента.
func (r *PostgresRepository) ListLedger(ctx context.Context, accountID int64) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT $2::text AS kind, r.id, r.name, -r.cost AS amount, r.state, r.registered
		   FROM records r
		  WHERE r.account_id = $1
		 UNION ALL
		 SELECT $3::text, t.id, COALESCE(u.login, 'Account #' || t.acc_to::text), -t.value, t.state, t.registered
		   FROM transactions t
		   JOIN accounts a ON a.id = t.acc_to
		   LEFT JOIN users u ON u.id = a.user_id
		  WHERE t.acc_from = $1
		 UNION ALL
		 SELECT $4::text, t.id, COALESCE(u.login, 'Account #' || t.acc_from::text), t.value, t.state, t.registered
		   FROM transactions t
		   JOIN accounts a ON a.id = t.acc_from
		   LEFT JOIN users u ON u.id = a.user_id
		  WHERE t.acc_to = $1
		 ORDER BY registered DESC`,
		accountID,
		string(model.LedgerEntryRecord),
		string(model.LedgerEntryTransactionOut),
		string(model.LedgerEntryTransactionIn),
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind string
		if err := rows.Scan(&kind, &e.ID, &e.Name, &e.Amount, &e.State, &e.Registered); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Kind = model.LedgerEntryKind(kind)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetProduct возвращает товар по штрихкоду.
func (r *PostgresRepository) GetProduct(ctx context.Context, barcode int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT barcode, name, cost, storage, category_id FROM products WHERE barcode = $1`,
		barcode,
	)

	var p model.Product
	if err := row.Scan(&p.Barcode, &p.Name, &p.Cost, &p.Storage, &p.CategoryID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &p, nil
}

// SaveProduct создаёт товар либо обновляет существующий с тем же штрихкодом.
func (r *PostgresRepository) SaveProduct(ctx context.Context, p model.Product) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO products (barcode, name, cost, storage, category_id)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (barcode) DO UPDATE
		 SET name = EXCLUDED.name, cost = EXCLUDED.cost,
		     storage = EXCLUDED.storage, category_id = EXCLUDED.category_id`,
		p.Barcode, p.Name, p.Cost, p.Storage, p.CategoryID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: category %v", ErrNotFound, p.CategoryID)
		}
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

// DeleteProduct удаляет товар из каталога. Существующие записи о покупках
// при этом не меняются: они хранят собственную копию штрихкода и названия.
func (r *PostgresRepository) DeleteProduct(ctx context.Context, barcode int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE barcode = $1`, barcode)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateCategory создаёт категорию товаров.
func (r *PostgresRepository) CreateCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO categories (name) VALUES ($1) RETURNING id`,
		name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create category: %w", err)
	}
	return id, nil
}

// DeleteCategory удаляет категорию; ссылка на неё у товаров обнуляется схемой.
func (r *PostgresRepository) DeleteCategory(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCategories возвращает все категории товаров.
func (r *PostgresRepository) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("select categories: %w", err)
	}
	defer rows.Close()

	var res []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListProducts возвращает все товары каталога.
func (r *PostgresRepository) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT barcode, name, cost, storage, category_id FROM products ORDER BY name, barcode`,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.Barcode, &p.Name, &p.Cost, &p.Storage, &p.CategoryID); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
