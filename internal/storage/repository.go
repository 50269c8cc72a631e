package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"expensesync/internal/core"

	"modernc.org/sqlite"
)

// timeLayout is fixed width so that ORDER BY on the text column is
// chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const memoryPath = ":memory:"

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	dsn := dbPath
	if dbPath != memoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if dbPath == memoryPath {
		// Every new connection to :memory: is a fresh empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:  db,
		now: time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const listByUserQuery = `
SELECT id, user_id, merchant, purchase_date, amount, currency, category, status, image_url, comment, created_at
FROM expenses
WHERE user_id = ?
ORDER BY purchase_date DESC, id DESC`

// ListByUser returns the user's expenses, newest purchase first. A user with
// no rows gets an empty, non-nil slice.
func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, listByUserQuery, userID)
	if err != nil {
		return nil, remote("list expenses", err)
	}
	defer rows.Close()

	expenses := make([]core.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, remote("scan expense", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, remote("iterate expenses", err)
	}

	return expenses, nil
}

const createExpenseQuery = `
INSERT INTO expenses (user_id, merchant, purchase_date, amount, currency, category, status, image_url, comment, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id, user_id, merchant, purchase_date, amount, currency, category, status, image_url, comment, created_at`

// Create validates and inserts one expense, returning the stored row.
func (r *SQLiteRepository) Create(ctx context.Context, in core.NewExpense) (core.Expense, error) {
	if err := in.Validate(); err != nil {
		return core.Expense{}, err
	}
	in = in.Normalize()

	row := r.db.QueryRowContext(ctx, createExpenseQuery,
		in.UserID,
		in.Merchant,
		in.PurchaseDate.Format(timeLayout),
		in.Amount,
		in.Currency,
		in.Category,
		in.Status,
		nullString(in.ImageURL),
		nullString(in.Comment),
		r.now().UTC().Format(timeLayout),
	)

	e, err := scanExpense(row)
	if err != nil {
		return core.Expense{}, remote("create expense", err)
	}
	return e, nil
}

// FindUser looks up a user by the full identity triple.
func (r *SQLiteRepository) FindUser(ctx context.Context, firstName, lastName, userID string) (core.User, error) {
	var u core.User
	err := r.db.QueryRowContext(ctx,
		`SELECT firstname, lastname, user_id FROM users WHERE firstname = ? AND lastname = ? AND user_id = ?`,
		firstName, lastName, userID,
	).Scan(&u.FirstName, &u.LastName, &u.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrUserNotFound()
	}
	if err != nil {
		return core.User{}, remote("find user", err)
	}
	return u, nil
}

// ListImageURLs returns every image URL referenced by any expense.
func (r *SQLiteRepository) ListImageURLs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT image_url FROM expenses WHERE image_url IS NOT NULL`)
	if err != nil {
		return nil, remote("list image urls", err)
	}
	defer rows.Close()

	urls := make(map[string]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, remote("scan image url", err)
		}
		urls[u] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, remote("iterate image urls", err)
	}
	return urls, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(s scanner) (core.Expense, error) {
	var (
		e                 core.Expense
		purchase, created string
		imageURL, comment sql.NullString
	)
	if err := s.Scan(&e.ID, &e.UserID, &e.Merchant, &purchase, &e.Amount, &e.Currency,
		&e.Category, &e.Status, &imageURL, &comment, &created); err != nil {
		return core.Expense{}, err
	}

	var err error
	if e.PurchaseDate, err = parseTime(purchase); err != nil {
		return core.Expense{}, fmt.Errorf("parse purchase_date %q: %w", purchase, err)
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return core.Expense{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	if imageURL.Valid {
		e.ImageURL = &imageURL.String
	}
	if comment.Valid {
		e.Comment = &comment.String
	}
	return e, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err == nil {
		return t, nil
	}
	// Rows written by operators may use plain RFC 3339.
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// remote classifies a database failure, keeping the SQLite result code.
func remote(op string, err error) error {
	code := ""
	var se *sqlite.Error
	if errors.As(err, &se) {
		code = strconv.Itoa(se.Code())
	}
	return core.Remote(op, code, err)
}
