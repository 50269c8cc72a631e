package http

import (
	"time"

	"expensesync/internal/assets"
	"expensesync/internal/core"
	"expensesync/internal/history"
)

type userDTO struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	UserID    string `json:"userId"`
}

type expenseDTO struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	Merchant     string    `json:"merchant"`
	PurchaseDate time.Time `json:"purchase_date"`
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	Category     string    `json:"category"`
	Status       string    `json:"status"`
	ImageURL     *string   `json:"image_url"`
	Comment      *string   `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type bucketDTO struct {
	Label  string `json:"label"`
	Amount string `json:"amount"`
}

type statisticsDTO struct {
	Total      string      `json:"total"`
	Count      int         `json:"count"`
	ByCategory []bucketDTO `json:"by_category"`
	ByStatus   []bucketDTO `json:"by_status"`
}

type historyDTO struct {
	Expenses   []expenseDTO  `json:"expenses"`
	Statistics statisticsDTO `json:"statistics"`
}

// viewDTO is one frame pushed over the live socket.
type viewDTO struct {
	Type       string        `json:"type"`
	UserID     string        `json:"user_id"`
	State      string        `json:"state"`
	Seq        uint64        `json:"seq"`
	Error      string        `json:"error,omitempty"`
	FeedError  string        `json:"feed_error,omitempty"`
	Expenses   []expenseDTO  `json:"expenses"`
	Statistics statisticsDTO `json:"statistics"`
}

type submitDTO struct {
	Expense expenseDTO    `json:"expense"`
	Asset   *assets.Asset `json:"asset,omitempty"`
}

type partialSubmitDTO struct {
	Error string       `json:"error"`
	Kind  string       `json:"kind"`
	Asset assets.Asset `json:"asset"`
}

func toUserDTO(u core.User) userDTO {
	return userDTO{FirstName: u.FirstName, LastName: u.LastName, UserID: u.UserID}
}

func toExpenseDTO(e core.Expense) expenseDTO {
	return expenseDTO{
		ID:           e.ID,
		UserID:       e.UserID,
		Merchant:     e.Merchant,
		PurchaseDate: e.PurchaseDate.UTC(),
		Amount:       e.Amount,
		Currency:     e.Currency,
		Category:     e.Category,
		Status:       e.Status,
		ImageURL:     e.ImageURL,
		Comment:      e.Comment,
		CreatedAt:    e.CreatedAt.UTC(),
	}
}

func toExpenseDTOs(in []core.Expense) []expenseDTO {
	out := make([]expenseDTO, 0, len(in))
	for _, e := range in {
		out = append(out, toExpenseDTO(e))
	}
	return out
}

func toBuckets(in []core.LabelAmount) []bucketDTO {
	out := make([]bucketDTO, 0, len(in))
	for _, b := range in {
		out = append(out, bucketDTO{Label: b.Label, Amount: core.FormatAmount(b.Amount)})
	}
	return out
}

func toStatisticsDTO(s core.StatisticsSnapshot) statisticsDTO {
	return statisticsDTO{
		Total:      core.FormatAmount(s.Total),
		Count:      s.Count,
		ByCategory: toBuckets(s.Categories()),
		ByStatus:   toBuckets(s.Statuses()),
	}
}

func toViewDTO(v history.View) viewDTO {
	return viewDTO{
		Type:       "view",
		UserID:     v.UserID,
		State:      v.State.String(),
		Seq:        v.Seq,
		Error:      v.Err,
		FeedError:  v.FeedErr,
		Expenses:   toExpenseDTOs(v.Expenses),
		Statistics: toStatisticsDTO(v.Statistics),
	}
}
