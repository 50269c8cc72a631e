package services

import (
	"context"
	"fmt"

	"expensesync/internal/assets"
	"expensesync/internal/core"
	"expensesync/internal/log"
)

type (
	// Uploader stores a receipt image and returns where it lives.
	Uploader interface {
		Upload(ctx context.Context, userID string, f assets.File) (assets.Asset, error)
	}

	// ExpenseCreator persists one expense.
	ExpenseCreator interface {
		Create(ctx context.Context, in core.NewExpense) (core.Expense, error)
	}
)

// SubmitResult is a completed submission.
type SubmitResult struct {
	Expense core.Expense
	Asset   *assets.Asset
}

// PartialSubmitError reports that the image was stored but the expense was
// not. Asset is now unreferenced.
type PartialSubmitError struct {
	Asset assets.Asset
	Err   error
}

func (e *PartialSubmitError) Error() string {
	return fmt.Sprintf("image %s uploaded but expense not created: %v", e.Asset.Key, e.Err)
}

func (e *PartialSubmitError) Unwrap() error { return e.Err }

// ExpenseService runs the two-phase submit: upload the image if any, then
// create the expense pointing at it.
type ExpenseService struct {
	ledger   ExpenseCreator
	uploader Uploader
	logger   *log.Logger
}

func NewExpenseService(ledger ExpenseCreator, uploader Uploader, logger *log.Logger) *ExpenseService {
	if logger == nil {
		logger = log.Discard()
	}
	return &ExpenseService{
		ledger:   ledger,
		uploader: uploader,
		logger:   logger.WithComponent(log.ComponentLedger),
	}
}

// Submit records an expense for userID. The upload always completes before
// the insert starts, so a stored expense never references a missing image.
// When the upload succeeds and the insert fails the error is a
// *PartialSubmitError carrying the uploaded asset.
func (s *ExpenseService) Submit(ctx context.Context, userID string, in core.NewExpense, file *assets.File) (SubmitResult, error) {
	if in.UserID != "" && in.UserID != userID {
		return SubmitResult{}, &core.ValidationError{Field: "user_id", Reason: "does not match the session user"}
	}
	in.UserID = userID
	in.ImageURL = nil

	if err := in.Validate(); err != nil {
		return SubmitResult{}, err
	}

	var asset *assets.Asset
	if file != nil {
		if s.uploader == nil {
			return SubmitResult{}, &core.ValidationError{Field: "image", Reason: "uploads are not configured"}
		}
		a, err := s.uploader.Upload(ctx, userID, *file)
		if err != nil {
			return SubmitResult{}, err
		}
		asset = &a
		in.ImageURL = &a.URL
	}

	e, err := s.ledger.Create(ctx, in)
	if err != nil {
		if asset != nil {
			s.logger.WarnContext(ctx, "Expense not created after image upload",
				log.FieldUserID, userID,
				log.FieldAssetKey, asset.Key,
				log.FieldError, err)
			return SubmitResult{}, &PartialSubmitError{Asset: *asset, Err: err}
		}
		return SubmitResult{}, err
	}

	return SubmitResult{Expense: e, Asset: asset}, nil
}
