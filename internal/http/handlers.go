package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"expensesync/internal/assets"
	"expensesync/internal/core"
	"expensesync/internal/log"
	"expensesync/internal/services"
	"expensesync/internal/webhook"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "not ready").Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}

// writeError logs err with its taxonomy type and writes the mapped response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp, errorType := ErrorFor(err)
	logger := log.FromContext(r.Context(), s.logger)
	level := logger.WarnContext
	if errorType == log.ErrorTypeRemote || errorType == log.ErrorTypeInternal {
		level = logger.ErrorContext
	}
	level(r.Context(), "Request failed",
		log.FieldOperation, op,
		log.FieldErrorType, errorType,
		log.FieldError, err)
	resp.Write(w)
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	id, err := parseIdentity(r)
	if err != nil {
		s.writeError(w, r, log.OpIdentify, err)
		return
	}

	u, err := s.deps.Identifier.Identify(r.Context(), id.FirstName, id.LastName, id.UserID)
	if err != nil {
		s.writeError(w, r, log.OpIdentify, err)
		return
	}
	NewJSONResponse().Body(toUserDTO(u)).Write(w)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}

	expenses, err := s.deps.History.ListByUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(historyDTO{
		Expenses:   toExpenseDTOs(expenses),
		Statistics: toStatisticsDTO(core.Aggregate(expenses)),
	}).Write(w)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+maxFormMemory)
	form, err := parseMultipart(r)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	defer form.Close()

	in, err := form.expense(userID)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	file, err := form.image()
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	res, err := s.deps.Submitter.Submit(r.Context(), userID, in, file)
	if err != nil {
		var partial *services.PartialSubmitError
		if errors.As(err, &partial) {
			log.FromContext(r.Context(), s.logger).ErrorContext(r.Context(), "Expense submission partially failed",
				log.FieldOperation, log.OpCreate,
				log.FieldUserID, userID,
				log.FieldAssetKey, partial.Asset.Key,
				log.FieldError, err)
			NewJSONResponse().Status(http.StatusBadGateway).Body(partialSubmitDTO{
				Error: err.Error(),
				Kind:  "partial",
				Asset: partial.Asset,
			}).Write(w)
			return
		}
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	log.FromContext(r.Context(), s.logger).InfoContext(r.Context(), "Expense submitted",
		log.FieldUserID, userID,
		log.FieldExpenseID, res.Expense.ID,
		"with_image", res.Asset != nil,
		log.FieldDuration, time.Since(start).Milliseconds())
	NewJSONResponse().Status(http.StatusCreated).Body(submitDTO{
		Expense: toExpenseDTO(res.Expense),
		Asset:   res.Asset,
	}).Write(w)
}

// handleComment uploads the optional image, then forwards the comment with
// the image URL and raw bytes to the automation webhook.
func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, log.OpNotify, err)
		return
	}
	if s.deps.Comments == nil || !s.deps.Comments.Enabled() {
		ErrorResponse(http.StatusServiceUnavailable, "comments are not configured").Write(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+maxFormMemory)
	form, err := parseMultipart(r)
	if err != nil {
		s.writeError(w, r, log.OpNotify, err)
		return
	}
	defer form.Close()

	sub := webhook.Submission{
		FirstName: form.value("firstName"),
		LastName:  form.value("lastName"),
		UserID:    userID,
		Comment:   form.value("comment"),
	}
	if sub.Comment == "" {
		s.writeError(w, r, log.OpNotify, &core.ValidationError{Field: "comment", Reason: "is required"})
		return
	}

	file, err := form.image()
	if err != nil {
		s.writeError(w, r, log.OpNotify, err)
		return
	}
	if file != nil {
		// The webhook gets the raw bytes, so they are checked here even when
		// no object store is configured.
		contentType, err := assets.NormalizeContentType(file.ContentType)
		if err != nil {
			s.writeError(w, r, log.OpNotify, err)
			return
		}
		data, err := io.ReadAll(io.LimitReader(file.Body, s.opts.MaxUploadBytes+1))
		if err != nil {
			s.writeError(w, r, log.OpNotify, &core.ValidationError{Field: "image", Reason: "could not be read"})
			return
		}
		if int64(len(data)) > s.opts.MaxUploadBytes {
			s.writeError(w, r, log.OpNotify, &core.ValidationError{
				Field:  "image",
				Reason: fmt.Sprintf("is larger than %d bytes", s.opts.MaxUploadBytes),
			})
			return
		}
		if len(data) == 0 {
			s.writeError(w, r, log.OpNotify, &core.ValidationError{Field: "image", Reason: "is empty"})
			return
		}
		file.ContentType = contentType
		file.Size = int64(len(data))
		if s.deps.Attachments != nil {
			file.Body = bytes.NewReader(data)
			asset, err := s.deps.Attachments.UploadAttachment(r.Context(), userID, *file)
			if err != nil {
				s.writeError(w, r, log.OpUpload, err)
				return
			}
			sub.ImageURL = asset.URL
		}
		file.Body = bytes.NewReader(data)
		sub.Image = file
	}

	result, err := s.deps.Comments.Send(r.Context(), sub)
	if err != nil {
		s.writeError(w, r, log.OpNotify, err)
		return
	}
	NewJSONResponse().Body(map[string]any{
		"result":    result,
		"image_url": sub.ImageURL,
	}).Write(w)
}
