package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/patungan-id/backend-patungan/internal/common"
	"github.com/patungan-id/backend-patungan/internal/events"
	"github.com/patungan-id/backend-patungan/internal/receipt"
)

// HandlerStore extends the orchestrator store with the reads and the
// receipt creation the HTTP surface needs.
type HandlerStore interface {
	Store
	CreateReceipt(ctx context.Context, rec *receipt.Receipt) error
	GetItem(ctx context.Context, itemID string) (receipt.LineItem, error)
}

// Handler exposes receipt ingestion, item edits and reconciliation runs.
// Every item mutation is followed by an orchestrator pass so stored headers
// never drift from the item set.
type Handler struct {
	Store    HandlerStore
	Svc      *Service
	Validate *validator.Validate
	Events   *events.Bus
}

// errSystemManaged marks edits that target the engine-managed
// adjustment line.
var errSystemManaged = errors.New("reconcile: system-generated line")

// inTx funnels a multi-statement handler action through one database
// transaction when the store supports it, so a failure partway leaves
// nothing behind.
func (h *Handler) inTx(ctx context.Context, fn func(HandlerStore) error) error {
	if tx, ok := h.Store.(TxStore); ok {
		return tx.InTx(ctx, func(st receipt.Store) error { return fn(st) })
	}
	return fn(h.Store)
}

type itemPayload struct {
	Description string  `json:"description" validate:"required,max=256"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice   float64 `json:"unitPrice" validate:"gte=0"`
	LineTax     float64 `json:"lineTax" validate:"gte=0"`
}

type receiptPayload struct {
	Merchant string        `json:"merchant" validate:"max=256"`
	Currency string        `json:"currency" validate:"omitempty,len=3"`
	Subtotal *float64      `json:"subtotal"`
	Tax      *float64      `json:"tax"`
	Tip      *float64      `json:"tip"`
	Total    *float64      `json:"total"`
	Items    []itemPayload `json:"items" validate:"required,min=1,dive"`
}

type itemView struct {
	ID           string  `json:"id"`
	Description  string  `json:"description"`
	Quantity     float64 `json:"quantity"`
	UnitPrice    float64 `json:"unitPrice"`
	LineSubtotal float64 `json:"lineSubtotal"`
	LineTax      float64 `json:"lineTax"`
	LineTotal    float64 `json:"lineTotal"`
	Kind         string  `json:"kind"`
	Position     int     `json:"position"`
}

type receiptView struct {
	ID              string     `json:"id"`
	Merchant        string     `json:"merchant,omitempty"`
	Currency        string     `json:"currency"`
	Subtotal        *float64   `json:"subtotal"`
	Tax             *float64   `json:"tax"`
	Tip             *float64   `json:"tip"`
	Total           *float64   `json:"total"`
	HeaderSubtotal  float64    `json:"headerSubtotal"`
	HeaderTax       *float64   `json:"headerTax"`
	HeaderTotal     float64    `json:"headerTotal"`
	ItemsSum        float64    `json:"itemsSum"`
	Baseline        float64    `json:"baseline"`
	BaselineSource  string     `json:"baselineSource,omitempty"`
	Discrepancy     float64    `json:"discrepancy"`
	ReconcileReason *string    `json:"reconcileReason"`
	Status          string     `json:"status"`
	NeedsReview     bool       `json:"needsReview"`
	Items           []itemView `json:"items"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Create ingests a parsed receipt with its printed totals and items, then
// runs a first reconciliation pass.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload receiptPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}

	rec := receipt.Receipt{
		ID:       uuid.NewString(),
		Merchant: strings.TrimSpace(payload.Merchant),
		Currency: strings.ToUpper(strings.TrimSpace(payload.Currency)),
		Printed: receipt.Totals{
			Subtotal: payload.Subtotal,
			Tax:      payload.Tax,
			Tip:      payload.Tip,
			Total:    payload.Total,
		},
	}
	if rec.Currency == "" {
		rec.Currency = "USD"
	}
	ctx := r.Context()
	var report Result
	err := h.inTx(ctx, func(st HandlerStore) error {
		if err := st.CreateReceipt(ctx, &rec); err != nil {
			return fmt.Errorf("create receipt: %w", err)
		}
		for i, it := range payload.Items {
			li := receipt.LineItem{
				ID:          uuid.NewString(),
				ReceiptID:   rec.ID,
				Description: strings.TrimSpace(it.Description),
				Quantity:    it.Quantity,
				UnitPrice:   it.UnitPrice,
				LineTax:     it.LineTax,
				Kind:        receipt.ItemKindUser,
				Position:    i,
			}
			li.RecomputeDerived()
			if err := st.InsertItem(ctx, &li); err != nil {
				return fmt.Errorf("store items: %w", err)
			}
		}
		var err error
		report, err = h.Svc.reconcile(ctx, st, rec.ID)
		return err
	})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create receipt", nil)
		return
	}
	if h.Events != nil {
		_, _ = h.Events.Emit(ctx, events.TopicReceiptParsed, rec.ID, map[string]any{
			"receiptId": rec.ID,
			"items":     len(payload.Items),
		})
	}
	h.Svc.emitReconciled(ctx, rec.ID, report)
	h.renderReceipt(w, r, rec.ID, http.StatusCreated)
}

// Get returns a receipt with its items and reconciliation fields.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.renderReceipt(w, r, chi.URLParam(r, "receiptId"), http.StatusOK)
}

// Reconcile triggers an explicit orchestrator run.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	receiptID := chi.URLParam(r, "receiptId")
	res, err := h.Svc.Reconcile(r.Context(), receiptID)
	if err != nil {
		if errors.Is(err, receipt.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "receipt not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "reconciliation failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"outcome":         string(res.Outcome),
		"itemsSum":        res.ItemsSum,
		"baseline":        res.Baseline,
		"baselineSource":  string(res.BaselineSource),
		"discrepancy":     res.Discrepancy,
		"needsAdjustment": res.NeedsAdjustment,
		"reason":          res.Reason,
	}})
}

// AddItem appends a user item and re-reconciles.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	receiptID := chi.URLParam(r, "receiptId")
	var payload itemPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}
	ctx := r.Context()
	var report Result
	err := h.inTx(ctx, func(st HandlerStore) error {
		if _, err := st.GetReceipt(ctx, receiptID); err != nil {
			return err
		}
		items, err := st.ListItems(ctx, receiptID)
		if err != nil {
			return err
		}
		li := receipt.LineItem{
			ID:          uuid.NewString(),
			ReceiptID:   receiptID,
			Description: strings.TrimSpace(payload.Description),
			Quantity:    payload.Quantity,
			UnitPrice:   payload.UnitPrice,
			LineTax:     payload.LineTax,
			Kind:        receipt.ItemKindUser,
			Position:    len(items),
		}
		li.RecomputeDerived()
		if err := st.InsertItem(ctx, &li); err != nil {
			return err
		}
		report, err = h.Svc.reconcile(ctx, st, receiptID)
		return err
	})
	if err != nil {
		h.renderStoreError(w, err)
		return
	}
	h.Svc.emitReconciled(ctx, receiptID, report)
	h.renderReceipt(w, r, receiptID, http.StatusCreated)
}

// UpdateItem rewrites a user item and re-reconciles. Engine-managed lines
// are read-only.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	receiptID := chi.URLParam(r, "receiptId")
	itemID := chi.URLParam(r, "itemId")
	var payload itemPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}
	ctx := r.Context()
	var report Result
	err := h.inTx(ctx, func(st HandlerStore) error {
		li, err := st.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if li.ReceiptID != receiptID {
			return receipt.ErrNotFound
		}
		if li.SystemGenerated() {
			return errSystemManaged
		}
		li.Description = strings.TrimSpace(payload.Description)
		li.Quantity = payload.Quantity
		li.UnitPrice = payload.UnitPrice
		li.LineTax = payload.LineTax
		li.RecomputeDerived()
		if err := st.UpdateItem(ctx, li); err != nil {
			return err
		}
		report, err = h.Svc.reconcile(ctx, st, receiptID)
		return err
	})
	if err != nil {
		h.renderStoreError(w, err)
		return
	}
	h.Svc.emitReconciled(ctx, receiptID, report)
	h.renderReceipt(w, r, receiptID, http.StatusOK)
}

// DeleteItem removes a user item and re-reconciles. Engine-managed lines
// are removed by the orchestrator, never by hand.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	receiptID := chi.URLParam(r, "receiptId")
	itemID := chi.URLParam(r, "itemId")
	ctx := r.Context()
	var report Result
	err := h.inTx(ctx, func(st HandlerStore) error {
		li, err := st.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if li.ReceiptID != receiptID {
			return receipt.ErrNotFound
		}
		if li.SystemGenerated() {
			return errSystemManaged
		}
		if err := st.DeleteItem(ctx, itemID); err != nil {
			return err
		}
		report, err = h.Svc.reconcile(ctx, st, receiptID)
		return err
	})
	if err != nil {
		h.renderStoreError(w, err)
		return
	}
	h.Svc.emitReconciled(ctx, receiptID, report)
	h.renderReceipt(w, r, receiptID, http.StatusOK)
}

func (h *Handler) renderReceipt(w http.ResponseWriter, r *http.Request, receiptID string, status int) {
	ctx := r.Context()
	rec, err := h.Store.GetReceipt(ctx, receiptID)
	if err != nil {
		h.renderStoreError(w, err)
		return
	}
	items, err := h.Store.ListItems(ctx, receiptID)
	if err != nil {
		h.renderStoreError(w, err)
		return
	}
	view := receiptView{
		ID:              rec.ID,
		Merchant:        rec.Merchant,
		Currency:        rec.Currency,
		Subtotal:        rec.Printed.Subtotal,
		Tax:             rec.Printed.Tax,
		Tip:             rec.Printed.Tip,
		Total:           rec.Printed.Total,
		HeaderSubtotal:  rec.HeaderSubtotal,
		HeaderTax:       rec.HeaderTax,
		HeaderTotal:     rec.HeaderTotal,
		ItemsSum:        rec.ItemsSum,
		Baseline:        rec.Baseline,
		BaselineSource:  rec.BaselineSource,
		Discrepancy:     rec.Discrepancy,
		ReconcileReason: rec.ReconcileReason,
		Status:          string(rec.Status),
		NeedsReview:     rec.NeedsReview,
		Items:           make([]itemView, len(items)),
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	for i, li := range items {
		view.Items[i] = itemView{
			ID:           li.ID,
			Description:  li.Description,
			Quantity:     li.Quantity,
			UnitPrice:    li.UnitPrice,
			LineSubtotal: li.LineSubtotal,
			LineTax:      li.LineTax,
			LineTotal:    li.LineTotal,
			Kind:         string(li.Kind),
			Position:     li.Position,
		}
	}
	common.JSON(w, status, map[string]any{"data": view})
}

func (h *Handler) renderStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, receipt.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	case errors.Is(err, errSystemManaged):
		common.JSONError(w, http.StatusUnprocessableEntity, "SYSTEM_GENERATED", "system-generated lines cannot be edited", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "storage error", nil)
	}
}

func (h *Handler) validate(payload any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(payload)
}
