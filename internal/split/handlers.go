package split

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/patungan-id/backend-patungan/internal/common"
	"github.com/patungan-id/backend-patungan/internal/paylink"
	"github.com/patungan-id/backend-patungan/internal/receipt"
)

// SessionCreator is the extra persistence hook the HTTP surface needs on
// top of the service store.
type SessionCreator interface {
	CreateSession(ctx context.Context, sess *Session, participants []Participant) error
}

// Handler exposes split sessions: roster creation, claim edits, live
// previews, the one-shot finalize and the public share page.
type Handler struct {
	Svc      *Service
	Sessions SessionCreator
	Validate *validator.Validate
}

type participantPayload struct {
	DisplayName string `json:"displayName" validate:"required,max=128"`
}

type createSessionPayload struct {
	Participants []participantPayload `json:"participants" validate:"required,min=1,dive"`
}

type claimPayload struct {
	ItemID        string  `json:"itemId" validate:"required,uuid"`
	ParticipantID string  `json:"participantId" validate:"required,uuid"`
	Quantity      float64 `json:"quantity" validate:"required,gt=0"`
}

type updateClaimsPayload struct {
	Claims []claimPayload `json:"claims" validate:"dive"`
}

type allocationView struct {
	ParticipantID string  `json:"participantId"`
	DisplayName   string  `json:"displayName"`
	ItemsSubtotal float64 `json:"itemsSubtotal"`
	Discount      float64 `json:"discount"`
	Tax           float64 `json:"tax"`
	Tip           float64 `json:"tip"`
	Total         float64 `json:"total"`
}

type unclaimedView struct {
	ItemID      string  `json:"itemId"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
}

type previewView struct {
	Subtotal          float64          `json:"subtotal"`
	Tax               float64          `json:"tax"`
	Tip               float64          `json:"tip"`
	Total             float64          `json:"total"`
	Allocations       []allocationView `json:"allocations"`
	Unclaimed         []unclaimedView  `json:"unclaimed"`
	RoundingRemainder float64          `json:"roundingRemainder"`
}

// CreateSession opens a split over a receipt with its participant roster.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	receiptID := chi.URLParam(r, "receiptId")
	var payload createSessionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}
	sess := Session{ID: uuid.NewString(), ReceiptID: receiptID}
	participants := make([]Participant, len(payload.Participants))
	for i, p := range payload.Participants {
		participants[i] = Participant{
			ID:          uuid.NewString(),
			DisplayName: strings.TrimSpace(p.DisplayName),
		}
	}
	if err := h.Sessions.CreateSession(r.Context(), &sess, participants); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create split session", nil)
		return
	}
	views := make([]map[string]any, len(participants))
	for i, p := range participants {
		views[i] = map[string]any{
			"id":          p.ID,
			"displayName": p.DisplayName,
			"position":    p.Position,
		}
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{
		"id":           sess.ID,
		"receiptId":    sess.ReceiptID,
		"participants": views,
		"createdAt":    sess.CreatedAt,
	}})
}

// UpdateClaims replaces the session's claim set.
func (h *Handler) UpdateClaims(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "splitId")
	var payload updateClaimsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}
	claims := make([]Claim, len(payload.Claims))
	for i, c := range payload.Claims {
		claims[i] = Claim{ItemID: c.ItemID, ParticipantID: c.ParticipantID, Quantity: c.Quantity}
	}
	if err := h.Svc.UpdateClaims(r.Context(), sessionID, claims); err != nil {
		h.renderError(w, err)
		return
	}
	pv, err := h.Svc.Preview(r.Context(), sessionID)
	if err != nil {
		h.renderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": previewViewOf(pv)})
}

// Preview returns the live allocation without mutating anything.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	pv, err := h.Svc.Preview(r.Context(), chi.URLParam(r, "splitId"))
	if err != nil {
		h.renderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": previewViewOf(pv)})
}

// Finalize freezes the allocation and returns the share code plus payment
// links. Safe to call repeatedly.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	res, err := h.Svc.Finalize(r.Context(), chi.URLParam(r, "splitId"))
	if err != nil {
		h.renderError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	common.JSON(w, status, map[string]any{"data": map[string]any{
		"sessionId":   res.SessionID,
		"shareCode":   res.ShareCode,
		"allocations": allocationViewsOf(res.Allocations),
		"links":       linksOrEmpty(res.Links),
		"replayed":    res.Replayed,
	}})
}

// Shared renders the public snapshot behind a share code.
func (h *Handler) Shared(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	sess, rows, err := h.Svc.Shared(r.Context(), code)
	if err != nil {
		h.renderError(w, err)
		return
	}
	allocs := make([]allocationView, len(rows))
	for i, row := range rows {
		allocs[i] = allocationView{
			ParticipantID: row.ParticipantID,
			DisplayName:   row.DisplayName,
			ItemsSubtotal: row.ItemsSubtotal,
			Discount:      row.Discount,
			Tax:           row.Tax,
			Tip:           row.Tip,
			Total:         row.Total,
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"shareCode":   sess.ShareCode,
		"finalizedAt": sess.FinalizedAt,
		"allocations": allocs,
	}})
}

func (h *Handler) renderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, receipt.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	case errors.Is(err, ErrInvalidClaimQuantity),
		errors.Is(err, ErrUnknownItem),
		errors.Is(err, ErrUnknownParticipant),
		errors.Is(err, ErrOverClaimed):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_CLAIMS", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "split operation failed", nil)
	}
}

func (h *Handler) validate(payload any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(payload)
}

func previewViewOf(pv Preview) previewView {
	out := previewView{
		Subtotal:          pv.Subtotal,
		Tax:               pv.Tax,
		Tip:               pv.Tip,
		Total:             pv.Total,
		Allocations:       allocationViewsOf(pv.Allocations),
		Unclaimed:         make([]unclaimedView, len(pv.Unclaimed)),
		RoundingRemainder: pv.RoundingRemainder,
	}
	for i, u := range pv.Unclaimed {
		out.Unclaimed[i] = unclaimedView{ItemID: u.ItemID, Description: u.Description, Quantity: u.Quantity}
	}
	return out
}

func allocationViewsOf(allocs []Allocation) []allocationView {
	out := make([]allocationView, len(allocs))
	for i, a := range allocs {
		out[i] = allocationView{
			ParticipantID: a.ParticipantID,
			DisplayName:   a.DisplayName,
			ItemsSubtotal: a.ItemsSubtotal,
			Discount:      a.Discount,
			Tax:           a.Tax,
			Tip:           a.Tip,
			Total:         a.Total,
		}
	}
	return out
}

func linksOrEmpty(links []paylink.Link) []paylink.Link {
	if links == nil {
		return []paylink.Link{}
	}
	return links
}
