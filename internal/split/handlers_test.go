package split

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/patungan-id/backend-patungan/internal/paylink"
	"github.com/patungan-id/backend-patungan/internal/receipt"
)

func (s *stubStore) CreateSession(_ context.Context, sess *Session, participants []Participant) error {
	sess.CreatedAt = time.Now()
	for i := range participants {
		participants[i].SessionID = sess.ID
		participants[i].Position = i
	}
	s.session = *sess
	s.participants = participants
	return nil
}

type previewResponse struct {
	Data previewView `json:"data"`
}

type splitErrorResponse struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func newSplitHandler(store *stubStore) (*Handler, *Service) {
	svc := &Service{
		Store: store,
		Links: paylink.TemplateBuilder{BaseURL: "https://pay.example.com"},
	}
	return &Handler{Svc: svc, Sessions: store, Validate: validator.New()}, svc
}

func withSplitParams(r *http.Request, pairs ...string) *http.Request {
	routeCtx := chi.NewRouteContext()
	for i := 0; i+1 < len(pairs); i += 2 {
		routeCtx.URLParams.Add(pairs[i], pairs[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, routeCtx))
}

// uuidFixture keeps claim payloads past the uuid format validation.
func uuidFixture() (*stubStore, string, string) {
	itemID := "11111111-1111-4111-8111-111111111111"
	anaID := "22222222-2222-4222-8222-222222222222"
	store := newFixture()
	store.items = []receipt.LineItem{lineItem(itemID, 3, 4.00)}
	store.participants = []Participant{{ID: anaID, SessionID: "s1", DisplayName: "Ana", Position: 0}}
	store.claims = nil
	return store, itemID, anaID
}

func TestCreateSessionHandler(t *testing.T) {
	store := &stubStore{}
	handler, _ := newSplitHandler(store)

	body := `{"participants":[{"displayName":"Ana"},{"displayName":"Budi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/receipts/r1/splits", strings.NewReader(body))
	req = withSplitParams(req, "receiptId", "r1")
	rec := httptest.NewRecorder()
	handler.CreateSession(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Equal(t, "r1", store.session.ReceiptID)
	require.Len(t, store.participants, 2)
	require.Equal(t, "Ana", store.participants[0].DisplayName)
	require.Equal(t, 1, store.participants[1].Position)
}

func TestCreateSessionHandlerRequiresParticipants(t *testing.T) {
	handler, _ := newSplitHandler(&stubStore{})
	req := httptest.NewRequest(http.MethodPost, "/v1/receipts/r1/splits", strings.NewReader(`{"participants":[]}`))
	req = withSplitParams(req, "receiptId", "r1")
	rec := httptest.NewRecorder()
	handler.CreateSession(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateClaimsHandlerRejectsOverClaim(t *testing.T) {
	store, itemID, anaID := uuidFixture()
	handler, _ := newSplitHandler(store)

	body := fmt.Sprintf(`{"claims":[{"itemId":%q,"participantId":%q,"quantity":5}]}`, itemID, anaID)
	req := httptest.NewRequest(http.MethodPut, "/v1/splits/s1/claims", strings.NewReader(body))
	req = withSplitParams(req, "splitId", "s1")
	rec := httptest.NewRecorder()
	handler.UpdateClaims(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp splitErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "INVALID_CLAIMS", resp.Error.Code)
	require.Nil(t, store.replacedClaims, "over-claim must not replace the claim set")
}

func TestUpdateClaimsHandlerReturnsPreview(t *testing.T) {
	store, itemID, anaID := uuidFixture()
	handler, _ := newSplitHandler(store)

	body := fmt.Sprintf(`{"claims":[{"itemId":%q,"participantId":%q,"quantity":3}]}`, itemID, anaID)
	req := httptest.NewRequest(http.MethodPut, "/v1/splits/s1/claims", strings.NewReader(body))
	req = withSplitParams(req, "splitId", "s1")
	rec := httptest.NewRecorder()
	handler.UpdateClaims(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp previewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Allocations, 1)
	require.Equal(t, 15.00, resp.Data.Allocations[0].Total)
	require.Empty(t, resp.Data.Unclaimed)
}

func TestFinalizeHandlerThenShared(t *testing.T) {
	store := newFixture()
	handler, _ := newSplitHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/v1/splits/s1/finalize", nil)
	req = withSplitParams(req, "splitId", "s1")
	rec := httptest.NewRecorder()
	handler.Finalize(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var finalized struct {
		Data struct {
			ShareCode   string           `json:"shareCode"`
			Allocations []allocationView `json:"allocations"`
			Links       []paylink.Link   `json:"links"`
			Replayed    bool             `json:"replayed"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &finalized))
	require.NotEmpty(t, finalized.Data.ShareCode)
	require.False(t, finalized.Data.Replayed)
	require.Len(t, finalized.Data.Links, 2)

	// A repeat finalize replays the snapshot with a 200.
	replayReq := httptest.NewRequest(http.MethodPost, "/v1/splits/s1/finalize", nil)
	replayReq = withSplitParams(replayReq, "splitId", "s1")
	replayRec := httptest.NewRecorder()
	handler.Finalize(replayRec, replayReq)
	require.Equal(t, http.StatusOK, replayRec.Code)

	// The public page resolves the code case-insensitively.
	shareReq := httptest.NewRequest(http.MethodGet, "/v1/share/"+strings.ToLower(finalized.Data.ShareCode), nil)
	shareReq = withSplitParams(shareReq, "code", strings.ToLower(finalized.Data.ShareCode))
	shareRec := httptest.NewRecorder()
	handler.Shared(shareRec, shareReq)
	require.Equal(t, http.StatusOK, shareRec.Code)

	var shared struct {
		Data struct {
			ShareCode   string           `json:"shareCode"`
			Allocations []allocationView `json:"allocations"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(shareRec.Body.Bytes(), &shared))
	require.Equal(t, finalized.Data.ShareCode, shared.Data.ShareCode)
	require.Len(t, shared.Data.Allocations, 2)
	require.Equal(t, 10.00, shared.Data.Allocations[0].Total)
}

func TestSharedHandlerUnknownCode(t *testing.T) {
	handler, _ := newSplitHandler(newFixture())
	req := httptest.NewRequest(http.MethodGet, "/v1/share/NOPE2345", nil)
	req = withSplitParams(req, "code", "NOPE2345")
	rec := httptest.NewRecorder()
	handler.Shared(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewHandler(t *testing.T) {
	handler, _ := newSplitHandler(newFixture())
	req := httptest.NewRequest(http.MethodGet, "/v1/splits/s1/preview", nil)
	req = withSplitParams(req, "splitId", "s1")
	rec := httptest.NewRecorder()
	handler.Preview(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp previewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Allocations, 2)
	require.Equal(t, 10.00, resp.Data.Allocations[0].Total)
	require.Equal(t, 5.00, resp.Data.Allocations[1].Total)
	require.Equal(t, 15.00, resp.Data.Total)
}
