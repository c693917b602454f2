package responses

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/swiftfleet/dispatch-backend/pkg/errors"
	"github.com/swiftfleet/dispatch-backend/pkg/types"
)

func TestWriteSuccessWrapsDataEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"hello": "world"})

	if got := w.Code; got != http.StatusOK {
		t.Fatalf("expected status 200 but got %d", got)
	}
	var envelope types.SuccessEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	data, ok := envelope.Data.(map[string]any)
	if !ok || data["hello"] != "world" {
		t.Fatalf("unexpected payload: %v", envelope.Data)
	}
}

func TestWriteErrorMapsCodesToStatus(t *testing.T) {
	cases := []struct {
		code   pkgerrors.Code
		status int
	}{
		{pkgerrors.CodeValidation, http.StatusBadRequest},
		{pkgerrors.CodeNotFound, http.StatusNotFound},
		{pkgerrors.CodeConflict, http.StatusConflict},
		{pkgerrors.CodeStateConflict, http.StatusUnprocessableEntity},
		{pkgerrors.CodeInternal, http.StatusInternalServerError},
		{pkgerrors.CodeDependency, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		WriteError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), nil, w, pkgerrors.New(tc.code, "boom"))
		if w.Code != tc.status {
			t.Fatalf("code %s: expected status %d, got %d", tc.code, tc.status, w.Code)
		}
	}
}

func TestWriteErrorHidesInternalMessages(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.Wrap(pkgerrors.CodeInternal, errors.New("pq: secret column"), "pq: secret column")
	WriteError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), nil, w, err)

	var envelope types.ErrorEnvelope
	if decodeErr := json.Unmarshal(w.Body.Bytes(), &envelope); decodeErr != nil {
		t.Fatalf("decode body: %v", decodeErr)
	}
	if envelope.Error.Message == "pq: secret column" {
		t.Fatal("internal error detail must not leak to clients")
	}
}

func TestWriteErrorSurfacesValidationMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), nil, w, pkgerrors.New(pkgerrors.CodeValidation, "pickup latitude out of range"))

	var envelope types.ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if envelope.Error.Message != "pickup latitude out of range" {
		t.Fatalf("validation message must pass through, got %q", envelope.Error.Message)
	}
}
