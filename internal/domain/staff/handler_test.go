package staff

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *mockRepo, *echo.Echo) {
	repo := newMockRepo()
	return NewHandler(NewService(repo), "clinic-1"), repo, echo.New()
}

func postJSON(e *echo.Echo, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestCreateAssignment_DefaultsActive(t *testing.T) {
	h, _, e := newTestHandler()

	c, rec := postJSON(e, "/staff", `{"full_name":"Dr. Rao","job_title":"Veterinarian"}`)
	if err := h.CreateAssignment(c); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var got Assignment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !got.Active {
		t.Error("assignment without an active flag should default to active")
	}
	if got.EntityID != "clinic-1" {
		t.Errorf("expected default entity, got %q", got.EntityID)
	}
	if got.SlotDurationMinutes != DefaultSlotDuration {
		t.Errorf("expected default slot duration, got %d", got.SlotDurationMinutes)
	}
}

func TestCreateAssignment_ExplicitInactive(t *testing.T) {
	h, repo, e := newTestHandler()

	c, rec := postJSON(e, "/staff", `{"full_name":"Dr. Rao","active":false}`)
	if err := h.CreateAssignment(c); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var got Assignment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.Active {
		t.Error("active:false must create an inactive assignment")
	}
	if stored := repo.assignments[got.ID]; stored == nil || stored.Active {
		t.Error("stored assignment should be inactive")
	}
}

func TestCreateAssignment_MissingName(t *testing.T) {
	h, _, e := newTestHandler()

	c, _ := postJSON(e, "/staff", `{"job_title":"Veterinarian"}`)
	err := h.CreateAssignment(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
