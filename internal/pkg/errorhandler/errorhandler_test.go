package errorhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mwork/credits-api/internal/pkg/response"
)

func TestInternalDoesNotLeakError(t *testing.T) {
	rec := httptest.NewRecorder()
	Internal(context.Background(), rec, "credit.deduct", errors.New("pq: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("response leaked internal error: %s", rec.Body.String())
	}

	var body response.Response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Success || body.Error == nil || body.Error.Code != response.CodeInternal {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestWrapOpKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := wrapOp("credit.purchase", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped error to unwrap to cause")
	}
	if err.Error() != "credit.purchase: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
