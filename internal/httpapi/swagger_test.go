//go:build swagger

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMountSwaggerServesDoc(t *testing.T) {
	r := chi.NewRouter()
	MountSwagger(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "/runsync") {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
}
