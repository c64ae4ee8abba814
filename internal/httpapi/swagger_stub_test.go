//go:build !swagger

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMountSwaggerDisabledByDefault(t *testing.T) {
	r := chi.NewRouter()
	MountSwagger(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("swagger should not be mounted without the build tag, got %d", rr.Code)
	}
}
