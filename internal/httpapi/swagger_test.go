//go:build swagger

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/swaggo/swag"
)

func TestSwaggerDocRegistered(t *testing.T) {
	doc, err := swag.ReadDoc(SwaggerInfo.InstanceName())
	if err != nil {
		t.Fatalf("read doc: %v", err)
	}
	if !strings.Contains(doc, `"/generate"`) || !strings.Contains(doc, "wundot API") {
		t.Fatalf("unexpected doc: %.200s", doc)
	}
}

func TestMountSwaggerServesDoc(t *testing.T) {
	r := chi.NewRouter()
	MountSwagger(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "/streams/{id}/next") {
		t.Fatalf("status=%d body=%.200s", rr.Code, rr.Body.String())
	}
}
