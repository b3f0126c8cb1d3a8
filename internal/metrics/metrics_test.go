package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCall(t *testing.T) {
	before := testutil.ToFloat64(ProviderCalls.WithLabelValues("dream", "generate", StatusFailure))
	ObserveCall("dream", "generate", errors.New("boom"), 0, 0)
	if got := testutil.ToFloat64(ProviderCalls.WithLabelValues("dream", "generate", StatusFailure)); got != before+1 {
		t.Fatalf("expected failure counter %v, got %v", before+1, got)
	}

	images := testutil.ToFloat64(ImagesProduced.WithLabelValues("nano", "generate"))
	credits := testutil.ToFloat64(CreditsCharged.WithLabelValues("nano", "generate"))
	ObserveCall("nano", "generate", nil, 3, 15)
	if got := testutil.ToFloat64(ImagesProduced.WithLabelValues("nano", "generate")); got != images+3 {
		t.Fatalf("expected %v images, got %v", images+3, got)
	}
	if got := testutil.ToFloat64(CreditsCharged.WithLabelValues("nano", "generate")); got != credits+15 {
		t.Fatalf("expected %v credits, got %v", credits+15, got)
	}
}

func TestHandlerServesRegisteredCollectors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Register()
	Register()

	Fallbacks.WithLabelValues("dream", "nano", "upscale").Inc()

	r := gin.New()
	r.GET("/metrics", Handler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "imagegate_fallbacks_total") {
		t.Fatal("expected fallback counter in exposition output")
	}
}
