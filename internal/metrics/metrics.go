package metrics

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// The collectors exist from package init so callers can record before
// (or without) Register, e.g. in tests.
var (
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegate_provider_calls_total",
			Help: "Total number of provider calls by provider, operation and outcome",
		}, []string{"provider", "operation", "status"})

	ImagesProduced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegate_images_produced_total",
			Help: "Total number of images stored per provider and operation",
		}, []string{"provider", "operation"})

	CreditsCharged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegate_credits_charged_total",
			Help: "Total number of credits charged for successful operations",
		}, []string{"provider", "operation"})

	Fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegate_fallbacks_total",
			Help: "Total number of operations rerouted to another provider",
		}, []string{"from", "to", "operation"})

	ScratchSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imagegate_scratch_files_swept_total",
			Help: "Total number of stale scratch files removed",
		})
)

var registerOnce sync.Once

// Register adds every collector to the default prometheus registry. Safe
// to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ProviderCalls)
		prometheus.MustRegister(ImagesProduced)
		prometheus.MustRegister(CreditsCharged)
		prometheus.MustRegister(Fallbacks)
		prometheus.MustRegister(ScratchSwept)
	})
}

// Handler exposes the default registry on a gin route.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ObserveCall records the outcome of one orchestrated provider call.
func ObserveCall(provider, operation string, err error, images, credits int) {
	if err != nil {
		ProviderCalls.WithLabelValues(provider, operation, StatusFailure).Inc()
		return
	}
	ProviderCalls.WithLabelValues(provider, operation, StatusSuccess).Inc()
	if images > 0 {
		ImagesProduced.WithLabelValues(provider, operation).Add(float64(images))
	}
	if credits > 0 {
		CreditsCharged.WithLabelValues(provider, operation).Add(float64(credits))
	}
}
