package metrics

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricFetch = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mhtml_fetch_duration_seconds",
			Help:    "Subresource and page fetches by result.",
			Buckets: []float64{0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20, 30},
		},
		[]string{
			"code",
			"result",
		},
	)
	metricFetchCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mhtml_fetch_cache_total",
			Help: "Fetch cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)
	metricParts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mhtml_parts_total",
			Help: "Parts encoded or decoded, by direction and transfer encoding.",
		},
		[]string{
			"direction",
			"encoding",
		},
	)
	metricCaptures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mhtml_captures_total",
			Help: "Batch captures by result.",
		},
		[]string{"result"},
	)
)

// FetchObserve tracks the result of a fetch and returns the result label.
func FetchObserve(statusCode int, err error, start time.Time) string {
	var result string
	switch {
	case err == nil:
		switch statusCode / 100 {
		case 2:
			result = "ok"
		case 4:
			result = "usererror"
		case 5:
			result = "servererror"
		default:
			result = "other"
		}
	case errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		result = "timeout"
	case errors.Is(err, context.Canceled):
		result = "canceled"
	default:
		result = "error"
	}
	metricFetch.WithLabelValues(strconv.Itoa(statusCode), result).Observe(float64(time.Since(start)) / float64(time.Second))
	return result
}

// FetchCache counts a cache lookup.
func FetchCache(result string) {
	metricFetchCache.WithLabelValues(result).Inc()
}

// Part counts a part passing through the encoder ("encode") or decoder
// ("decode").
func Part(direction, encoding string) {
	metricParts.WithLabelValues(direction, encoding).Inc()
}

// Capture counts a finished batch capture.
func Capture(result string) {
	metricCaptures.WithLabelValues(result).Inc()
}

// Handler serves the registered metrics in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
