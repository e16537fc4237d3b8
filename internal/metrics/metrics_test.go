package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPathClass(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "health"},
		{"/video.MP4", "mp4"},
		{"/a/b/style.css", "css"},
		{"/dir.d/noext", "other"},
		{"/trailing.", "other"},
		{"/", "other"},
		{"/x.averyverylongextension", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, PathClass(tt.path))
		})
	}
}

func TestMiddleware_RecordsStatus(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "txt", "404"))

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing.txt", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "txt", "404"))
	assert.Equal(t, before+1, after)
}

func TestRecordResolution(t *testing.T) {
	before := testutil.ToFloat64(resolutionsTotal.WithLabelValues("partial_content"))
	RecordResolution("partial_content")
	assert.Equal(t, before+1, testutil.ToFloat64(resolutionsTotal.WithLabelValues("partial_content")))
}
