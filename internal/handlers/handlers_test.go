package handlers

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/vision-api/internal/imaging"
	"github.com/Brownie44l1/vision-api/internal/model"
	"github.com/Brownie44l1/vision-api/internal/telemetry"
)

const testMaxUpload = 1 << 20

func newTestRouter(t *testing.T, cfg RouterConfig) (http.Handler, *telemetry.Collector) {
	t.Helper()
	collector := telemetry.NewCollector(zerolog.Nop())
	ensemble, err := model.NewEnsemble(model.Options{
		Decoder:  imaging.NewDecoder(),
		Recorder: collector,
	})
	require.NoError(t, err)

	if cfg.CORS.AllowOrigins == nil {
		cfg.CORS = CORSPolicy{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:       86400,
		}
	}
	h := NewHandler(ensemble, collector, testMaxUpload)
	return NewRouter(h, cfg, zerolog.Nop()), collector
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 2, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="upload.bin"`)
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{})
	rec := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var h model.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.True(t, h.Loaded)
	assert.Equal(t, model.DefaultVersion, h.ModelVersion)
	assert.Equal(t, []string{"objects", "animals", "teams", "numbers"}, h.Tasks)
}

func TestPredictMultipart(t *testing.T) {
	router, collector := newTestRouter(t, RouterConfig{})
	data := pngBytes(t)
	body, ct := multipartBody(t, "file", "image/png", data)

	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", ct)
	rec := serve(router, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res model.PredictionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	sum := md5.Sum(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.RequestID)
	assert.Len(t, res.Detections, 2)
	assert.Len(t, res.TopK.Animals, 2)
	assert.Len(t, res.TopK.Teams, 2)
	assert.Equal(t, model.TaskTeam, res.Summary[0].Task)
	_, err := time.Parse(time.RFC3339Nano, res.Timestamp)
	assert.NoError(t, err)

	assert.Equal(t, telemetry.Metrics{Requests: 1}, collector.Snapshot())
}

func TestPredictRawBody(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{})
	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(pngBytes(t)))
	req.Header.Set("Content-Type", "image/png")
	rec := serve(router, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPredictErrors(t *testing.T) {
	tests := []struct {
		name    string
		request func(t *testing.T) *http.Request
		status  int
		counted bool
	}{
		{
			name: "non-image part",
			request: func(t *testing.T) *http.Request {
				body, ct := multipartBody(t, "file", "text/plain", []byte("hello"))
				req := httptest.NewRequest(http.MethodPost, "/predict", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			status:  http.StatusUnsupportedMediaType,
			counted: true,
		},
		{
			name: "corrupt image",
			request: func(t *testing.T) *http.Request {
				body, ct := multipartBody(t, "file", "image/png", []byte("not really a png"))
				req := httptest.NewRequest(http.MethodPost, "/predict", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			status:  http.StatusBadRequest,
			counted: true,
		},
		{
			name: "missing file field",
			request: func(t *testing.T) *http.Request {
				body, ct := multipartBody(t, "image", "image/png", pngBytes(t))
				req := httptest.NewRequest(http.MethodPost, "/predict", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			status: http.StatusBadRequest,
		},
		{
			name: "json body",
			request: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader([]byte(`{"image":[]}`)))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			status:  http.StatusUnsupportedMediaType,
			counted: true,
		},
		{
			name: "empty body",
			request: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/predict", nil)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "body too large",
			request: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(make([]byte, testMaxUpload+1)))
				req.Header.Set("Content-Type", "image/png")
				return req
			},
			status: http.StatusRequestEntityTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, collector := newTestRouter(t, RouterConfig{})
			rec := serve(router, tt.request(t))

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var e errorJSON
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			assert.NotEmpty(t, e.Detail)

			want := telemetry.Metrics{}
			if tt.counted {
				want.Errors = 1
			}
			assert.Equal(t, want, collector.Snapshot())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(pngBytes(t)))
	req.Header.Set("Content-Type", "image/png")
	serve(router, req)

	req = httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader([]byte("junk")))
	req.Header.Set("Content-Type", "image/png")
	serve(router, req)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"requests":1,"errors":1}`, rec.Body.String())
}

func TestPreflight(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{})
	for _, path := range []string{"/predict", "/some/future/route"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "https://front.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := serve(router, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET,POST,OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type,Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{CORS: CORSPolicy{
		AllowOrigins: []string{"https://front.example.com"},
		AllowMethods: []string{"GET", "POST"},
	}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://front.example.com")
	rec := serve(router, req)
	assert.Equal(t, "https://front.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = serve(router, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{RateRequests: 1, RateWindow: time.Minute})
	data := pngBytes(t)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(data))
		req.Header.Set("Content-Type", "image/png")
		codes = append(codes, serve(router, req).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCorrelationID(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, rec.Header().Get(correlationHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(correlationHeader, "trace-123")
	rec = serve(router, req)
	assert.Equal(t, "trace-123", rec.Header().Get(correlationHeader))
}

func TestUnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{})
	rec := serve(router, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
