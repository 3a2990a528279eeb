package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/Brownie44l1/vision-api/internal/model"
	"github.com/Brownie44l1/vision-api/internal/telemetry"
)

// fileField is the multipart field carrying the upload.
const fileField = "file"

// Predictor is the classification service behind the handlers.
type Predictor interface {
	Run(ctx context.Context, in model.Input) (*model.PredictionResult, error)
	Health() model.Health
}

// MetricsSource exposes cumulative prediction counters.
type MetricsSource interface {
	Snapshot() telemetry.Metrics
}

type Handler struct {
	predictor Predictor
	metrics   MetricsSource
	maxUpload int64
}

func NewHandler(predictor Predictor, metrics MetricsSource, maxUpload int64) *Handler {
	return &Handler{
		predictor: predictor,
		metrics:   metrics,
		maxUpload: maxUpload,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, h.predictor.Health())
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

// Predict accepts either a multipart form with a "file" field or a raw
// image body.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	in, status, err := h.readInput(r)
	if err != nil {
		log.Warn().Err(err).Int("status", status).Msg("rejected upload")
		writeError(w, status, err.Error())
		return
	}

	result, err := h.predictor.Run(r.Context(), in)
	if err != nil {
		status := statusFor(err)
		log.Error().Err(err).Int("status", status).Msg("prediction error")
		writeError(w, status, detailFor(status))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) readInput(r *http.Request) (model.Input, int, error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return model.Input{}, bodyErrorStatus(err), errors.New("failed to read request body")
		}
		if len(data) == 0 {
			return model.Input{}, http.StatusBadRequest, errors.New("file is required")
		}
		return model.Input{ContentType: r.Header.Get("Content-Type"), Data: data}, 0, nil
	}

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return model.Input{}, bodyErrorStatus(err), errors.New("failed to parse form")
	}
	file, header, err := r.FormFile(fileField)
	if err != nil {
		return model.Input{}, http.StatusBadRequest, errors.New("file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return model.Input{}, http.StatusBadRequest, errors.New("failed to read file")
	}
	zerolog.Ctx(r.Context()).Debug().
		Str("filename", header.Filename).
		Int64("size", header.Size).
		Msg("received file")

	return model.Input{ContentType: header.Header.Get("Content-Type"), Data: data}, 0, nil
}

func bodyErrorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, model.ErrImageDecode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func detailFor(status int) string {
	switch status {
	case http.StatusUnsupportedMediaType:
		return "file must be an image"
	case http.StatusBadRequest:
		return "invalid image format. Supported: JPEG, PNG, GIF, BMP, TIFF, WebP"
	default:
		return "prediction failed"
	}
}

type errorJSON struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorJSON{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
