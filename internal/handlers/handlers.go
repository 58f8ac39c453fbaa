package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"github.com/Brownie44l1/imgclass/internal/model"
	"github.com/Brownie44l1/imgclass/internal/pipeline"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// maxUpload bounds multipart uploads and raw JSON bodies.
const maxUpload = 10 << 20

// Predictor is the subset of pipeline.PredictionEngine the handlers use.
type Predictor interface {
	Labels() []string
	Dim() int
	PredictFeatures(features []float32) (pipeline.Prediction, error)
	PredictImage(img image.Image) (pipeline.Prediction, error)
}

type Handler struct {
	predictor Predictor
	log       *zap.Logger
}

func NewHandler(predictor Predictor, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		predictor: predictor,
		log:       log,
	}
}

// Router wires the endpoints with CORS enabled.
func (h *Handler) Router() *httprouter.Router {
	r := httprouter.New()
	r.GET("/health", enableCORS(h.Health))
	r.POST("/predict", enableCORS(h.Predict))
	r.POST("/predict/image", enableCORS(h.PredictFromImage))
	r.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func enableCORS(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		setCORS(w)
		next(w, r, ps)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, map[string]any{"status": "healthy", "classes": h.predictor.Labels()})
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpload))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req model.PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if expected := h.predictor.Dim(); len(req.Features) != expected {
		http.Error(w, fmt.Sprintf("Expected %d values, got %d", expected, len(req.Features)),
			http.StatusBadRequest)
		return
	}

	result, err := h.predictor.PredictFeatures(req.Features)
	if err != nil {
		h.log.Error("prediction failed", zap.Error(err))
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.response(result))
}

func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	h.log.Debug("received file", zap.String("name", header.Filename), zap.Int64("size", header.Size))

	img, format, err := image.Decode(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG", http.StatusBadRequest)
		return
	}

	h.log.Debug("decoded image",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	result, err := h.predictor.PredictImage(img)
	if err != nil {
		h.log.Error("prediction failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, model.ErrShapeMismatch) {
			status = http.StatusBadRequest
		}
		http.Error(w, "Prediction failed", status)
		return
	}

	writeJSON(w, h.response(result))
}

func (h *Handler) response(p pipeline.Prediction) model.PredictionResponse {
	labels := h.predictor.Labels()
	resp := model.PredictionResponse{
		Class:       p.Label,
		Predictions: make(map[string]float32, len(p.Scores)),
	}
	for i, s := range p.Scores {
		if i < len(labels) {
			resp.Predictions[labels[i]] = s
		}
	}
	if int(p.Key) < len(p.Scores) {
		resp.Confidence = p.Scores[p.Key]
	}
	return resp
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
