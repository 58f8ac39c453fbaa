package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Brownie44l1/imgclass/internal/model"
	"github.com/Brownie44l1/imgclass/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brightness classifies by the red channel of the top left pixel.
type brightness struct {
	fail error
}

func (b *brightness) Labels() []string { return []string{"dark", "bright"} }
func (b *brightness) Dim() int         { return 2 }

func (b *brightness) PredictFeatures(f []float32) (pipeline.Prediction, error) {
	if b.fail != nil {
		return pipeline.Prediction{}, b.fail
	}
	if f[0] > f[1] {
		return pipeline.Prediction{Key: 0, Label: "dark", Scores: []float32{0.8, 0.2}}, nil
	}
	return pipeline.Prediction{Key: 1, Label: "bright", Scores: []float32{0.3, 0.7}}, nil
}

func (b *brightness) PredictImage(img image.Image) (pipeline.Prediction, error) {
	r, _, _, _ := img.At(0, 0).RGBA()
	v := float32(r) / 0xffff
	return b.PredictFeatures([]float32{1 - v, v})
}

func newServer(t *testing.T, p Predictor) *httptest.Server {
	srv := httptest.NewServer(NewHandler(p, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func imageUpload(t *testing.T, field string, c color.Color) (*bytes.Buffer, string) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "face.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(fw, img))
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func decode(t *testing.T, resp *http.Response) model.PredictionResponse {
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var out model.PredictionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	srv := newServer(t, &brightness{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, []any{"dark", "bright"}, body["classes"])
}

func TestPredict(t *testing.T) {
	srv := newServer(t, &brightness{})
	resp, err := http.Post(srv.URL+"/predict", "application/json", strings.NewReader(`{"features":[0.1,0.9]}`))
	require.NoError(t, err)
	out := decode(t, resp)
	assert.Equal(t, "bright", out.Class)
	assert.InDelta(t, 0.7, out.Confidence, 1e-6)
	assert.InDelta(t, 0.3, out.Predictions["dark"], 1e-6)
}

func TestPredict_BadRequests(t *testing.T) {
	srv := newServer(t, &brightness{})
	cases := map[string]string{
		"invalid json": `{"features":`,
		"wrong size":   `{"features":[1,2,3]}`,
	}
	for name, body := range cases {
		name, body := name, body
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/predict", "application/json", strings.NewReader(body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp, err := http.Get(srv.URL + "/predict")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPredict_Failure(t *testing.T) {
	srv := newServer(t, &brightness{fail: errors.New("boom")})
	resp, err := http.Post(srv.URL+"/predict", "application/json", strings.NewReader(`{"features":[1,0]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestPredictFromImage(t *testing.T) {
	srv := newServer(t, &brightness{})

	body, ct := imageUpload(t, "image", color.RGBA{R: 10, A: 255})
	resp, err := http.Post(srv.URL+"/predict/image", ct, body)
	require.NoError(t, err)
	assert.Equal(t, "dark", decode(t, resp).Class)

	body, ct = imageUpload(t, "image", color.RGBA{R: 250, A: 255})
	resp, err = http.Post(srv.URL+"/predict/image", ct, body)
	require.NoError(t, err)
	assert.Equal(t, "bright", decode(t, resp).Class)
}

func TestPredictFromImage_BadRequests(t *testing.T) {
	srv := newServer(t, &brightness{})

	body, ct := imageUpload(t, "photo", color.White)
	resp, err := http.Post(srv.URL+"/predict/image", ct, body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("not an image"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	resp, err = http.Post(srv.URL+"/predict/image", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/predict/image", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOptions(t *testing.T) {
	srv := newServer(t, &brightness{})
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/predict", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "POST, GET, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
}
