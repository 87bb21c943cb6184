package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPredictPostsMultipartAndDecodesResponse(t *testing.T) {
	var gotTeam, gotIndex, gotModelsDir string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Errorf("request path = %q, want /predict", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		gotTeam = r.FormValue("team_name")
		gotIndex = r.FormValue("model_index")
		gotModelsDir = r.FormValue("models_dir")

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer file.Close()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Response{Prediction: 3})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Predict(context.Background(), Request{
		TeamName: "alpha", ModelIndex: 2, ModelsDir: "/models", Frame: []byte{0xFF, 0xD8, 0xFF, 0xD9},
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if resp.Prediction != 3 {
		t.Errorf("Prediction = %d, want 3", resp.Prediction)
	}
	if gotTeam != "alpha" || gotIndex != "2" || gotModelsDir != "/models" {
		t.Errorf("form fields = (%q,%q,%q), want (alpha,2,/models)", gotTeam, gotIndex, gotModelsDir)
	}
}

func TestPredictNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Predict(context.Background(), Request{Frame: []byte{1}}); err == nil {
		t.Fatal("Predict() with a 500 response returned nil error")
	}
}
