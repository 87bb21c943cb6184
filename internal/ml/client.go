// Package ml forwards prediction requests to the external inference
// worker: a multipart form upload of the frame plus routing fields, and a
// small JSON reply.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"
)

// Request is one prediction_request op forwarded from a robot connection.
type Request struct {
	TeamName   string
	ModelIndex int
	ModelsDir  string
	Frame      []byte // decoded JPEG
}

// Response is the worker's reply, eventually delivered back as a
// {op:"prediction", prediction:int} frame.
type Response struct {
	Prediction int `json:"prediction"`
}

// Client is a thin HTTP client for the worker's /predict endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{endpoint: endpoint, http: &http.Client{Timeout: 10 * time.Second}}
}

// Predict uploads the frame as multipart form data and decodes the
// worker's JSON reply. On any failure the caller logs and continues; the
// robot simply receives no reply for that request.
func (c *Client) Predict(ctx context.Context, req Request) (Response, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return Response{}, fmt.Errorf("building multipart request: %w", err)
	}
	if _, err := part.Write(req.Frame); err != nil {
		return Response{}, fmt.Errorf("writing frame into request: %w", err)
	}
	_ = w.WriteField("team_name", req.TeamName)
	_ = w.WriteField("model_index", fmt.Sprintf("%d", req.ModelIndex))
	_ = w.WriteField("models_dir", req.ModelsDir)
	if err := w.Close(); err != nil {
		return Response{}, fmt.Errorf("closing multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/predict", &body)
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("ml worker request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("ml worker returned status %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decoding ml worker response: %w", err)
	}
	return out, nil
}
