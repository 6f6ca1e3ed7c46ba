package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"examd/internal/capture"
)

// RemoteClassifier invokes the inference sidecar over HTTP. One instance
// serves both the face-geometry and object models; they live behind
// separate endpoints of the same sidecar.
type RemoteClassifier struct {
	baseURL  string
	client   *http.Client
	validate bool
}

// RemoteOptions configure a RemoteClassifier.
type RemoteOptions struct {
	// Endpoint is the sidecar base URL.
	Endpoint string

	// Timeout bounds a single classification call. A timed-out call is a
	// transient error; the caller skips the tick.
	Timeout time.Duration

	// ValidateResponses enables JSON Schema validation of responses.
	ValidateResponses bool
}

// NewRemote creates a classifier backed by the inference sidecar.
func NewRemote(opts RemoteOptions) *RemoteClassifier {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 700 * time.Millisecond
	}
	return &RemoteClassifier{
		baseURL:  opts.Endpoint,
		client:   &http.Client{Timeout: timeout},
		validate: opts.ValidateResponses,
	}
}

// classifyRequest is the wire format for a classification call.
type classifyRequest struct {
	Image  string `json:"image"` // base64 MJPEG frame
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// classifyResponse is the wire format for a classification result.
type classifyResponse struct {
	Detections []wireDetection `json:"detections"`
}

type wireDetection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// ClassifyFace returns one detection per face found in the frame.
func (c *RemoteClassifier) ClassifyFace(ctx context.Context, frame *capture.Frame) ([]Detection, error) {
	return c.classify(ctx, "/v1/faces", frame)
}

// ClassifyObjects returns detections for tracked object kinds.
func (c *RemoteClassifier) ClassifyObjects(ctx context.Context, frame *capture.Frame) ([]Detection, error) {
	return c.classify(ctx, "/v1/objects", frame)
}

func (c *RemoteClassifier) classify(ctx context.Context, path string, frame *capture.Frame) ([]Detection, error) {
	body, err := json.Marshal(classifyRequest{
		Image:  base64.StdEncoding.EncodeToString(frame.Data),
		Width:  frame.Width,
		Height: frame.Height,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classify %s: unexpected status %d", path, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if c.validate {
		if err := validateDetections(raw); err != nil {
			return nil, fmt.Errorf("classify %s: %w", path, err)
		}
	}

	var decoded classifyResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}

	detections := make([]Detection, 0, len(decoded.Detections))
	for _, d := range decoded.Detections {
		detections = append(detections, Detection{
			Label:      Label(d.Label),
			Confidence: d.Confidence,
			Box:        d.Box,
			ObservedAt: frame.CapturedAt,
		})
	}
	return detections, nil
}
