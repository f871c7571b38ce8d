// Package remote talks to an external YOLO inference service over HTTP. The
// image is posted as multipart form data and the service answers with JSON
// detections in image pixels.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/keypoint-labeler/pkg/detection"
	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// DefaultTimeout bounds a single inference request
const DefaultTimeout = 2 * time.Minute

// Client is a detection.Provider backed by a remote model service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// prediction is one detection as the service reports it
type prediction struct {
	ClassID    int         `json:"class_id"`
	Box        []float64   `json:"box"`
	Confidence float64     `json:"confidence"`
	Keypoints  [][]float64 `json:"keypoints,omitempty"`
}

type predictResponse struct {
	Detections []prediction   `json:"detections"`
	Names      map[int]string `json:"names,omitempty"`
}

// NewClient creates a client for the service at serverURL. Predictions are
// posted to serverURL/predict.
func NewClient(serverURL string, logger *zap.SugaredLogger) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, types.InvalidInputf("inference service URL %q", serverURL)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(u.String(), "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
	}, nil
}

// Detect implements detection.Provider
func (c *Client) Detect(ctx context.Context, imagePath string, conf, iou float64) (*types.DetectionResult, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, types.ExternalFailure("read image", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	writer.WriteField("conf", strconv.FormatFloat(conf, 'f', -1, 64))
	writer.WriteField("iou", strconv.FormatFloat(iou, 'f', -1, 64))
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.ExternalFailure("inference request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.ExternalFailure("inference", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, types.ExternalFailure("decode response", err)
	}

	out, err := convert(result)
	if err != nil {
		return nil, types.ExternalFailure("inference response", err)
	}
	out.Detections = detection.FilterByConfidence(out.Detections, conf)
	c.logger.Debugw("remote inference", "image", imagePath, "detections", len(out.Detections), "took", time.Since(start))
	return out, nil
}

func convert(r predictResponse) (*types.DetectionResult, error) {
	out := &types.DetectionResult{
		Detections: make([]types.Detection, 0, len(r.Detections)),
		Names:      r.Names,
	}
	if out.Names == nil {
		out.Names = map[int]string{}
	}

	for i, p := range r.Detections {
		if len(p.Box) != 4 {
			return nil, fmt.Errorf("detection %d: box has %d values", i, len(p.Box))
		}
		d := types.Detection{
			ClassID:    p.ClassID,
			Box:        [4]float64{min(p.Box[0], p.Box[2]), min(p.Box[1], p.Box[3]), max(p.Box[0], p.Box[2]), max(p.Box[1], p.Box[3])},
			Confidence: p.Confidence,
		}
		for j, kp := range p.Keypoints {
			switch len(kp) {
			case 2:
				d.Keypoints = append(d.Keypoints, types.RawKeypoint{X: kp[0], Y: kp[1], Confidence: 1})
			case 3:
				d.Keypoints = append(d.Keypoints, types.RawKeypoint{X: kp[0], Y: kp[1], Confidence: kp[2]})
			default:
				return nil, fmt.Errorf("detection %d keypoint %d: %d values", i, j, len(kp))
			}
		}
		out.Detections = append(out.Detections, d)
	}
	return out, nil
}

// CheckHealth reports whether the service answers on /health
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.ExternalFailure("health check", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Unavailablef("ml service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
