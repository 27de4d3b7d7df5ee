// Package generation talks to the Stability AI image-to-video API and
// tracks jobs until their video is ready.
package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultAPIHost        = "https://api.stability.ai"
	DefaultCFGScale       = 2.5
	DefaultMotionBucketID = 100

	submitPath = "/v2beta/image-to-video"
	resultPath = "/v2beta/image-to-video/result/"

	// maxErrorBody bounds how much of a failed response is kept.
	maxErrorBody = 4 << 10
)

var (
	ErrJobNotFound  = errors.New("generation job not found")
	ErrMissingJobID = errors.New("generation response has no job id")
)

// UpstreamError is a non-2xx reply from the generation API.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if msg := upstreamMessage(e.Body); msg != "" {
		return fmt.Sprintf("generation api returned %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("generation api returned %d", e.StatusCode)
}

type Status string

const (
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
)

type Result struct {
	Status Status
	Video  []byte
}

type Options struct {
	APIKey         string
	APIHost        string
	Seed           int
	CFGScale       float64
	MotionBucketID int
	HTTPClient     *http.Client
}

type Client struct {
	apiKey         string
	host           string
	seed           int
	cfgScale       float64
	motionBucketID int
	http           *http.Client
}

func NewClient(opts Options) *Client {
	host := strings.TrimRight(opts.APIHost, "/")
	if host == "" {
		host = DefaultAPIHost
	}
	cfgScale := opts.CFGScale
	if cfgScale == 0 {
		cfgScale = DefaultCFGScale
	}
	motion := opts.MotionBucketID
	if motion == 0 {
		motion = DefaultMotionBucketID
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		apiKey:         opts.APIKey,
		host:           host,
		seed:           opts.Seed,
		cfgScale:       cfgScale,
		motionBucketID: motion,
		http:           httpClient,
	}
}

// Submit starts a job for a prepared JPEG and returns its ID. The job is
// not finished when Submit returns.
func (c *Client) Submit(ctx context.Context, image io.Reader, filename string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("creating image part: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return "", fmt.Errorf("writing image part: %w", err)
	}

	fields := map[string]string{
		"seed":             strconv.Itoa(c.seed),
		"cfg_scale":        strconv.FormatFloat(c.cfgScale, 'f', -1, 64),
		"motion_bucket_id": strconv.Itoa(c.motionBucketID),
	}
	for _, name := range []string{"seed", "cfg_scale", "motion_bucket_id"} {
		if err := writer.WriteField(name, fields[name]); err != nil {
			return "", fmt.Errorf("writing %s field: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+submitPath, body)
	if err != nil {
		return "", fmt.Errorf("creating submit request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", readUpstreamError(resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", fmt.Errorf("reading submit response: %w", err)
	}
	id := gjson.GetBytes(raw, "id").String()
	if id == "" {
		return "", ErrMissingJobID
	}

	slog.Info("generation job submitted", "component", "generation", "video_id", id)
	return id, nil
}

// Result fetches the state of a job, including the video once it is done.
func (c *Client) Result(ctx context.Context, id string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+resultPath+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("creating result request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "video/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching result: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return &Result{Status: StatusProcessing}, nil
	case http.StatusOK:
		video, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading video: %w", err)
		}
		return &Result{Status: StatusSucceeded, Video: video}, nil
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, ErrJobNotFound
	default:
		return nil, readUpstreamError(resp)
	}
}

func readUpstreamError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
}

// upstreamMessage pulls a readable message out of the API's JSON error body.
func upstreamMessage(body string) string {
	if !gjson.Valid(body) {
		return ""
	}
	if errs := gjson.Get(body, "errors"); errs.IsArray() {
		parts := make([]string, 0, len(errs.Array()))
		for _, e := range errs.Array() {
			parts = append(parts, e.String())
		}
		return strings.Join(parts, "; ")
	}
	for _, path := range []string{"message", "error", "name"} {
		if v := gjson.Get(body, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
