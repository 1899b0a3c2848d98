package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Doer issues JSON requests to downstream consent services, retrying
// transport errors and 5xx responses. The review dispatcher is its
// main consumer; webhook endpoints flap often enough that retry
// belongs in the client rather than in every caller.
type Doer struct {
	Client     *http.Client
	Retries    int
	RetryDelay time.Duration
}

// Do performs one JSON request. It returns the final status code and
// body; a non-nil error means no usable response was obtained even
// after retries.
func (d Doer) Do(ctx context.Context, method, url string, body []byte, headers map[string]string) (int, []byte, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	retries := d.Retries
	if retries < 0 {
		retries = 0
	}
	var (
		status  int
		payload []byte
		lastErr error
	)
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(d.RetryDelay):
			}
		}
		status, payload, lastErr = d.send(ctx, client, method, url, body, headers)
		if lastErr != nil {
			continue
		}
		if status >= 500 && attempt < retries {
			continue
		}
		return status, payload, nil
	}
	if lastErr != nil {
		return 0, nil, lastErr
	}
	return status, payload, nil
}

func (d Doer) send(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}
