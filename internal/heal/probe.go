package heal

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// NewProbe returns a ProbeFunc doing a cheap existence check: HEAD
// first, falling back to GET where HEAD is unsupported. 2xx and 3xx
// statuses verify the URL.
func NewProbe(timeout time.Duration) ProbeFunc {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return func(ctx context.Context, url string) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		status, err := probeOnce(ctx, client, http.MethodHead, url)
		if err == nil && headUnsupported(status) {
			status, err = probeOnce(ctx, client, http.MethodGet, url)
		}
		if err != nil {
			return fmt.Errorf("heal: probe %s: %w", url, err)
		}
		if status >= 200 && status < 400 {
			return nil
		}
		return fmt.Errorf("heal: probe %s: http %d", url, status)
	}
}

func probeOnce(ctx context.Context, client *http.Client, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "oddsgrid-probe/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func headUnsupported(status int) bool {
	return status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented
}
