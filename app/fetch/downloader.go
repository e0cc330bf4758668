package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPDownloader fetches media bytes over plain HTTP with retries on
// transient failures left to the scheduler, not performed inline.
type HTTPDownloader struct {
	client *resty.Client
}

func NewHTTPDownloader(userAgent string, timeout time.Duration) *HTTPDownloader {
	client := resty.New().
		SetHeader("User-Agent", userAgent).
		SetTimeout(timeout).
		SetRetryCount(0)

	return &HTTPDownloader{client: client}
}

func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	resp, err := d.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, &FetchError{URL: url, Transient: true, Err: err}
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusOK:
		return resp.Body(), nil
	case status == http.StatusTooManyRequests || status >= 500:
		return nil, &FetchError{URL: url, Transient: true, Err: fmt.Errorf("HTTP %d", status)}
	default:
		return nil, &FetchError{URL: url, Transient: false, Err: fmt.Errorf("HTTP %d", status)}
	}
}
