package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Check returns nil when the remote side is reachable.
type Check func(ctx context.Context) error

// HTTPCheck probes url with a HEAD request. Any response below 500 counts as
// reachable; transport errors and 5xx do not. A nil client uses http.DefaultClient.
func HTTPCheck(client *http.Client, url string) (Check, error) {
	if url == "" {
		return nil, ErrProbeURLEmpty
	}
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return errors.Join(ErrProbeFailed, err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return errors.Join(ErrProbeFailed, err)
		}
		_ = resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: status %d", ErrProbeFailed, resp.StatusCode)
		}
		return nil
	}, nil
}
