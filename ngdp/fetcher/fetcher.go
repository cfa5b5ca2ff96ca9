// Copyright 2022-2023 VMware, Inc.
//
// This product is licensed to you under the BSD-2 license (the "License").
// You may not use this product except in compliance with the BSD-2 License.
// This product may include a number of subcomponents with separate copyright
// notices and license terms. Your use of these subcomponents is subject to
// the terms and conditions of the subcomponent's license, as noted in the
// LICENSE file.
//
// SPDX-License-Identifier: BSD-2-Clause

package fetcher

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/hearthsim/keg/ngdp"
)

// Fetcher interface
type Fetcher interface {
	DownloadFile(ctx context.Context, urlPath string) ([]byte, error)
}

// DefaultFetcher implements Fetcher over plain HTTP GET. Transient
// failures (transport errors and 5xx statuses) are retried with
// bounded attempts and doubling backoff; 4xx statuses are permanent
// and surface immediately.
type DefaultFetcher struct {
	httpUserAgent string
	client        *http.Client
	retryAttempts int
	retryBackoff  time.Duration
}

// New returns a DefaultFetcher with the given request timeout and
// retry policy. attempts counts tries in total, so 1 disables
// retrying.
func New(timeout time.Duration, attempts int, backoff time.Duration) *DefaultFetcher {
	if attempts < 1 {
		attempts = 1
	}
	return &DefaultFetcher{
		client:        &http.Client{Timeout: timeout},
		retryAttempts: attempts,
		retryBackoff:  backoff,
	}
}

// DownloadFile downloads a file from urlPath, erroring out with
// ngdp.ErrServer on a non-success status.
func (d *DefaultFetcher) DownloadFile(ctx context.Context, urlPath string) ([]byte, error) {
	backoff := d.retryBackoff
	var lastErr error
	for attempt := 0; attempt < d.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			ngdp.GetLogger().Info("Retrying download", "url", urlPath, "attempt", attempt+1)
		}
		data, retryable, err := d.downloadOnce(ctx, urlPath)
		if err == nil {
			return data, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (d *DefaultFetcher) downloadOnce(ctx context.Context, urlPath string) (data []byte, retryable bool, err error) {
	client := d.client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlPath, nil)
	if err != nil {
		return nil, false, err
	}
	// Use in case of multiple sessions.
	if d.httpUserAgent != "" {
		req.Header.Set("User-Agent", d.httpUserAgent)
	}
	// Execute the request.
	res, err := client.Do(req)
	if err != nil {
		// transport-level failure, worth another try unless the
		// caller gave up
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer res.Body.Close()
	// Handle HTTP status codes.
	if res.StatusCode != http.StatusOK {
		serverErr := ngdp.ErrServer{StatusCode: res.StatusCode, URL: urlPath}
		return nil, res.StatusCode >= 500, serverErr
	}
	data, err = io.ReadAll(res.Body)
	if err != nil {
		return nil, true, err
	}
	return data, false, nil
}
