// Package resolver obtains video metadata by racing every provider in
// the current directory snapshot and accepting the first well-formed
// success. Losing requests are cancelled as soon as a winner lands.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrProviderExhausted means every candidate provider failed to produce
// a valid response for the video.
var ErrProviderExhausted = errors.New("no provider could resolve the video")

// Metadata is the provider response contract for one video.
type Metadata struct {
	Title            string `json:"title"`
	IsFamilyFriendly bool   `json:"isFamilyFriendly"`
}

type Resolver struct {
	directory *Directory
	client    *http.Client
	timeout   time.Duration
	logger    *slog.Logger
}

func NewResolver(directory *Directory, client *http.Client, timeout time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		client:    client,
		timeout:   timeout,
		logger:    logger,
	}
}

type raceResult struct {
	metadata *Metadata
	provider string
}

// Resolve races one request per provider in the directory snapshot taken
// at call start. Errors, timeouts, non-200 statuses and malformed bodies
// are skipped; only exhausting the whole candidate set yields
// ErrProviderExhausted. There is no per-request retry.
func (r *Resolver) Resolve(ctx context.Context, videoId string) (Metadata, error) {
	providers := r.directory.Providers()
	if len(providers) == 0 {
		return Metadata{}, ErrProviderExhausted
	}

	raceCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	results := make(chan raceResult, len(providers))
	for _, p := range providers {
		go func(p Provider) {
			results <- raceResult{metadata: r.fetch(raceCtx, p, videoId), provider: p.Name}
		}(p)
	}

	for range providers {
		select {
		case res := <-results:
			if res.metadata == nil {
				continue
			}
			r.logger.InfoContext(ctx, "video resolved", "video_id", videoId, "provider", res.provider)
			return *res.metadata, nil
		case <-ctx.Done():
			return Metadata{}, ctx.Err()
		}
	}

	return Metadata{}, ErrProviderExhausted
}

// fetch returns nil on any failure; an individual provider failing is an
// ordinary event on the way to exhaustion, not an error.
func (r *Resolver) fetch(ctx context.Context, p Provider, videoId string) *Metadata {
	endpoint := fmt.Sprintf("%s/api/v1/videos/%s?fields=title,isFamilyFriendly",
		strings.TrimSuffix(p.Uri, "/"), url.PathEscape(videoId))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var metadata Metadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil
	}

	return &metadata
}
