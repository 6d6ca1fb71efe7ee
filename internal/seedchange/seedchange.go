// Package seedchange implements the Seed Change Detector: deciding whether
// a seed whose prior run ended in seed_done needs to be re-crawled, per
// spec §4.5.
package seedchange

import (
	"context"
	"fmt"

	"github.com/minutesbot/crawler/internal/httpclient"
	"github.com/minutesbot/crawler/internal/model"
)

// Outcome is the result of evaluating a seed against its stored validator.
type Outcome int

// Outcomes of Check.
const (
	// Skip means the seed is unchanged; no crawl is needed.
	Skip Outcome = iota
	// Recrawl means the seed changed (or change could not be confirmed)
	// and a full crawl should proceed.
	Recrawl
)

// Hasher computes the hex content hash used as a body-based validator
// fallback.
type Hasher interface {
	Hash(data []byte) string
}

// Detector evaluates seed-index change using conditional GET, falling back
// to a body hash comparison when the server supplies no validators.
type Detector struct {
	client *httpclient.Client
	hasher Hasher
}

// New builds a Detector.
func New(client *httpclient.Client, hasher Hasher) *Detector {
	return &Detector{client: client, hasher: hasher}
}

// Result carries the outcome plus the response body when a re-crawl is
// warranted and the body was already fetched, so the caller need not
// re-fetch the seed URL.
type Result struct {
	Outcome   Outcome
	Body      []byte
	Validator model.Validator
}

// Check evaluates seedURL against prior, the validator stored from the
// seed's last completed run.
func (d *Detector) Check(ctx context.Context, seedURL string, prior model.Validator) (Result, error) {
	result, resp, err := d.client.ConditionalGet(ctx, seedURL, prior.ETag, prior.LastModified)
	if err != nil {
		return Result{}, fmt.Errorf("conditional get %s: %w", seedURL, err)
	}

	switch result {
	case httpclient.Unchanged:
		return Result{Outcome: Skip}, nil
	case httpclient.Missing:
		// The seed disappeared; treat as changed so the crawler attempts
		// a full fetch and records whatever error follows.
		return Result{Outcome: Recrawl}, nil
	}

	// result == Changed. The server answered with a full body; decide
	// skip-vs-recrawl by comparing hashes when no validators moved.
	hash := d.hasher.Hash(resp.Body)
	validator := model.Validator{ETag: resp.ETag, LastModified: resp.LastMod, ContentSHA256: hash}

	if !validatorsChanged(prior, resp) && prior.ContentSHA256 != "" && prior.ContentSHA256 == hash {
		return Result{Outcome: Skip, Body: resp.Body, Validator: validator}, nil
	}

	return Result{Outcome: Recrawl, Body: resp.Body, Validator: validator}, nil
}

// validatorsChanged reports whether the response's own ETag/Last-Modified
// differ from the stored ones, when both sides carry them.
func validatorsChanged(prior model.Validator, resp *httpclient.Response) bool {
	if prior.ETag != "" && resp.ETag != "" {
		return prior.ETag != resp.ETag
	}
	if prior.LastModified != "" && resp.LastMod != "" {
		return prior.LastModified != resp.LastMod
	}
	return false
}
