// Package mailbox lists and fetches raw messages from the owner's mailbox
// within a bounded lookback window.
package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jobtrail/jobtrail/internal/config"
	"github.com/jobtrail/jobtrail/internal/syncerr"
)

// MessageRef identifies one message without its body.
type MessageRef struct {
	ID string
}

// RawMessage is a fetched message, untrusted external input.
type RawMessage struct {
	SourceID   string
	Subject    string
	From       string
	Body       string
	ReceivedAt time.Time
}

// Iter walks candidate references lazily. One Iter belongs to one run.
type Iter interface {
	Next(ctx context.Context) (MessageRef, bool, error)
}

// listKeywords is the provider-side coarse query; the pre-filter does the
// real gating after fetch.
var listKeywords = []string{"application", "interview", "position", "offer", "candidate", "rejected"}

const listPageSize = 100

type Reader struct {
	svc *gmail.Service

	maxLookbackDays int
	messageCap      int
	attempts        int
	backoffBase     time.Duration
	callTimeout     time.Duration
}

// NewReader wraps an authenticated HTTP client in a gmail service.
func NewReader(ctx context.Context, client *http.Client, cfg *config.Config) (*Reader, error) {
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Reader{
		svc:             svc,
		maxLookbackDays: cfg.LookbackMaxDays,
		messageCap:      cfg.MessageCap,
		attempts:        cfg.RetryAttempts,
		backoffBase:     cfg.RetryBackoffBase,
		callTimeout:     cfg.CallTimeout,
	}, nil
}

// Candidates returns a fresh iterator over the window. The window is clamped
// to the configured maximum and the iterator stops at the per-run cap.
func (r *Reader) Candidates(ctx context.Context, windowDays int) Iter {
	if windowDays <= 0 || windowDays > r.maxLookbackDays {
		windowDays = r.maxLookbackDays
	}
	query := fmt.Sprintf("(%s) newer_than:%dd", strings.Join(listKeywords, " OR "), windowDays)
	return &candidateIter{r: r, query: query}
}

type candidateIter struct {
	r     *Reader
	query string

	pageToken string
	buf       []MessageRef
	pos       int
	served    int
	exhausted bool
}

func (it *candidateIter) Next(ctx context.Context) (MessageRef, bool, error) {
	if it.served >= it.r.messageCap {
		return MessageRef{}, false, nil
	}
	if it.pos >= len(it.buf) {
		if it.exhausted {
			return MessageRef{}, false, nil
		}
		if err := it.fill(ctx); err != nil {
			return MessageRef{}, false, err
		}
		if it.pos >= len(it.buf) {
			return MessageRef{}, false, nil
		}
	}
	ref := it.buf[it.pos]
	it.pos++
	it.served++
	return ref, true, nil
}

func (it *candidateIter) fill(ctx context.Context) error {
	var resp *gmail.ListMessagesResponse
	err := it.r.withRetry(ctx, "list messages", func(callCtx context.Context) error {
		call := it.r.svc.Users.Messages.List("me").Q(it.query).MaxResults(listPageSize)
		if it.pageToken != "" {
			call = call.PageToken(it.pageToken)
		}
		var e error
		resp, e = call.Context(callCtx).Do()
		return e
	})
	if err != nil {
		return err
	}

	it.buf = it.buf[:0]
	it.pos = 0
	for _, m := range resp.Messages {
		it.buf = append(it.buf, MessageRef{ID: m.Id})
	}
	it.pageToken = resp.NextPageToken
	if it.pageToken == "" {
		it.exhausted = true
	}
	return nil
}

// Fetch retrieves the full message for one reference.
func (r *Reader) Fetch(ctx context.Context, ref MessageRef) (*RawMessage, error) {
	var msg *gmail.Message
	err := r.withRetry(ctx, "fetch message", func(callCtx context.Context) error {
		var e error
		msg, e = r.svc.Users.Messages.Get("me", ref.ID).Format("full").Context(callCtx).Do()
		return e
	})
	if err != nil {
		return nil, err
	}

	raw := &RawMessage{
		SourceID:   ref.ID,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				raw.Subject = h.Value
			case "From":
				raw.From = h.Value
			}
		}
		raw.Body = extractBody(msg.Payload)
	}
	return raw, nil
}

// extractBody prefers text/plain parts, then text/html, then the top-level
// body. Gmail encodes all of them as base64url.
func extractBody(payload *gmail.MessagePart) string {
	if payload.Body != nil && payload.Body.Data != "" {
		return decodePart(payload.Body.Data)
	}
	for _, part := range payload.Parts {
		if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
			return decodePart(part.Body.Data)
		}
	}
	for _, part := range payload.Parts {
		if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
			return decodePart(part.Body.Data)
		}
	}
	// Nested multipart (e.g. multipart/alternative inside multipart/mixed).
	for _, part := range payload.Parts {
		if len(part.Parts) > 0 {
			if body := extractBody(part); body != "" {
				return body
			}
		}
	}
	return ""
}

func decodePart(data string) string {
	d, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Some senders omit padding.
		d, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(d)
}

// withRetry runs f under a per-call timeout, retrying transient provider
// failures with exponential backoff. Auth failures return immediately.
func (r *Reader) withRetry(ctx context.Context, op string, f func(ctx context.Context) error) error {
	sleep := r.backoffBase
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		err := f(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		classified := Classify(op, err)
		if !syncerr.IsTransient(classified) {
			return classified
		}
		lastErr = classified

		if ctx.Err() != nil {
			return lastErr
		}
		time.Sleep(sleep)
		sleep *= 2
	}
	return lastErr
}

// Classify maps provider errors onto the pipeline taxonomy: 401/403 token
// rejections are run-fatal, rate limits and timeouts are retryable.
func Classify(op string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch {
		case gErr.Code == http.StatusUnauthorized:
			return &syncerr.AuthError{Reason: "mailbox token rejected", Err: err}
		case gErr.Code == http.StatusForbidden:
			if isRateLimited(gErr) {
				return &syncerr.TransientError{Op: op, Err: err}
			}
			return &syncerr.AuthError{Reason: "mailbox access forbidden", Err: err}
		case gErr.Code == http.StatusTooManyRequests || gErr.Code >= 500:
			return &syncerr.TransientError{Op: op, Err: err}
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &syncerr.TransientError{Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &syncerr.TransientError{Op: op, Err: err}
	}
	return err
}

func isRateLimited(gErr *googleapi.Error) bool {
	for _, item := range gErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}
