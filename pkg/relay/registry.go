// Copyright 2024-2026 Aiku AI

package relay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a pending post is unknown, already
	// resolved or expired.
	ErrNotFound = errors.New("pending post not found")
	// ErrInvalidChoice is returned for a candidate index out of range.
	ErrInvalidChoice = errors.New("invalid caption choice")
)

const (
	DefaultPendingTTL      = time.Hour
	DefaultPendingCapacity = 256
)

// ChoiceKind is the kind of operator decision on a pending post.
type ChoiceKind int

const (
	ChoiceCandidate ChoiceKind = iota
	ChoiceManual
	ChoiceCancel
)

// Choice is an operator decision: a candidate (by index, optionally with a
// locale), the fallback caption, or cancellation.
type Choice struct {
	Kind   ChoiceKind
	Index  int
	Locale string
}

// ParseChoice parses "manual", "cancel", "<index>" or "<index>:<locale>".
func ParseChoice(s string) (Choice, error) {
	switch s {
	case "manual":
		return Choice{Kind: ChoiceManual}, nil
	case "cancel":
		return Choice{Kind: ChoiceCancel}, nil
	}
	idx, locale, _ := strings.Cut(s, ":")
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return Choice{}, fmt.Errorf("%w: %q", ErrInvalidChoice, s)
	}
	return Choice{Kind: ChoiceCandidate, Index: n, Locale: locale}, nil
}

func (c Choice) String() string {
	switch c.Kind {
	case ChoiceManual:
		return "manual"
	case ChoiceCancel:
		return "cancel"
	}
	if c.Locale != "" {
		return strconv.Itoa(c.Index) + ":" + c.Locale
	}
	return strconv.Itoa(c.Index)
}

// Resolution is the result of a successful operator decision.
type Resolution struct {
	Post    *PendingPost
	Choice  Choice
	Caption string
}

// Cancelled reports whether the operator discarded the post.
func (r *Resolution) Cancelled() bool {
	return r.Choice.Kind == ChoiceCancel
}

// Registry holds image posts awaiting an operator decision. Entries expire
// after a TTL and can be resolved at most once.
type Registry struct {
	entries       *expirable.LRU[string, *PendingPost]
	defaultLocale string
	log           zerolog.Logger
}

// NewRegistry creates a registry. Zero ttl or capacity selects the defaults.
func NewRegistry(ttl time.Duration, capacity int, defaultLocale string, log zerolog.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	if capacity <= 0 {
		capacity = DefaultPendingCapacity
	}
	r := &Registry{
		defaultLocale: defaultLocale,
		log:           log.With().Str("component", "pending_registry").Logger(),
	}
	r.entries = expirable.NewLRU[string, *PendingPost](capacity, r.onEvict, ttl)
	return r
}

// onEvict runs for every removal, including resolutions. Expiry claims the
// entry the same way Resolve does, so an entry is either expired or
// resolved, never both.
func (r *Registry) onEvict(id string, post *PendingPost) {
	pendingPosts.Dec()
	if !post.claimed.CompareAndSwap(false, true) {
		return
	}
	pendingExpiredTotal.Inc()
	r.log.Info().
		Str("pending_id", id).
		Str("origin", post.OriginID).
		Dur("age", time.Since(post.CreatedAt)).
		Msg("Pending post expired without a decision")
}

// Register stores a new pending post and returns its identifier.
func (r *Registry) Register(origin string, kind MessageKind, image []byte, candidates []CaptionCandidate, fallback string) string {
	post := &PendingPost{
		ID:              uuid.NewString(),
		OriginID:        origin,
		Kind:            kind,
		Image:           image,
		Candidates:      candidates,
		FallbackCaption: fallback,
		CreatedAt:       time.Now(),
	}
	pendingPosts.Inc()
	r.entries.Add(post.ID, post)
	r.log.Debug().
		Str("pending_id", post.ID).
		Int("candidates", len(candidates)).
		Msg("Registered pending post")
	return post.ID
}

// Get returns the pending post without resolving it.
func (r *Registry) Get(id string) (*PendingPost, bool) {
	post, ok := r.entries.Peek(id)
	if !ok || post.claimed.Load() {
		return nil, false
	}
	return post, true
}

// Resolve applies an operator decision. Exactly one of any number of
// concurrent calls for the same id succeeds; the others get ErrNotFound.
// A call racing with expiry also gets ErrNotFound when expiry wins.
// An out-of-range candidate index returns ErrInvalidChoice and leaves the
// entry in place.
func (r *Registry) Resolve(id string, choice Choice) (*Resolution, error) {
	post, ok := r.entries.Peek(id)
	if !ok {
		return nil, ErrNotFound
	}
	if choice.Kind == ChoiceCandidate && (choice.Index < 0 || choice.Index >= len(post.Candidates)) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrInvalidChoice, choice.Index, len(post.Candidates))
	}
	if !post.claimed.CompareAndSwap(false, true) {
		return nil, ErrNotFound
	}
	r.entries.Remove(id)

	res := &Resolution{Post: post, Choice: choice}
	switch choice.Kind {
	case ChoiceCandidate:
		locale := choice.Locale
		if locale == "" {
			locale = r.defaultLocale
		}
		res.Caption = post.Candidates[choice.Index].Text(locale)
	case ChoiceManual:
		res.Caption = post.FallbackCaption
	}
	r.log.Debug().
		Str("pending_id", id).
		Str("choice", choice.String()).
		Msg("Resolved pending post")
	return res, nil
}

// Len returns the number of stored entries, including expired ones not yet
// purged.
func (r *Registry) Len() int {
	return r.entries.Len()
}
