package pairing

import (
	"time"

	"github.com/richardliu001/doubles-registration/internal/model"
)

const (
	DefaultSplitDeadlineHours = 48
	MinSplitDeadlineHours     = 1
	MaxSplitDeadlineHours     = 168

	DefaultFallbackDeadline = 72 * time.Hour

	DefaultInviteMinutes = 1440
	MinInviteMinutes     = 15
	MaxInviteMinutes     = 10080
)

// Policy holds the platform bounds for deadlines and invite links.
type Policy struct {
	SplitDeadlineHours   int
	FallbackDeadline     time.Duration
	DefaultInviteMinutes int
	MinInviteMinutes     int
	MaxInviteMinutes     int
	SwapConfirmTTL       time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		SplitDeadlineHours:   DefaultSplitDeadlineHours,
		FallbackDeadline:     DefaultFallbackDeadline,
		DefaultInviteMinutes: DefaultInviteMinutes,
		MinInviteMinutes:     MinInviteMinutes,
		MaxInviteMinutes:     MaxInviteMinutes,
		SwapConfirmTTL:       time.Hour,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ComputeSplitDeadlineAt returns startsAt minus the clamped split deadline hours. A competition
// override (hours > 0) wins over the policy default. Without a start time the deadline falls back
// to now + FallbackDeadline.
func (p Policy) ComputeSplitDeadlineAt(now time.Time, startsAt *time.Time, hours int) time.Time {
	if startsAt == nil {
		fallback := p.FallbackDeadline
		if fallback <= 0 {
			fallback = DefaultFallbackDeadline
		}
		return now.Add(fallback).UTC()
	}
	if hours <= 0 {
		hours = p.SplitDeadlineHours
	}
	if hours <= 0 {
		hours = DefaultSplitDeadlineHours
	}
	hours = clamp(hours, MinSplitDeadlineHours, MaxSplitDeadlineHours)
	return startsAt.Add(-time.Duration(hours) * time.Hour).UTC()
}

// ComputePartnerLinkExpiresAt returns now plus the requested minutes, clamped to the policy bounds.
func (p Policy) ComputePartnerLinkExpiresAt(now time.Time, requestedMinutes *int) time.Time {
	lo, hi := p.MinInviteMinutes, p.MaxInviteMinutes
	if lo <= 0 {
		lo = MinInviteMinutes
	}
	if hi < lo {
		hi = MaxInviteMinutes
	}
	minutes := p.DefaultInviteMinutes
	if requestedMinutes != nil {
		minutes = *requestedMinutes
	}
	if minutes <= 0 {
		minutes = DefaultInviteMinutes
	}
	minutes = clamp(minutes, lo, hi)
	return now.Add(time.Duration(minutes) * time.Minute).UTC()
}

// CanSwapPartner reports whether a paid partner may still hand the seat over.
func CanSwapPartner(lifecycle model.LifecycleStatus, now time.Time, allowedUntil *time.Time) bool {
	if lifecycle == model.LifecycleCancelledIncomplete {
		return false
	}
	return allowedUntil != nil && now.Before(*allowedUntil)
}

// Expired reports whether a passive deadline has passed.
func Expired(now time.Time, at *time.Time) bool {
	return at != nil && !now.Before(*at)
}

// EarliestOf returns the earlier of t and limit, ignoring a nil limit.
func EarliestOf(t time.Time, limit *time.Time) time.Time {
	if limit != nil && limit.Before(t) {
		return *limit
	}
	return t
}
