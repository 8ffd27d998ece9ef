package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/coherent"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	StaleEvery   uint64
	AppliedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	staleCtr   atomic.Uint64
	appliedCtr atomic.Uint64
}

var _ coherent.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) StaleEventDiscarded(name, key string, eventVersion, currentVersion uint64) {
	if h.l == nil || !sample(h.opts.StaleEvery, &h.staleCtr) {
		return
	}
	h.l.Debug("coherent.stale_event_discarded",
		"map", name,
		"key", h.redact(key),
		"event_version", eventVersion,
		"current_version", currentVersion)
}

func (h *Hooks) EventApplied(name, key, action string) {
	if h.l == nil || !sample(h.opts.AppliedEvery, &h.appliedCtr) {
		return
	}
	h.l.Debug("coherent.event_applied",
		"map", name,
		"key", h.redact(key),
		"action", action)
}

func (h *Hooks) EventDecodeError(name string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("coherent.event_decode_error",
		"map", name,
		"err", err)
}

func (h *Hooks) ChannelDisconnected(channel string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("coherent.channel_disconnected",
		"channel", channel,
		"err", err)
}

func (h *Hooks) ChannelResubscribed(channel string, attempt int) {
	if h.l == nil {
		return
	}
	h.l.Info("coherent.channel_resubscribed",
		"channel", channel,
		"attempt", attempt)
}

func (h *Hooks) CacheFlushed(name string, entries int) {
	if h.l == nil {
		return
	}
	h.l.Info("coherent.cache_flushed",
		"map", name,
		"entries", entries)
}

func (h *Hooks) ProviderSetRejected(key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("coherent.provider_set_rejected",
		"key", h.redact(key))
}

func (h *Hooks) ReadThroughSkipped(name, key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("coherent.read_through_skipped",
		"map", name,
		"key", h.redact(key))
}
