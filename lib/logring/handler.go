// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Handler is a slog.Handler that copies records at or above Level into
// a Ring and forwards every record to Next. The ring copy renders
// attributes inline after the message ("Disconnected error=EOF") since
// the status view shows plain lines.
type Handler struct {
	ring  *Ring
	next  slog.Handler
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// NewHandler wraps next. Records at level or above are also kept in
// ring. A nil next discards forwarded records.
func NewHandler(ring *Ring, next slog.Handler, level slog.Leveler) *Handler {
	if next == nil {
		next = slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1})
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{ring: ring, next: next, level: level}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() || h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= h.level.Level() {
		h.ring.Add(Entry{
			Time:    record.Time,
			Level:   record.Level.String(),
			Message: h.render(record),
		})
	}
	if h.next.Enabled(ctx, record.Level) {
		return h.next.Handle(ctx, record)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), qualify(h.group, attrs)...)
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	if h.group != "" {
		name = h.group + "." + name
	}
	clone.group = name
	return &clone
}

func (h *Handler) render(record slog.Record) string {
	var builder strings.Builder
	builder.WriteString(record.Message)
	write := func(attr slog.Attr) {
		if attr.Equal(slog.Attr{}) {
			return
		}
		fmt.Fprintf(&builder, " %s=%v", attr.Key, attr.Value.Resolve())
	}
	for _, attr := range h.attrs {
		write(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		for _, qualified := range qualify(h.group, []slog.Attr{attr}) {
			write(qualified)
		}
		return true
	})
	return builder.String()
}

func qualify(group string, attrs []slog.Attr) []slog.Attr {
	if group == "" {
		return attrs
	}
	result := make([]slog.Attr, len(attrs))
	for index, attr := range attrs {
		result[index] = slog.Attr{Key: group + "." + attr.Key, Value: attr.Value}
	}
	return result
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
