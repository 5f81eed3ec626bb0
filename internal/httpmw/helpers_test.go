package httpmw

import (
	"context"
	"sync"

	"github.com/keithlinneman/linnemanlabs-gate/internal/log"
)

type entry struct {
	level string
	msg   string
	err   error
	kv    []any
}

// captureLogger records every call. With() appends to the shared attrs and
// returns the same logger so assertions see one stream.
type captureLogger struct {
	mu      sync.Mutex
	entries []entry
	withs   []any
}

func (c *captureLogger) With(kv ...any) log.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.withs = append(c.withs, kv...)
	return c
}

func (c *captureLogger) add(e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func (c *captureLogger) Debug(_ context.Context, msg string, kv ...any) {
	c.add(entry{level: "debug", msg: msg, kv: kv})
}
func (c *captureLogger) Info(_ context.Context, msg string, kv ...any) {
	c.add(entry{level: "info", msg: msg, kv: kv})
}
func (c *captureLogger) Warn(_ context.Context, msg string, kv ...any) {
	c.add(entry{level: "warn", msg: msg, kv: kv})
}
func (c *captureLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	c.add(entry{level: "error", msg: msg, err: err, kv: kv})
}
func (c *captureLogger) Sync() error { return nil }

func (c *captureLogger) all() []entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]entry(nil), c.entries...)
}

// withValue returns the value most recently attached under key via With
func (c *captureLogger) withValue(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var v any
	found := false
	for i := 0; i+1 < len(c.withs); i += 2 {
		if c.withs[i] == key {
			v, found = c.withs[i+1], true
		}
	}
	return v, found
}

func kvValue(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1], true
		}
	}
	return nil, false
}
