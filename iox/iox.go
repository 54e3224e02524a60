// Package iox provides cleanup helpers for closers and flushers.
package iox

import "io"

// DiscardClose closes c and drops the error. For deferred closes whose
// error nobody can act on:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a func that closes c, for t.Cleanup:
//
//	t.Cleanup(iox.CloseFunc(notifier))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and drops its error, e.g. defer iox.DiscardErr(logger.Sync).
func DiscardErr(fn func() error) { _ = fn() }

// CloseWith closes c and hands a close error to report.
func CloseWith(c io.Closer, report func(error)) {
	if err := c.Close(); err != nil {
		report(err)
	}
}
