// Package replay synchronizes a video's historical comments to an externally
// driven playback clock. Comments are fetched page by page through cursor
// pagination, buffered, and released only once playback reaches their recorded
// offset. A seek discards buffer and cursor and restarts pagination from the
// new position.
package replay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chatstream/telemetry"
	"github.com/onnwee/chatstream/twitchapi"
)

// Fixed delay between retries of a failed page fetch. Variable so tests can
// shorten it.
var retryBackoff = 2500 * time.Millisecond

// PageSource fetches one page of historical comments.
type PageSource interface {
	VideoComments(ctx context.Context, videoID string, offsetSeconds int, cursor string) (*twitchapi.CommentsPage, error)
}

// Hooks carries the connection-lifecycle notifications the synchronizer emits.
// Nil funcs are skipped.
type Hooks struct {
	Connected    func()
	Reconnecting func()
}

// Synchronizer drives replay mode on one dedicated worker goroutine. Playback
// position updates arrive from the player's goroutine through ReportPosition
// and are merged under a single lock; the worker blocks on the condition
// variable whenever it has nothing to do.
type Synchronizer struct {
	videoID string
	source  PageSource
	emit    func(twitchapi.CommentNode)
	hooks   Hooks
	logger  *slog.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	progress   float64 // seconds; -1 until the first position report
	seek       bool
	stopping   bool
	nextOffset float64 // offset the worker is currently waiting on

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewSynchronizer(videoID string, source PageSource, emit func(twitchapi.CommentNode), hooks Hooks) *Synchronizer {
	telemetry.Init()
	s := &Synchronizer{
		videoID:  videoID,
		source:   source,
		emit:     emit,
		hooks:    hooks,
		progress: -1,
		stopCh:   make(chan struct{}),
		logger:   slog.Default().With(slog.String("component", "replay"), slog.String("video_id", videoID)),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ReportPosition merges a playback position update. Seek intent is sticky
// until the worker consumes it. The worker is only woken when the update is
// actionable: a seek, or progress reaching the next pending comment's offset.
func (s *Synchronizer) ReportPosition(seconds float64, isSeek bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = seconds
	s.seek = s.seek || isSeek

	if !isSeek && seconds < s.nextOffset {
		return
	}
	s.cond.Broadcast()
}

// Stop halts the worker permanently. Safe to call more than once and from any
// goroutine; a blocked worker is woken rather than left waiting.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		s.cond.Broadcast()
		s.mu.Unlock()
		close(s.stopCh)
	})
}

func (s *Synchronizer) stopped(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping || ctx.Err() != nil
}

// Run is the worker loop. It blocks until Stop, context cancellation, or the
// video turns out to have no comments at all.
func (s *Synchronizer) Run(ctx context.Context) {
	// A canceled context must wake a worker blocked on the condition
	// variable; condition waits cannot observe ctx on their own.
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-s.stopCh:
		}
	}()

	s.run(ctx)

	s.mu.Lock()
	s.progress = -1
	s.mu.Unlock()
	telemetry.SetConnected(false)
}

func (s *Synchronizer) run(ctx context.Context) {
	if s.hooks.Connected != nil {
		s.hooks.Connected()
	}
	telemetry.SetConnected(true)

	// Position values only mean anything once the player has reported one.
	s.mu.Lock()
	for s.progress < 0 && !s.stopping && ctx.Err() == nil {
		s.cond.Wait()
	}
	s.mu.Unlock()

	var (
		buffer       []twitchapi.CommentNode
		cursor       string
		justSeeked   bool
		reconnecting bool
	)

	for !s.stopped(ctx) {
		s.mu.Lock()
		if s.seek {
			s.seek = false
			cursor = ""
			buffer = buffer[:0]
			justSeeked = true
		}
		progress := s.progress
		s.mu.Unlock()

		if len(buffer) == 0 {
			var page *twitchapi.CommentsPage
			var err error
			telemetry.TimeFunc(telemetry.PageFetchDuration, func() {
				page, err = s.source.VideoComments(ctx, s.videoID, int(progress), cursor)
			})
			if err != nil {
				telemetry.PageFetchFailures.Inc()
				s.logger.Warn("comment page fetch failed", slog.Any("err", err))
				reconnecting = true
				if s.hooks.Reconnecting != nil {
					s.hooks.Reconnecting()
				}
				telemetry.Reconnects.Inc()
				if !s.sleep(ctx) {
					return
				}
				continue
			}
			telemetry.PagesFetched.Inc()
			if reconnecting {
				reconnecting = false
				if s.hooks.Connected != nil {
					s.hooks.Connected()
				}
			}

			// An expired or invalid cursor yields a null comments object.
			// Fall back to offset pagination from the current position.
			if page.NullComments {
				cursor = ""
				continue
			}

			for _, edge := range page.Edges {
				node := edge.Node
				offset := node.ContentOffsetSeconds
				// Skip comments behind the playhead unless a seek just
				// happened (the first post-seek page is the nearest prior
				// context and must display).
				if offset < progress && !justSeeked {
					continue
				}
				// The provider sometimes omits the author; such comments are
				// not shown.
				if node.Commenter == nil {
					continue
				}
				buffer = append(buffer, node)
			}
			justSeeked = false
			telemetry.SetBufferedComments(len(buffer))

			// No comments, no page either way: the video has none at all.
			if len(page.Edges) == 0 && !page.HasNextPage && !page.HasPreviousPage {
				s.logger.Info("video has no comments")
				return
			}

			if page.HasNextPage {
				// A page can claim a next page yet carry no edges; fall back
				// to offset pagination like the null-comments case.
				if len(page.Edges) == 0 {
					cursor = ""
					continue
				}
				cursor = page.Edges[len(page.Edges)-1].Cursor
			} else if len(buffer) == 0 {
				// End of the comments; nothing to do until the user seeks.
				s.mu.Lock()
				for !s.seek && !s.stopping && ctx.Err() == nil {
					s.cond.Wait()
				}
				s.mu.Unlock()
			}

			if len(buffer) == 0 {
				continue
			}
		}

		head := buffer[0]

		s.mu.Lock()
		s.nextOffset = head.ContentOffsetSeconds
		for s.progress < head.ContentOffsetSeconds && !s.seek && !s.stopping && ctx.Err() == nil {
			s.cond.Wait()
		}
		stale := s.seek
		halted := s.stopping || ctx.Err() != nil
		s.mu.Unlock()

		if halted {
			return
		}
		// A seek happened while waiting: the comment is now old and must not
		// display. The seek branch at the loop head clears the buffer.
		if stale {
			continue
		}

		s.emit(head)
		buffer = buffer[1:]
		telemetry.SetBufferedComments(len(buffer))
	}
}

// sleep blocks for the retry backoff, returning false if stopped meanwhile.
func (s *Synchronizer) sleep(ctx context.Context) bool {
	select {
	case <-time.After(retryBackoff):
		return true
	case <-s.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
