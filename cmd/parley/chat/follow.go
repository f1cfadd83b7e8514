package chatcmder

import (
	"fmt"
	"io"
	"sync"

	"github.com/papercomputeco/parley/pkg/session"
)

// follower prints a growing message to w as the store reports changes.
type follower struct {
	store     *session.Store
	sessionID string
	index     int
	w         io.Writer

	printed int
	done    chan struct{}
	wg      sync.WaitGroup
}

// follow starts printing the message at index of sessionID. The message may
// not exist yet.
func follow(store *session.Store, sessionID string, index int, w io.Writer) *follower {
	f := &follower{
		store:     store,
		sessionID: sessionID,
		index:     index,
		w:         w,
		done:      make(chan struct{}),
	}

	ch, cancel := store.Subscribe()
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer cancel()
		for {
			select {
			case <-f.done:
				return
			case <-ch:
				f.flush()
			}
		}
	}()

	return f
}

// stop ends following and prints whatever arrived since the last update.
func (f *follower) stop() {
	close(f.done)
	f.wg.Wait()
	f.flush()
}

func (f *follower) flush() {
	sess, err := f.store.Get(f.sessionID)
	if err != nil || f.index >= len(sess.Messages) {
		return
	}

	content := sess.Messages[f.index].Content
	if len(content) > f.printed {
		fmt.Fprint(f.w, content[f.printed:])
		f.printed = len(content)
	}
}
