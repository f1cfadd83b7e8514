package stream_test

import (
	"bytes"
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/parley/pkg/backend"
	"github.com/papercomputeco/parley/pkg/session"
	"github.com/papercomputeco/parley/pkg/stream"
	testutils "github.com/papercomputeco/parley/pkg/utils/test"
)

var _ = Describe("Reconciler", func() {
	var (
		store      *session.Store
		mock       *testutils.MockBackend
		syncer     *testutils.MockSyncer
		reconciler *stream.Reconciler
		sessionID  string
		ctx        context.Context
	)

	newReconciler := func(idle time.Duration) *stream.Reconciler {
		r, err := stream.New(&stream.Config{
			Store:       store,
			Opener:      mock,
			Syncer:      syncer,
			IdleTimeout: idle,
		})
		Expect(err).NotTo(HaveOccurred())
		return r
	}

	lastMessage := func() session.Message {
		sess, err := store.Get(sessionID)
		Expect(err).NotTo(HaveOccurred())
		msg, ok := sess.LastMessage()
		Expect(ok).To(BeTrue())
		return msg
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = session.NewStore()
		mock = testutils.NewMockBackend()
		syncer = &testutils.MockSyncer{}
		reconciler = newReconciler(time.Second)

		sessionID = store.Create()
		_, err := store.AppendMessage(sessionID, session.Message{Role: session.RoleUser, Content: "Hello"})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("New", func() {
		It("requires a store and an opener", func() {
			_, err := stream.New(&stream.Config{Opener: mock})
			Expect(err).To(HaveOccurred())
			_, err = stream.New(&stream.Config{Store: store})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when the backend assigns a chat id and completes", func() {
		It("binds the session, assembles the reply and refreshes history once", func() {
			mock.QueueStream(testutils.StreamOf(`{"chat_id":42}`, `{"chunk":"Hi"}`, `{"chunk":" there"}`))

			state, err := reconciler.Run(ctx, sessionID, "Hello", "m")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(stream.StateClosedComplete))

			sess, _ := store.Get(sessionID)
			Expect(sess.ChatID).To(Equal(int64(42)))
			Expect(sess.Messages).To(HaveLen(2))
			Expect(sess.Messages[0].Role).To(Equal(session.RoleUser))
			Expect(sess.Messages[1].Role).To(Equal(session.RoleAssistant))
			Expect(sess.Messages[1].Content).To(Equal("Hi there"))
			Expect(syncer.Calls()).To(Equal(1))
			Expect(store.StreamActive(sessionID)).To(BeFalse())

			reqs := mock.StreamRequests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0]).To(Equal(backend.StreamRequest{Prompt: "Hello", Model: "m", ChatID: 0}))
		})

		It("ignores chat ids after the first", func() {
			mock.QueueStream(testutils.StreamOf(`{"chat_id":42}`, `{"chat_id":43,"chunk":"a"}`))

			h, err := reconciler.Open(ctx, sessionID, "Hello", "m")
			Expect(err).NotTo(HaveOccurred())
			state, _ := h.Wait()
			Expect(state).To(Equal(stream.StateClosedComplete))

			Expect(h.BoundChatID()).To(Equal(int64(42)))
			sess, _ := store.Get(sessionID)
			Expect(sess.ChatID).To(Equal(int64(42)))
			Expect(syncer.Calls()).To(Equal(1))
		})
	})

	Context("when the session is already bound", func() {
		BeforeEach(func() {
			_, err := store.BindChatID(sessionID, 7)
			Expect(err).NotTo(HaveOccurred())
		})

		It("sends the chat id and never rebinds", func() {
			mock.QueueStream(testutils.StreamOf(`{"chat_id":8}`, `{"chunk":"pong"}`))

			state, err := reconciler.Run(ctx, sessionID, "ping", "m")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(stream.StateClosedComplete))

			sess, _ := store.Get(sessionID)
			Expect(sess.ChatID).To(Equal(int64(7)))
			Expect(mock.StreamRequests()[0].ChatID).To(Equal(int64(7)))
			Expect(syncer.Calls()).To(BeZero())
		})
	})

	Context("with the done sentinel", func() {
		It("completes without waiting for EOF and releases the body", func() {
			body := testutils.NewScriptedStream()
			mock.QueueStream(body)

			h, err := reconciler.Open(ctx, sessionID, "Hello", "m")
			Expect(err).NotTo(HaveOccurred())

			Expect(body.Send(`{"chunk":"done soon"}`)).To(Succeed())
			Expect(body.Send("[DONE]")).To(Succeed())

			state, err := h.Wait()
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(stream.StateClosedComplete))
			Expect(body.Closed()).To(BeTrue())
			Expect(lastMessage().Content).To(Equal("done soon"))
		})
	})

	Context("when the transport fails mid-stream", func() {
		It("keeps the partial text and stops mutating the message", func() {
			boom := errors.New("connection reset")
			body := testutils.NewScriptedStream()
			mock.QueueStream(body)

			h, err := reconciler.Open(ctx, sessionID, "Hello", "m")
			Expect(err).NotTo(HaveOccurred())

			Expect(body.Send(`{"chunk":"Hel"}`)).To(Succeed())
			Expect(body.Fail(boom)).To(Succeed())

			state, err := h.Wait()
			Expect(state).To(Equal(stream.StateClosedError))
			Expect(err).To(MatchError(boom))
			Expect(h.Err()).To(MatchError(boom))

			msg := lastMessage()
			Expect(msg.Content).To(Equal("Hel"))
			Expect(msg.Error).To(BeFalse())
			Expect(store.AppendFragment(sessionID, h.MessageID, "lo")).To(MatchError(session.ErrNotStreamTarget))
			Expect(lastMessage().Content).To(Equal("Hel"))
		})

		It("refreshes history again when the failed stream created a chat", func() {
			body := testutils.NewScriptedStream()
			mock.QueueStream(body)

			h, err := reconciler.Open(ctx, sessionID, "Hello", "m")
			Expect(err).NotTo(HaveOccurred())
			Expect(body.Send(`{"chat_id":11}`)).To(Succeed())
			Expect(body.Fail(errors.New("dropped"))).To(Succeed())

			state, _ := h.Wait()
			Expect(state).To(Equal(stream.StateClosedError))
			Expect(syncer.Calls()).To(Equal(2))
		})
	})

	Context("when the backend reports a failure", func() {
		It("finalizes an empty reply with the error payload", func() {
			mock.QueueStream(testutils.StreamOf("[STREAM ERROR]"))

			state, err := reconciler.Run(ctx, sessionID, "Hello", "m")
			Expect(state).To(Equal(stream.StateClosedError))
			Expect(err).To(MatchError(stream.ErrUpstreamFailure))

			msg := lastMessage()
			Expect(msg.Error).To(BeTrue())
			Expect(msg.Content).To(Equal(session.ErrorContent))
		})
	})

	Context("when the channel cannot be opened", func() {
		It("closes with the open error", func() {
			mock.StreamErr = backend.StatusError{StatusCode: 401, Message: "expired"}

			state, err := reconciler.Run(ctx, sessionID, "Hello", "m")
			Expect(state).To(Equal(stream.StateClosedError))
			Expect(errors.Is(err, backend.ErrUnauthorized)).To(BeTrue())
			Expect(store.StreamActive(sessionID)).To(BeFalse())
		})
	})

	Context("with malformed events", func() {
		It("drops them and keeps the stream open", func() {
			mock.QueueStream(testutils.StreamOf(`not json`, `{"delta":"x"}`, `{"chunk":"ok"}`, `"bare"`))

			state, err := reconciler.Run(ctx, sessionID, "Hello", "m")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(stream.StateClosedComplete))
			Expect(lastMessage().Content).To(Equal("ok"))
		})
	})

	Context("idle timeout", func() {
		It("closes a silent stream", func() {
			reconciler = newReconciler(50 * time.Millisecond)
			body := testutils.NewScriptedStream()
			mock.QueueStream(body)

			state, err := reconciler.Run(ctx, sessionID, "Hello", "m")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(stream.StateClosedTimeout))
			Expect(body.Closed()).To(BeTrue())

			msg := lastMessage()
			Expect(msg.Error).To(BeFalse())
			Expect(store.StreamActive(sessionID)).To(BeFalse())
		})

		It("restarts the window on every event", func() {
			reconciler = newReconciler(200 * time.Millisecond)
			body := testutils.NewScriptedStream()
			mock.QueueStream(body)

			h, err := reconciler.Open(ctx, sessionID, "Hello", "m")
			Expect(err).NotTo(HaveOccurred())

			for range 6 {
				time.Sleep(60 * time.Millisecond)
				Expect(body.Send(`{"chunk":"."}`)).To(Succeed())
			}
			Expect(body.End()).To(Succeed())

			state, _ := h.Wait()
			Expect(state).To(Equal(stream.StateClosedComplete))
			Expect(lastMessage().Content).To(Equal("......"))
		})

		It("is not restarted by comments", func() {
			reconciler = newReconciler(100 * time.Millisecond)
			body := testutils.NewScriptedStream()
			mock.QueueStream(body)

			go func() {
				defer GinkgoRecover()
				for body.Comment("keep-alive") == nil {
					time.Sleep(10 * time.Millisecond)
				}
			}()

			state, err := reconciler.Run(ctx, sessionID, "Hello", "m")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(stream.StateClosedTimeout))
		})
	})

	Context("cancellation", func() {
		It("closes with context.Canceled on Close", func() {
			body := testutils.NewScriptedStream()
			mock.QueueStream(body)

			h, err := reconciler.Open(ctx, sessionID, "Hello", "m")
			Expect(err).NotTo(HaveOccurred())
			Expect(body.Send(`{"chunk":"part"}`)).To(Succeed())
			Eventually(func() string { return lastMessage().Content }).Should(Equal("part"))

			h.Close()
			Expect(h.State()).To(Equal(stream.StateClosedError))
			Expect(h.Err()).To(MatchError(context.Canceled))
			Expect(body.Closed()).To(BeTrue())
			Expect(lastMessage().Content).To(Equal("part"))

			h.Close()
			Eventually(h.Done()).Should(BeClosed())
		})

		It("closes when the caller's context is cancelled", func() {
			body := testutils.NewScriptedStream()
			mock.QueueStream(body)

			cctx, cancel := context.WithCancel(ctx)
			h, err := reconciler.Open(cctx, sessionID, "Hello", "m")
			Expect(err).NotTo(HaveOccurred())

			cancel()
			state, err := h.Wait()
			Expect(state).To(Equal(stream.StateClosedError))
			Expect(err).To(MatchError(context.Canceled))
			Expect(lastMessage().Error).To(BeTrue())
		})
	})

	Context("with a stream already open", func() {
		It("rejects a second stream on the same session without side effects", func() {
			body := testutils.NewScriptedStream()
			mock.QueueStream(body)

			h, err := reconciler.Open(ctx, sessionID, "Hello", "m")
			Expect(err).NotTo(HaveOccurred())
			Expect(h.State()).To(Equal(stream.StateOpen))

			_, err = reconciler.Open(ctx, sessionID, "again", "m")
			Expect(err).To(MatchError(session.ErrStreamActive))

			sess, _ := store.Get(sessionID)
			Expect(sess.Messages).To(HaveLen(2))

			h.Close()
		})
	})

	It("fails for an unknown session without opening a channel", func() {
		_, err := reconciler.Open(ctx, "missing", "Hello", "m")
		Expect(err).To(MatchError(session.ErrSessionNotFound))
		Expect(mock.StreamRequests()).To(BeEmpty())
	})

	It("ends the stream when its session disappears", func() {
		body := testutils.NewScriptedStream()
		mock.QueueStream(body)

		h, err := reconciler.Open(ctx, sessionID, "Hello", "m")
		Expect(err).NotTo(HaveOccurred())

		store.Reset()
		_ = body.Send(`{"chunk":"orphan"}`)

		state, err := h.Wait()
		Expect(state).To(Equal(stream.StateClosedError))
		Expect(err).To(MatchError(session.ErrSessionNotFound))
	})

	It("copies the wire bytes to the transcript", func() {
		transcript := &bytes.Buffer{}
		r, err := stream.New(&stream.Config{Store: store, Opener: mock, Transcript: transcript})
		Expect(err).NotTo(HaveOccurred())
		mock.QueueStream(testutils.StreamOf(`{"chunk":"a"}`))

		state, err := r.Run(ctx, sessionID, "Hello", "m")
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(stream.StateClosedComplete))
		Expect(transcript.String()).To(Equal("data: {\"chunk\":\"a\"}\n\n"))
	})

	It("keeps streaming when the transcript fails", func() {
		transcript := &failingWriter{err: errors.New("disk full")}
		r, err := stream.New(&stream.Config{Store: store, Opener: mock, Syncer: syncer, Transcript: transcript})
		Expect(err).NotTo(HaveOccurred())
		mock.QueueStream(testutils.StreamOf(`{"chat_id":42}`, `{"chunk":"Hi"}`, `{"chunk":" there"}`))

		state, err := r.Run(ctx, sessionID, "Hello", "m")
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(stream.StateClosedComplete))
		Expect(transcript.writes).To(Equal(1))

		msg := lastMessage()
		Expect(msg.Content).To(Equal("Hi there"))
		Expect(msg.Error).To(BeFalse())
		sess, _ := store.Get(sessionID)
		Expect(sess.ChatID).To(Equal(int64(42)))
	})
})

type failingWriter struct {
	err    error
	writes int
}

func (w *failingWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, w.err
}
