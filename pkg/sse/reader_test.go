package sse

import (
	"bytes"
	"errors"
	"io"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type failingReader struct {
	data string
	err  error
	done bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.done {
		return 0, f.err
	}
	f.done = true
	return copy(p, f.data), nil
}

var _ = Describe("Reader", func() {
	Describe("Next", func() {
		Context("with chat stream events", func() {
			It("parses the chat id envelope followed by chunks", func() {
				src := strings.NewReader("data: {\"chat_id\":42}\n\n" +
					"data: {\"chunk\":\"Hi\"}\n\n" +
					"data: {\"chunk\":\" there\"}\n\n")
				r := NewReader(src)

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal(`{"chat_id":42}`))

				ev, err = r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal(`{"chunk":"Hi"}`))

				ev, err = r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal(`{"chunk":" there"}`))

				ev, err = r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev).To(BeNil())
			})

			It("parses event type and id", func() {
				r := NewReader(strings.NewReader("event: chunk\nid: 7\ndata: hello\n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Type).To(Equal("chunk"))
				Expect(ev.ID).To(Equal("7"))
				Expect(ev.Data).To(Equal("hello"))
			})

			It("joins multiple data lines with newline", func() {
				r := NewReader(strings.NewReader("data: SELECT *\ndata: FROM users;\n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal("SELECT *\nFROM users;"))
			})

			It("passes the backend failure sentinel through as data", func() {
				r := NewReader(strings.NewReader("data: [STREAM ERROR]\n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal("[STREAM ERROR]"))
			})
		})

		Context("with comments and keep-alives", func() {
			It("skips comment lines", func() {
				r := NewReader(strings.NewReader(": ping\ndata: hello\n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal("hello"))
			})

			It("does not emit events for bare blank lines", func() {
				r := NewReader(strings.NewReader("\n\n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev).To(BeNil())
			})
		})

		Context("with data field variations", func() {
			It("handles data field with no space after colon", func() {
				r := NewReader(strings.NewReader("data:no-space\n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal("no-space"))
			})

			It("handles an empty data field", func() {
				r := NewReader(strings.NewReader("data: \n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev).NotTo(BeNil())
				Expect(ev.Data).To(BeEmpty())
			})

			It("ignores retry and unknown fields", func() {
				r := NewReader(strings.NewReader("retry: 3000\nfoo: bar\ndata: hello\n\n"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal("hello"))
			})
		})

		Context("with a tee destination", func() {
			It("copies all bytes including delimiters and comments", func() {
				input := ": keep-alive\ndata: {\"chat_id\":1}\n\ndata: {\"chunk\":\"a\"}\n\n"
				dst := &bytes.Buffer{}
				r := NewTeeReader(strings.NewReader(input), dst)

				_, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				_, err = r.Next()
				Expect(err).NotTo(HaveOccurred())

				Expect(dst.String()).To(Equal(input))
			})
		})

		Context("edge cases", func() {
			It("returns nil on empty input", func() {
				ev, err := NewReader(strings.NewReader("")).Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev).To(BeNil())
			})

			It("yields an event when the stream ends without a trailing blank line", func() {
				r := NewReader(strings.NewReader("data: unterminated"))

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal("unterminated"))

				ev, err = r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev).To(BeNil())
			})

			It("surfaces transport errors from the source", func() {
				boom := errors.New("connection reset")
				r := NewReader(&failingReader{data: "data: {\"chunk\":\"x\"}\n\n", err: boom})

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev.Data).To(Equal(`{"chunk":"x"}`))

				_, err = r.Next()
				Expect(err).To(MatchError(boom))
			})

			It("treats io.EOF from the source as exhaustion", func() {
				r := NewReader(&failingReader{data: "data: a\n\n", err: io.EOF})

				_, err := r.Next()
				Expect(err).NotTo(HaveOccurred())

				ev, err := r.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(ev).To(BeNil())
			})
		})
	})
})
