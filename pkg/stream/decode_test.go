package stream_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/parley/pkg/stream"
)

var _ = Describe("Decode", func() {
	DescribeTable("envelopes",
		func(data string, want []stream.Fragment) {
			Expect(stream.Decode(data)).To(Equal(want))
		},
		Entry("chat id only", `{"chat_id":42}`,
			[]stream.Fragment{{Kind: stream.KindChatID, ChatID: 42}}),
		Entry("chat id as a string", `{"chat_id":"42"}`,
			[]stream.Fragment{{Kind: stream.KindChatID, ChatID: 42}}),
		Entry("chunk only", `{"chunk":"Hi"}`,
			[]stream.Fragment{{Kind: stream.KindText, Text: "Hi"}}),
		Entry("chunk keeps whitespace verbatim", `{"chunk":"  there\n"}`,
			[]stream.Fragment{{Kind: stream.KindText, Text: "  there\n"}}),
		Entry("empty chunk", `{"chunk":""}`,
			[]stream.Fragment{{Kind: stream.KindText, Text: ""}}),
		Entry("both fields yield the id first", `{"chunk":"Hi","chat_id":3}`,
			[]stream.Fragment{
				{Kind: stream.KindChatID, ChatID: 3},
				{Kind: stream.KindText, Text: "Hi"},
			}),
		Entry("zero chat id with a chunk", `{"chat_id":0,"chunk":"x"}`,
			[]stream.Fragment{{Kind: stream.KindText, Text: "x"}}),
	)

	DescribeTable("sentinels",
		func(data string, kind stream.Kind) {
			frags := stream.Decode(data)
			Expect(frags).To(HaveLen(1))
			Expect(frags[0].Kind).To(Equal(kind))
		},
		Entry("done", "[DONE]", stream.KindDone),
		Entry("done with padding", " [DONE] ", stream.KindDone),
		Entry("failure", "[STREAM ERROR]", stream.KindFailure),
	)

	DescribeTable("unrecognized payloads",
		func(data string) {
			frags := stream.Decode(data)
			Expect(frags).To(HaveLen(1))
			Expect(frags[0].Kind).To(Equal(stream.KindUnrecognized))
		},
		Entry("raw text", "Hello there"),
		Entry("truncated json", `{"chunk":"Hi`),
		Entry("json string", `"Hi"`),
		Entry("json number", `42`),
		Entry("unknown fields", `{"delta":"x"}`),
		Entry("null chat id", `{"chat_id":null}`),
		Entry("zero chat id", `{"chat_id":0}`),
		Entry("negative chat id", `{"chat_id":-4}`),
		Entry("fractional chat id", `{"chat_id":4.5}`),
		Entry("non-numeric chat id", `{"chat_id":"abc"}`),
		Entry("chat id past int64", `{"chat_id":9.223372036854775808e18}`),
		Entry("empty data", ""),
	)
})

var _ = Describe("State", func() {
	It("names every state", func() {
		Expect(stream.StateOpen.String()).To(Equal("OPEN"))
		Expect(stream.StateClosedComplete.String()).To(Equal("CLOSED_COMPLETE"))
		Expect(stream.StateClosedError.String()).To(Equal("CLOSED_ERROR"))
		Expect(stream.StateClosedTimeout.String()).To(Equal("CLOSED_TIMEOUT"))
	})

	It("treats only OPEN as non-terminal", func() {
		Expect(stream.StateOpen.Closed()).To(BeFalse())
		Expect(stream.StateClosedComplete.Closed()).To(BeTrue())
		Expect(stream.StateClosedError.Closed()).To(BeTrue())
		Expect(stream.StateClosedTimeout.Closed()).To(BeTrue())
	})
})
