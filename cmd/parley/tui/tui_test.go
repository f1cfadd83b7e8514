package tuicmder

import (
	"context"
	"net"
	"time"

	bubbletea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/parley/cmd/parley/clientopts"
	"github.com/papercomputeco/parley/pkg/client"
	"github.com/papercomputeco/parley/pkg/devserver"
)

const testToken = "tui-token"

func startDevserver(config devserver.Config) (*devserver.Server, string) {
	srv := devserver.New(config, nil)
	srv.IssueToken("alice", testToken)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	go func() { _ = srv.RunWithListener(ln) }()
	DeferCleanup(func() { _ = srv.Shutdown() })

	return srv, "http://" + ln.Addr().String()
}

func press(m tuiModel, keyType bubbletea.KeyType) (tuiModel, bubbletea.Cmd) {
	next, cmd := m.Update(bubbletea.KeyMsg{Type: keyType})
	return next.(tuiModel), cmd
}

func apply(m tuiModel, msg bubbletea.Msg) tuiModel {
	next, _ := m.Update(msg)
	return next.(tuiModel)
}

var _ = Describe("NewTUICmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := NewTUICmd()
		Expect(cmd.Use).To(Equal("tui"))
	})

	It("registers the client flags", func() {
		cmd := NewTUICmd()
		Expect(cmd.Flags().Lookup("target")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("model")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("stream").DefValue).To(Equal("true"))
		Expect(cmd.Flags().Lookup("log-file")).NotTo(BeNil())
	})
})

var _ = Describe("TUI model", func() {
	var (
		dev *devserver.Server
		cl  *client.Client
		m   tuiModel
	)

	setup := func(config devserver.Config) {
		var target string
		dev, target = startDevserver(config)

		var err error
		cl, err = client.New(&client.Config{
			Target:    target,
			Token:     testToken,
			ConfigDir: GinkgoT().TempDir(),
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = cl.Close() })

		m = newTUIModel(context.Background(), cl, clientopts.Options{
			Target:      target,
			Model:       "llama3",
			Stream:      true,
			IdleTimeout: time.Minute,
		})
		DeferCleanup(m.close)
		m = apply(m, bubbletea.WindowSizeMsg{Width: 120, Height: 30})
	}

	// send submits prompt and feeds the finished reply back into the model.
	send := func(prompt string) sentMsg {
		m.input.SetValue(prompt)
		var cmd bubbletea.Cmd
		m, cmd = press(m, bubbletea.KeyEnter)
		Expect(m.sending).To(BeTrue())
		Expect(cmd).NotTo(BeNil())

		msg, ok := cmd().(sentMsg)
		Expect(ok).To(BeTrue())
		m = apply(m, msg)
		Expect(m.sending).To(BeFalse())
		return msg
	}

	Context("against a responsive backend", func() {
		BeforeEach(func() {
			setup(devserver.Config{})
		})

		It("streams a reply into a new chat", func() {
			msg := send("Hello there")
			Expect(msg.err).NotTo(HaveOccurred())
			Expect(msg.outcome.Streamed).To(BeTrue())
			Expect(msg.outcome.ChatID).To(Equal(int64(1)))

			sess, ok := cl.Store().Active()
			Expect(ok).To(BeTrue())
			Expect(sess.Messages).To(HaveLen(2))
			Expect(sess.Messages[1].Content).To(Equal("(llama3) You said: Hello there"))

			view := ansi.Strip(m.View())
			Expect(view).To(ContainSubstring("Hello there"))
			Expect(view).To(ContainSubstring("assistant"))
			Expect(view).To(ContainSubstring("(streaming)"))
			Expect(m.input.Value()).To(BeEmpty())
		})

		It("ignores a blank prompt", func() {
			m.input.SetValue("   ")
			var cmd bubbletea.Cmd
			m, cmd = press(m, bubbletea.KeyEnter)
			Expect(cmd).To(BeNil())
			Expect(m.sending).To(BeFalse())
		})

		It("refuses a second prompt while a reply is pending", func() {
			m.input.SetValue("first")
			var first, second bubbletea.Cmd
			m, first = press(m, bubbletea.KeyEnter)

			m.input.SetValue("second")
			m, second = press(m, bubbletea.KeyEnter)
			Expect(second).To(BeNil())
			Expect(m.status).To(Equal("Still waiting for the last reply"))

			m = apply(m, first())
			Expect(m.sending).To(BeFalse())
		})

		It("sends single-shot after streaming is toggled off", func() {
			m, _ = press(m, bubbletea.KeyCtrlS)
			Expect(m.stream).To(BeFalse())
			Expect(m.status).To(ContainSubstring("single-shot"))

			msg := send("ping")
			Expect(msg.err).NotTo(HaveOccurred())
			Expect(msg.outcome.Streamed).To(BeFalse())

			sess, _ := cl.Store().Active()
			Expect(sess.Messages[1].Content).To(Equal("(llama3) You said: ping"))
		})

		It("navigates the chat list and opens a chat", func() {
			send("first chat")
			bound := cl.Store().ActiveID()

			m, _ = press(m, bubbletea.KeyCtrlN)
			Expect(cl.Store().ActiveID()).NotTo(Equal(bound))

			m, _ = press(m, bubbletea.KeyTab)
			Expect(m.focus).To(Equal(focusList))
			Expect(m.cursor).To(Equal(0))

			m, _ = press(m, bubbletea.KeyDown)
			Expect(m.cursor).To(Equal(1))

			var cmd bubbletea.Cmd
			m, cmd = press(m, bubbletea.KeyEnter)
			Expect(cmd).NotTo(BeNil())
			opened, ok := cmd().(openedMsg)
			Expect(ok).To(BeTrue())
			Expect(opened.err).NotTo(HaveOccurred())

			m = apply(m, opened)
			Expect(m.focus).To(Equal(focusInput))
			Expect(cl.Store().ActiveID()).To(Equal(bound))

			sess, _ := cl.Store().Active()
			Expect(sess.Messages).To(HaveLen(2))
		})

		It("deletes the highlighted chat", func() {
			send("short lived")
			Expect(cl.Close()).To(Succeed())

			m, _ = press(m, bubbletea.KeyTab)
			var cmd bubbletea.Cmd
			m, cmd = press(m, bubbletea.KeyCtrlX)
			Expect(cmd).NotTo(BeNil())

			m = apply(m, cmd())
			Expect(m.status).To(Equal("Chat deleted"))
			Expect(m.statusErr).To(BeFalse())
			Expect(cl.Store().List()).To(BeEmpty())
			Expect(m.cursor).To(Equal(0))
		})

		It("reports an expired session and stops sending", func() {
			dev.RevokeToken(testToken)

			send("anyone there?")
			Expect(cl.LoggedOut()).To(BeTrue())
			Expect(m.status).To(Equal(expiredText))
			Expect(ansi.Strip(m.View())).To(ContainSubstring("Session expired"))

			m.input.SetValue("again")
			var cmd bubbletea.Cmd
			m, cmd = press(m, bubbletea.KeyEnter)
			Expect(cmd).To(BeNil())
		})

		It("quits on ctrl+c", func() {
			_, cmd := press(m, bubbletea.KeyCtrlC)
			Expect(cmd).NotTo(BeNil())
			Expect(cmd()).To(Equal(bubbletea.QuitMsg{}))
		})
	})

	Context("against a slow backend", func() {
		BeforeEach(func() {
			setup(devserver.Config{ChunkDelay: 100 * time.Millisecond})
		})

		It("stops a streaming reply on esc", func() {
			m.input.SetValue("take your time")
			var cmd bubbletea.Cmd
			m, cmd = press(m, bubbletea.KeyEnter)

			done := make(chan bubbletea.Msg, 1)
			go func() { done <- cmd() }()

			Eventually(func() bool {
				return cl.Store().StreamActive(cl.Store().ActiveID())
			}).Should(BeTrue())

			m, _ = press(m, bubbletea.KeyEsc)
			Expect(m.status).To(Equal("Stopping reply"))

			var msg bubbletea.Msg
			Eventually(done).Should(Receive(&msg))
			m = apply(m, msg)
			Expect(m.status).To(Equal("Reply stopped"))
			Expect(cl.Store().StreamActive(cl.Store().ActiveID())).To(BeFalse())
		})
	})
})

var _ = Describe("TUI layout helpers", func() {
	It("keeps the cursor inside the visible window", func() {
		start, end := visibleRange(20, 15, 5)
		Expect(start).To(Equal(13))
		Expect(end).To(Equal(18))

		start, end = visibleRange(3, 2, 10)
		Expect(start).To(Equal(0))
		Expect(end).To(Equal(3))
	})

	It("pads and truncates columns to a fixed height", func() {
		lines := padLines([]string{"a", "bb"}, 3, 3)
		Expect(lines).To(Equal([]string{"a  ", "bb ", "   "}))

		Expect(padLines([]string{"1", "2", "3"}, 1, 2)).To(HaveLen(2))
	})

	It("spreads header parts across the width", func() {
		line := renderHeaderLine(10, "ab", "cd")
		Expect(line).To(Equal("ab      cd"))
	})

	It("exposes help for every binding", func() {
		keys := defaultKeyMap()
		Expect(keys.ShortHelp()).NotTo(BeEmpty())
		Expect(keys.FullHelp()).To(HaveLen(2))
	})
})
