package historycmder_test

import (
	"bytes"
	"context"
	"net"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	historycmder "github.com/papercomputeco/parley/cmd/parley/history"
	"github.com/papercomputeco/parley/pkg/client"
	"github.com/papercomputeco/parley/pkg/credentials"
	"github.com/papercomputeco/parley/pkg/devserver"
	"github.com/papercomputeco/parley/pkg/dispatch"
)

var _ = Describe("history command", func() {
	const token = "history-token"

	var (
		dir    string
		target string
		out    *bytes.Buffer
	)

	run := func(args ...string) error {
		out.Reset()
		cmd := historycmder.NewHistoryCmd()
		cmd.PersistentFlags().String("config-dir", dir, "")
		cmd.PersistentFlags().Bool("debug", false, "")
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(append(args, "--target", target))
		return cmd.Execute()
	}

	BeforeEach(func() {
		srv := devserver.New(devserver.Config{}, nil)
		srv.IssueToken("alice", token)

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		go func() { _ = srv.RunWithListener(ln) }()
		DeferCleanup(func() { _ = srv.Shutdown() })

		target = "http://" + ln.Addr().String()
		dir = GinkgoT().TempDir()
		out = &bytes.Buffer{}

		mgr, err := credentials.NewManager(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.SetToken(target, token, "alice")).To(Succeed())

		seed, err := client.New(&client.Config{Target: target, Token: token, ConfigDir: GinkgoT().TempDir()})
		Expect(err).NotTo(HaveOccurred())
		for _, prompt := range []string{"first question", "second question"} {
			seed.NewSession()
			_, err := seed.Send(context.Background(), dispatch.Request{Prompt: prompt, Model: "llama3"})
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(seed.Close()).To(Succeed())
	})

	It("has list, show and delete subcommands", func() {
		names := []string{}
		for _, sub := range historycmder.NewHistoryCmd().Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ConsistOf("list", "show", "delete"))
	})

	It("lists chats", func() {
		Expect(run("list")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("first question"))
		Expect(out.String()).To(ContainSubstring("second question"))
	})

	It("shows the messages of a chat", func() {
		Expect(run("show", "1")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("first question"))
		Expect(out.String()).To(ContainSubstring("You said: first question"))
	})

	It("deletes a chat", func() {
		Expect(run("delete", "2")).To(Succeed())

		Expect(run("list")).To(Succeed())
		Expect(out.String()).NotTo(ContainSubstring("second question"))
	})

	It("rejects unknown and malformed chat ids", func() {
		Expect(run("show", "99")).To(MatchError(ContainSubstring("chat 99 not found")))
		Expect(run("delete", "abc")).To(MatchError(ContainSubstring("invalid chat id")))
	})
})
