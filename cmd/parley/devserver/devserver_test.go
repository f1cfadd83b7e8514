package devservercmder_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	devservercmder "github.com/papercomputeco/parley/cmd/parley/devserver"
)

var _ = Describe("NewDevserverCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := devservercmder.NewDevserverCmd()
		Expect(cmd.Use).To(Equal("devserver"))
	})

	It("registers the listen and chunk delay flags with config defaults", func() {
		cmd := devservercmder.NewDevserverCmd()

		listen := cmd.Flags().Lookup("listen")
		Expect(listen).NotTo(BeNil())
		Expect(listen.Shorthand).To(Equal("l"))
		Expect(listen.DefValue).To(Equal(":8080"))

		Expect(cmd.Flags().Lookup("chunk-delay").DefValue).To(Equal("40ms"))
		Expect(cmd.Flags().Lookup("user")).NotTo(BeNil())
	})

	It("rejects malformed --user pairs", func() {
		cmd := devservercmder.NewDevserverCmd()
		cmd.PersistentFlags().String("config-dir", GinkgoT().TempDir(), "")
		cmd.PersistentFlags().Bool("debug", false, "")
		cmd.SetArgs([]string{"--user", "alice", "--listen", "127.0.0.1:0"})

		Expect(cmd.Execute()).To(MatchError(ContainSubstring("want name:token")))
	})
})
