package credentials_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/parley/pkg/credentials"
)

const target = "http://localhost:8080"

var _ = Describe("Manager", func() {
	var (
		tmpDir string
		mgr    *credentials.Manager
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "credentials-test-*")
		Expect(err).NotTo(HaveOccurred())

		mgr, err = credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		// Keep a developer's PARLEY_TOKEN out of the tests.
		if prev, ok := os.LookupEnv(credentials.TokenEnvVar); ok {
			Expect(os.Unsetenv(credentials.TokenEnvVar)).To(Succeed())
			DeferCleanup(func() { os.Setenv(credentials.TokenEnvVar, prev) })
		}
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("NewManager", func() {
		It("creates a manager with an override directory", func() {
			Expect(mgr.GetTarget()).To(Equal(filepath.Join(tmpDir, "credentials.toml")))
		})
	})

	Describe("Load", func() {
		It("returns empty credentials when no file exists", func() {
			creds, err := mgr.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(creds).NotTo(BeNil())
			Expect(creds.Backends).To(BeEmpty())
		})

		It("loads existing credentials", func() {
			data := `version = 0

[backends."http://localhost:8080"]
token = "tok-123"
username = "ada"
`
			err := os.WriteFile(filepath.Join(tmpDir, "credentials.toml"), []byte(data), 0o600)
			Expect(err).NotTo(HaveOccurred())

			creds, err := mgr.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(creds.Backends).To(HaveKey(target))
			Expect(creds.Backends[target].Token).To(Equal("tok-123"))
			Expect(creds.Backends[target].Username).To(Equal("ada"))
		})

		It("returns error for malformed TOML", func() {
			err := os.WriteFile(filepath.Join(tmpDir, "credentials.toml"), []byte("not valid [[["), 0o600)
			Expect(err).NotTo(HaveOccurred())

			creds, err := mgr.Load()
			Expect(err).To(HaveOccurred())
			Expect(creds).To(BeNil())
		})
	})

	Describe("Save", func() {
		It("persists credentials to disk with restricted permissions", func() {
			err := mgr.Save(&credentials.Credentials{
				Backends: map[string]credentials.BackendCredential{
					target: {Token: "tok"},
				},
			})
			Expect(err).NotTo(HaveOccurred())

			info, err := os.Stat(filepath.Join(tmpDir, "credentials.toml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))
		})

		It("returns error for nil credentials", func() {
			Expect(mgr.Save(nil)).To(HaveOccurred())
		})
	})

	Describe("SetToken", func() {
		It("stores a token per backend", func() {
			Expect(mgr.SetToken(target, "tok-a", "ada")).To(Succeed())
			Expect(mgr.SetToken("https://chat.example.com", "tok-b", "bob")).To(Succeed())

			tok, err := mgr.Token(target)
			Expect(err).NotTo(HaveOccurred())
			Expect(tok).To(Equal("tok-a"))

			bc, ok, err := mgr.Get("https://chat.example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(bc.Username).To(Equal("bob"))
		})

		It("treats a trailing slash as the same backend", func() {
			Expect(mgr.SetToken(target+"/", "tok", "")).To(Succeed())

			tok, err := mgr.Token(target)
			Expect(err).NotTo(HaveOccurred())
			Expect(tok).To(Equal("tok"))
		})

		It("overwrites an existing token", func() {
			Expect(mgr.SetToken(target, "old", "")).To(Succeed())
			Expect(mgr.SetToken(target, "new", "")).To(Succeed())

			tok, err := mgr.Token(target)
			Expect(err).NotTo(HaveOccurred())
			Expect(tok).To(Equal("new"))
		})
	})

	Describe("Token", func() {
		It("returns empty string for an unknown backend", func() {
			tok, err := mgr.Token("http://nowhere")
			Expect(err).NotTo(HaveOccurred())
			Expect(tok).To(BeEmpty())
		})

		It("prefers the environment override", func() {
			Expect(mgr.SetToken(target, "stored", "")).To(Succeed())
			Expect(os.Setenv(credentials.TokenEnvVar, "from-env")).To(Succeed())
			DeferCleanup(func() { os.Unsetenv(credentials.TokenEnvVar) })

			tok, err := mgr.Token(target)
			Expect(err).NotTo(HaveOccurred())
			Expect(tok).To(Equal("from-env"))
		})
	})

	Describe("Remove", func() {
		It("removes an existing token", func() {
			Expect(mgr.SetToken(target, "tok", "")).To(Succeed())
			Expect(mgr.Remove(target)).To(Succeed())

			_, ok, err := mgr.Get(target)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("is a no-op for an unknown backend", func() {
			Expect(mgr.Remove("http://nowhere")).To(Succeed())
		})
	})

	Describe("ListTargets", func() {
		It("returns stored backends in sorted order", func() {
			Expect(mgr.SetToken("https://b.example.com", "1", "")).To(Succeed())
			Expect(mgr.SetToken("https://a.example.com", "2", "")).To(Succeed())

			targets, err := mgr.ListTargets()
			Expect(err).NotTo(HaveOccurred())
			Expect(targets).To(Equal([]string{"https://a.example.com", "https://b.example.com"}))
		})
	})
})
