package app_test

import (
	"context"
	"errors"
	"os"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/zalando/go-keyring"

	"github.com/opencode-ai/agentconfig/internal/app"
	"github.com/opencode-ai/agentconfig/internal/config"
	"github.com/opencode-ai/agentconfig/internal/event"
	"github.com/opencode-ai/agentconfig/internal/extension"
	"github.com/opencode-ai/agentconfig/internal/logging"
	"github.com/opencode-ai/agentconfig/internal/permission"
	"github.com/opencode-ai/agentconfig/internal/vault"
)

func noEnv(string) (string, bool) { return "", false }

var _ = Describe("App", func() {
	var (
		ctx     context.Context
		dir     string
		secrets *vault.Memory
		a       *app.App
	)

	open := func() *app.App {
		nop := logging.Nop()
		opened, err := app.Open(ctx, app.Options{
			Config: config.Options{
				Dir:       dir,
				DataDir:   dir,
				Vault:     secrets,
				LookupEnv: noEnv,
			},
			Logger: &nop,
		})
		Expect(err).NotTo(HaveOccurred())
		return opened
	}

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		secrets = vault.NewMemory()
		a = open()
		DeferCleanup(func() { a.Close() })
	})

	Describe("opening an empty directory", func() {
		It("seeds the developer extension", func() {
			entries, err := a.Extensions.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Name).To(Equal(extension.DefaultExtension))
			Expect(entries[0].Enabled).To(BeTrue())
			Expect(entries[0].Required).To(BeTrue())
		})

		It("uses the injected secret backend", func() {
			Expect(a.Store.Degraded()).To(Succeed())
			Expect(a.Store.SecretBackend()).To(Equal(vault.BackendMemory))
		})
	})

	Describe("persistence", func() {
		It("returns every value kind exactly after a restart", func() {
			values := map[string]config.Value{
				"name":    config.String("agent"),
				"retries": config.Int(3),
				"ratio":   config.Float(0.5),
				"whole":   config.Float(2),
				"verbose": config.Bool(true),
				"numeric": config.String("42"),
				"doc":     config.Doc(config.Document{"a": int64(1), "b": []any{"x", true}}),
			}
			for k, v := range values {
				Expect(a.Store.Set(ctx, k, v, config.Plain)).To(Succeed())
			}
			Expect(a.Store.Set(ctx, "token", config.String("s3cret"), config.Secret)).To(Succeed())
			Expect(a.Close()).To(Succeed())

			a = open()
			for k, want := range values {
				got, err := a.Store.Get(ctx, k, config.Plain)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Equal(want)).To(BeTrue(), "key %s: got %s want %s", k, got, want)
				Expect(got.Kind()).To(Equal(want.Kind()))
			}
			token, err := a.Store.Get(ctx, "token", config.Secret)
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal(config.String("s3cret")))
		})

		It("keeps the namespaces apart", func() {
			Expect(a.Store.Set(ctx, "shared", config.String("plain"), config.Plain)).To(Succeed())
			Expect(a.Store.Set(ctx, "hidden", config.String("secret"), config.Secret)).To(Succeed())

			_, err := a.Store.Get(ctx, "hidden", config.Plain)
			Expect(err).To(MatchError(config.ErrNotFound))
			_, err = a.Store.Get(ctx, "shared", config.Secret)
			Expect(err).To(MatchError(config.ErrNotFound))

			raw, err := os.ReadFile(a.Store.Path())
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).NotTo(ContainSubstring("secret"))
		})
	})

	Describe("extension removal", func() {
		BeforeEach(func() {
			Expect(a.Extensions.Add(ctx, extension.Entry{
				Name:    "web",
				Enabled: true,
				EnvKeys: []extension.EnvKey{{Name: "WEB_API_KEY", Secret: true}, {Name: "SHARED_URL"}},
				Launch:  extension.Stdio{Command: "web-server"},
			})).To(Succeed())
			Expect(a.Extensions.Add(ctx, extension.Entry{
				Name:    "search",
				Enabled: true,
				EnvKeys: []extension.EnvKey{{Name: "SHARED_URL"}},
				Launch:  extension.RemoteHTTP{URL: "https://search.example.com/mcp"},
			})).To(Succeed())
			Expect(a.Extensions.UpdateSetting(ctx, "web", "WEB_API_KEY", config.String("k"))).To(Succeed())
			Expect(a.Extensions.UpdateSetting(ctx, "web", "SHARED_URL", config.String("https://x"))).To(Succeed())
			Expect(a.Permissions.SetLevel(ctx, "web", "fetch", permission.AlwaysAllow)).To(Succeed())
		})

		It("deletes unshared settings and permission records", func() {
			Expect(a.Extensions.Remove(ctx, "web")).To(Succeed())

			_, err := a.Store.Get(ctx, "WEB_API_KEY", config.Secret)
			Expect(err).To(MatchError(config.ErrNotFound))
			url, err := a.Store.Get(ctx, "SHARED_URL", config.Plain)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal(config.String("https://x")))

			rec, err := a.Permissions.Records(ctx, "web")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Tools).To(BeEmpty())
			Expect(rec.Default).To(BeEmpty())

			entries, err := a.Extensions.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name)
			}
			Expect(names).To(Equal([]string{extension.DefaultExtension, "search"}))
		})

		It("does not recreate records when a removed extension calls a tool", func() {
			Expect(a.Extensions.Remove(ctx, "web")).To(Succeed())

			d, err := a.Permissions.Decide(ctx, "web", "fetch")
			Expect(err).NotTo(HaveOccurred())
			Expect(d).To(Equal(permission.DecisionRequireConfirmation))

			exists, err := a.Store.Exists(ctx, "permissions.web", config.Plain)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())

			_, err = a.Permissions.Decide(ctx, "search", "query")
			Expect(err).NotTo(HaveOccurred())
			exists, err = a.Store.Exists(ctx, "permissions.search", config.Plain)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())
		})

		It("refuses settings that would address another extension's entry", func() {
			err := a.Extensions.Add(ctx, extension.Entry{
				Name:    "hijack",
				EnvKeys: []extension.EnvKey{{Name: "extensions.search"}},
				Launch:  extension.Builtin{},
			})
			Expect(err).To(MatchError(config.ErrInvalidValue))

			Expect(a.Extensions.Remove(ctx, "web")).To(Succeed())
			search, err := a.Extensions.Get(ctx, "search")
			Expect(err).NotTo(HaveOccurred())
			Expect(search.Enabled).To(BeTrue())
		})
	})

	Describe("the protected developer extension", func() {
		It("refuses removal and disabling", func() {
			before, err := a.Store.Dump(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(a.Extensions.Remove(ctx, extension.DefaultExtension)).To(MatchError(config.ErrProtectedExtension))
			Expect(a.Extensions.Disable(ctx, extension.DefaultExtension)).To(MatchError(config.ErrProtectedExtension))

			after, err := a.Store.Dump(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(after).To(Equal(before))
		})
	})

	Describe("permissions", func() {
		It("prefers the extension-wide record over the default", func() {
			Expect(a.Permissions.SetLevel(ctx, "web", "", permission.AlwaysAllow)).To(Succeed())
			level, err := a.Permissions.Level(ctx, "web", "toolX")
			Expect(err).NotTo(HaveOccurred())
			Expect(level).To(Equal(permission.AlwaysAllow))
		})

		It("asks once per session", func() {
			d, err := a.Permissions.Decide(ctx, "web", "fetch")
			Expect(err).NotTo(HaveOccurred())
			Expect(d).To(Equal(permission.DecisionRequireConfirmation))

			d, err = a.Permissions.Decide(ctx, "web", "fetch")
			Expect(err).NotTo(HaveOccurred())
			Expect(d).To(Equal(permission.DecisionAllow))

			Expect(a.Close()).To(Succeed())
			a = open()
			d, err = a.Permissions.Decide(ctx, "web", "fetch")
			Expect(err).NotTo(HaveOccurred())
			Expect(d).To(Equal(permission.DecisionRequireConfirmation))
		})

		It("always asks for ask_every_time", func() {
			Expect(a.Extensions.Add(ctx, extension.Entry{
				Name:    "web",
				Enabled: true,
				EnvKeys: []extension.EnvKey{{Name: "WEB_API_KEY", Secret: true}},
				Launch:  extension.Builtin{},
			})).To(Succeed())
			Expect(a.Permissions.SetLevel(ctx, "web", "", permission.AskEveryTime)).To(Succeed())

			for range 5 {
				d, err := a.Permissions.Decide(ctx, "web", "fetch")
				Expect(err).NotTo(HaveOccurred())
				Expect(d).To(Equal(permission.DecisionRequireConfirmation))
			}
			Expect(a.Permissions.Asked("web", "fetch")).To(BeFalse())
		})

		It("denies when the store cannot be read", func() {
			Expect(a.Store.Set(ctx, "provider", config.String("openrouter"), config.Plain)).To(Succeed())
			Expect(a.Store.Set(ctx, "model", config.String("m"), config.Plain)).To(Succeed())
			garbage := []byte("provider: [unterminated\n")
			Expect(os.WriteFile(a.Store.Path(), garbage, 0o600)).To(Succeed())
			Expect(os.WriteFile(a.Store.Path()+".bak", garbage, 0o600)).To(Succeed())

			d, err := a.Permissions.Decide(ctx, "web", "fetch")
			Expect(err).To(MatchError(config.ErrPersistence))
			Expect(d).To(Equal(permission.DecisionDeny))
			Expect(a.Permissions.Authorize(ctx, "web", "fetch")).To(Equal(permission.DecisionDeny))
		})
	})

	Describe("provider sign-up", func() {
		It("stores the key as a secret and selects the provider", func() {
			Expect(a.Signup.ConfigureProvider(ctx, "openrouter", "sk-or-1", "anthropic/claude-sonnet-4")).To(Succeed())

			key, err := a.Store.Get(ctx, "OPENROUTER_API_KEY", config.Secret)
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal(config.String("sk-or-1")))
			provider, err := a.Store.Get(ctx, "provider", config.Plain)
			Expect(err).NotTo(HaveOccurred())
			Expect(provider).To(Equal(config.String("openrouter")))
		})
	})

	Describe("events", func() {
		It("reports extension toggles on the bus", func() {
			var (
				mu  sync.Mutex
				got []event.ExtensionData
			)
			unsubscribe := a.Bus.Subscribe(event.ExtensionToggled, func(e event.Event) {
				mu.Lock()
				defer mu.Unlock()
				got = append(got, e.Data.(event.ExtensionData))
			})
			defer unsubscribe()

			Expect(a.Extensions.Add(ctx, extension.Entry{Name: "web", Launch: extension.Builtin{}})).To(Succeed())
			_, err := a.Extensions.Enable(ctx, "web")
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() []event.ExtensionData {
				mu.Lock()
				defer mu.Unlock()
				return append([]event.ExtensionData(nil), got...)
			}).Should(ContainElement(event.ExtensionData{Name: "web", Enabled: true}))
		})
	})
})

var _ = Describe("App without a keyring", func() {
	BeforeEach(func() {
		keyring.MockInitWithError(errors.New("no secret service"))
		DeferCleanup(keyring.MockInit)
	})

	It("falls back to the encrypted file and reports it", func() {
		ctx := context.Background()
		dir := GinkgoT().TempDir()
		nop := logging.Nop()

		a, err := app.Open(ctx, app.Options{
			Config:               config.Options{Dir: dir, DataDir: dir, LookupEnv: noEnv},
			RequireSecureStorage: true,
			Logger:               &nop,
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { a.Close() })

		Expect(a.Store.Degraded()).To(MatchError(config.ErrDegradedSecretStorage))
		Expect(a.Store.SecretBackend()).To(Equal(vault.BackendFile))
		Expect(a.Signup.StoreProviderSecret(ctx, "openrouter", "sk")).To(MatchError(config.ErrDegradedSecretStorage))

		Expect(a.Store.Set(ctx, "token", config.String("t"), config.Secret)).To(Succeed())
		Expect(a.Store.Close()).To(Succeed())
	})
})
