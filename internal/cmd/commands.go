package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/router-for-me/cxlogin/internal/auth"
	"github.com/router-for-me/cxlogin/internal/config"
	"github.com/router-for-me/cxlogin/internal/credential"
	"github.com/router-for-me/cxlogin/internal/watcher"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newLoginCommand() *cobra.Command {
	var baseURI, tenant string
	var save bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in through the browser",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if baseURI == "" {
				baseURI = rt.cfg.BaseURI
			}
			if tenant == "" {
				tenant = rt.cfg.Tenant
			}
			if err = requireRealm(baseURI, tenant); err != nil {
				return err
			}

			authenticator, err := rt.authenticator()
			if err != nil {
				return err
			}
			if _, err = authenticator.Authenticate(cmd.Context(), baseURI, tenant); err != nil {
				return err
			}

			if save {
				rt.cfg.BaseURI = strings.TrimRight(strings.TrimSpace(baseURI), "/")
				rt.cfg.Tenant = strings.TrimSpace(tenant)
				if err = config.SaveConfig(rt.configPath, rt.cfg); err != nil {
					return err
				}
				log.Debugf("saved base URI and tenant to %s", rt.configPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURI, "base-uri", "", "Platform base URI, overrides the config file")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant name, overrides the config file")
	cmd.Flags().BoolVar(&save, "save", false, "Store base URI and tenant in the config file after login")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			authenticator, err := rt.authenticator()
			if err != nil {
				return err
			}
			if err = authenticator.Logout(); err != nil {
				return err
			}
			rt.notifier().Info("Logged out.")
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Validate the stored credential and show the feature flags",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			authenticator, err := rt.authenticator()
			if err != nil {
				return err
			}
			valid, err := authenticator.ValidateAndUpdateState(cmd.Context())
			if err != nil {
				return err
			}

			out := rt.opts.Out
			_, _ = fmt.Fprintf(out, "%s %s\n", label("Tenant"), valueOrDash(rt.cfg.Tenant))
			_, _ = fmt.Fprintf(out, "%s %s\n", label("Base URI"), valueOrDash(rt.cfg.BaseURI))
			_, _ = fmt.Fprintf(out, "%s %s\n", label("Keychain"), credential.Namespace(rt.cfg.ProductVariant))
			if !valid {
				_, _ = fmt.Fprintf(out, "%s %s\n", label("Status"), "not logged in")
				return nil
			}
			_, _ = fmt.Fprintf(out, "%s %s\n", label("Status"), "logged in")
			for _, key := range rt.cfg.FeatureFlags {
				value, _ := authenticator.Flags().Peek(key)
				_, _ = fmt.Fprintf(out, "  %s=%t\n", key, value)
			}
			return nil
		},
	}
}

func newTokenCommand() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the stored credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			authenticator, err := rt.authenticator()
			if err != nil {
				return err
			}
			cred, found, err := authenticator.GetToken()
			if err != nil {
				return err
			}
			if !found {
				return errors.New("not logged in")
			}
			if reveal {
				_, _ = fmt.Fprintln(rt.opts.Out, string(cred))
			} else {
				_, _ = fmt.Fprintln(rt.opts.Out, cred.String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print the secret value instead of a placeholder")
	return cmd
}

func newSetKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key [api-key]",
		Short: "Validate and store an API key instead of logging in",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				key, err = readKey(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			if strings.TrimSpace(key) == "" {
				return auth.New(auth.KindInvalidInput, "API key is empty")
			}

			authenticator, err := rt.authenticator()
			if err != nil {
				return err
			}
			if err = authenticator.SaveAPIKey(cmd.Context(), key); err != nil {
				return err
			}
			rt.notifier().Info("API key stored.")
			return nil
		},
	}
}

func readKey(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-validate the credential whenever the config file changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			authenticator, err := rt.authenticator()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			notifier := rt.notifier()
			report := func() {
				valid, errValidate := authenticator.ValidateAndUpdateState(ctx)
				switch {
				case errValidate != nil:
					notifier.Error(auth.UserMessage(errValidate))
				case valid:
					notifier.Info("Credential is valid.")
				default:
					notifier.Info("Not logged in.")
				}
			}

			w, err := watcher.NewWatcher(rt.configPath, func(cfg *config.Config) {
				cfg.ProxyConfig = rt.cfg.ProxyConfig
				authenticator.UpdateConfig(cfg)
				report()
			})
			if err != nil {
				return err
			}
			w.SetConfig(rt.cfg)
			if err = w.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = w.Stop() }()

			report()
			<-ctx.Done()
			return nil
		},
	}
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
