// Package cmd implements the cxlogin command line.
package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/router-for-me/cxlogin/internal/auth"
	"github.com/router-for-me/cxlogin/internal/buildinfo"
	"github.com/router-for-me/cxlogin/internal/config"
	"github.com/router-for-me/cxlogin/internal/logging"
	"github.com/router-for-me/cxlogin/internal/util"
	sdkauth "github.com/router-for-me/cxlogin/sdk/auth"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Options configures the root command.
type Options struct {
	ConfigPath string
	Out        io.Writer
	Err        io.Writer
	// LookupEnv reads proxy variables; defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// SkipDotEnv disables loading .env from the working directory.
	SkipDotEnv bool
}

type runtimeState struct {
	opts Options

	configPath      string
	cfg             *config.Config
	proxyURL        string
	proxyAuthType   string
	proxyNTLMDomain string
	variant         string
	noBrowser       bool
	debug           bool
}

type runtimeKey struct{}

// DefaultOptions returns the options used by the cxlogin binary.
func DefaultOptions() Options {
	return Options{
		ConfigPath: util.DefaultConfigPath(),
		Out:        os.Stdout,
		Err:        os.Stderr,
		LookupEnv:  os.LookupEnv,
	}
}

// NewRootCommand builds the cxlogin command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	rt := &runtimeState{opts: opts, configPath: opts.ConfigPath}

	root := &cobra.Command{
		Use:           "cxlogin",
		Short:         "Browser login for the scanning platform",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.load()
		},
	}
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)

	flags := root.PersistentFlags()
	flags.StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	flags.StringVar(&rt.proxyURL, "proxy", "", "Proxy URL, overrides the environment and the config file")
	flags.StringVar(&rt.proxyAuthType, "proxy-auth-type", "", "Proxy authentication type: basic or ntlm")
	flags.StringVar(&rt.proxyNTLMDomain, "proxy-ntlm-domain", "", "Windows domain for NTLM proxy authentication")
	flags.StringVar(&rt.variant, "variant", "", "Product variant whose credential is used")
	flags.BoolVar(&rt.noBrowser, "no-browser", false, "Print the login URL instead of opening a browser")
	flags.BoolVar(&rt.debug, "debug", false, "Enable debug logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))
	root.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newStatusCommand(),
		newTokenCommand(),
		newSetKeyCommand(),
		newWatchCommand(),
	)
	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// load reads .env and the config file and applies the CLI overrides.
func (rt *runtimeState) load() error {
	if !rt.opts.SkipDotEnv {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Debugf("failed to load .env: %v", err)
		}
	}

	path, err := util.ResolvePath(strings.TrimSpace(rt.configPath))
	if err != nil {
		return err
	}
	rt.configPath = path
	cfg, err := config.LoadConfigOptional(path, true)
	if err != nil {
		return err
	}

	proxy, err := config.ResolveProxy(rt.opts.LookupEnv, cfg.ProxyConfig, config.ProxyConfig{
		ProxyURL:        rt.proxyURL,
		ProxyAuthType:   rt.proxyAuthType,
		ProxyNTLMDomain: rt.proxyNTLMDomain,
	})
	if err != nil {
		return err
	}
	cfg.ProxyConfig = proxy
	if v := strings.TrimSpace(rt.variant); v != "" {
		cfg.ProductVariant = v
	}
	if rt.debug {
		cfg.Debug = true
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		return err
	}
	if proxy.Enabled() {
		log.Debugf("using proxy %s", proxy.Redacted())
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) notifier() terminalNotifier {
	return terminalNotifier{out: rt.opts.Out, err: rt.opts.Err}
}

func (rt *runtimeState) authenticator() (*sdkauth.Authenticator, error) {
	notifier := rt.notifier()
	return sdkauth.NewAuthenticator(sdkauth.Options{
		Config:    rt.cfg,
		Browser:   clipboardBrowser{notifier: notifier},
		Notifier:  notifier,
		NoBrowser: rt.noBrowser,
		Output:    rt.opts.Out,
	})
}

// requireRealm reports a missing base URI or tenant as invalid input.
func requireRealm(baseURI, tenant string) error {
	var missing []string
	if strings.TrimSpace(baseURI) == "" {
		missing = append(missing, "base URI (--base-uri or base-uri)")
	}
	if strings.TrimSpace(tenant) == "" {
		missing = append(missing, "tenant (--tenant or tenant)")
	}
	if len(missing) > 0 {
		return auth.Newf(auth.KindInvalidInput, "missing %s", strings.Join(missing, " and "))
	}
	return nil
}
