package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	cxauth "github.com/router-for-me/cxlogin/internal/auth"
	"github.com/router-for-me/cxlogin/internal/auth/connectivity"
	"github.com/router-for-me/cxlogin/internal/auth/iam"
	"github.com/router-for-me/cxlogin/internal/auth/loopback"
	"github.com/router-for-me/cxlogin/internal/auth/pkce"
	"github.com/router-for-me/cxlogin/internal/browser"
	"github.com/router-for-me/cxlogin/internal/config"
	"github.com/router-for-me/cxlogin/internal/credential"
	"github.com/router-for-me/cxlogin/internal/util"
	log "github.com/sirupsen/logrus"
)

// Options wires the collaborators of an Authenticator. Nil fields select the
// production implementations derived from Config.
type Options struct {
	Config    *config.Config
	Validator ConnectivityValidator
	Ports     PortAllocator
	IAM       IdentityProvider
	Store     *credential.Store
	Browser   BrowserOpener
	Notifier  Notifier

	// NoBrowser prints the authorization URL instead of launching a browser.
	NoBrowser bool
	// Output receives the printed URL and tunnel instructions; defaults to stdout.
	Output io.Writer
	// ServerOptions adjusts the callback server of each flow.
	ServerOptions func(*loopback.ServerOptions)
}

type pendingFlow struct {
	id     string
	server *loopback.CallbackServer
}

type session struct {
	realm       iam.Realm
	accessToken string
}

// Authenticator runs the browser login and owns the stored credential and the
// flags derived from it. At most one flow is pending at any time.
type Authenticator struct {
	cfg       *config.Config
	validator ConnectivityValidator
	ports     PortAllocator
	iam       IdentityProvider
	store     *credential.Store
	flags     *credential.FlagCache
	browser   BrowserOpener
	notifier  Notifier
	noBrowser bool
	output    io.Writer
	serverOpt func(*loopback.ServerOptions)

	mu      sync.Mutex
	pending *pendingFlow
	realm   iam.Realm
	session *session
	flagSet []string
}

// NewAuthenticator builds an Authenticator.
func NewAuthenticator(opts Options) (*Authenticator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
		cfg.ApplyDefaults()
	}

	a := &Authenticator{
		cfg:       cfg,
		validator: opts.Validator,
		ports:     opts.Ports,
		iam:       opts.IAM,
		store:     opts.Store,
		browser:   opts.Browser,
		notifier:  opts.Notifier,
		noBrowser: opts.NoBrowser,
		output:    opts.Output,
		serverOpt: opts.ServerOptions,
		realm:     iam.Realm{BaseURI: cfg.BaseURI, Tenant: cfg.Tenant},
		flagSet:   append([]string(nil), cfg.FeatureFlags...),
	}

	if a.validator == nil {
		validator, err := connectivity.NewValidator(cfg.ProxyConfig, nil)
		if err != nil {
			return nil, err
		}
		a.validator = validator
	}
	if a.ports == nil {
		a.ports = &loopback.PortAllocator{}
	}
	if a.iam == nil {
		client, err := iam.NewClient(iam.ClientOptions{Proxy: cfg.ProxyConfig, ClientID: cfg.ClientID})
		if err != nil {
			return nil, err
		}
		a.iam = client
	}
	if a.store == nil {
		a.store = credential.NewStore(nil, cfg.ProductVariant)
	}
	if a.browser == nil {
		a.browser = browser.Opener{}
	}
	if a.notifier == nil {
		a.notifier = logNotifier{}
	}
	if a.output == nil {
		a.output = os.Stdout
	}
	a.flags = credential.NewFlagCache(a.store, a.resolveFlag)
	return a, nil
}

// Authenticate runs the full browser login against baseURI and tenant and
// returns the stored credential. Starting a new flow closes any pending one,
// whose caller then receives ErrSuperseded.
func (a *Authenticator) Authenticate(ctx context.Context, baseURI, tenant string) (credential.Credential, error) {
	flowID := uuid.NewString()
	logger := log.WithField("flow", flowID)
	a.replacePending(nil)

	logger.Infof("starting login for tenant %q at %s", strings.TrimSpace(tenant), strings.TrimSpace(baseURI))
	if result := a.validator.Validate(ctx, baseURI, tenant); !result.Valid {
		return "", a.failEarly(logger, result.Err)
	}

	port, err := a.ports.Allocate(ctx)
	if err != nil {
		return "", a.failEarly(logger, err)
	}
	codes, err := pkce.Generate()
	if err != nil {
		return "", a.failEarly(logger, cxauth.Wrap(cxauth.KindUnknown, "PKCE generation failed", err))
	}

	serverOpts := loopback.ServerOptions{Port: port, Timeout: a.cfg.CallbackTimeout()}
	if a.serverOpt != nil {
		a.serverOpt(&serverOpts)
	}
	server := loopback.NewCallbackServer(serverOpts)
	if err = server.Start(); err != nil {
		return "", a.failEarly(logger, err)
	}
	flow := &pendingFlow{id: flowID, server: server}
	a.replacePending(flow)
	defer func() {
		a.releasePending(flow)
		if errClose := server.Close(); errClose != nil {
			logger.Debugf("callback server close error: %v", errClose)
		}
	}()

	flowCfg := iam.NewFlowConfig(a.cfg, baseURI, tenant, server.Port(), *codes)
	authURL := iam.BuildAuthURL(flowCfg)
	a.presentURL(logger, authURL, server.Port())

	logger.Debugf("waiting for login callback on port %d", server.Port())
	callback, err := server.Wait(ctx)
	if err != nil {
		if errors.Is(err, cxauth.ErrSuperseded) {
			logger.Info("login flow superseded by a newer attempt")
			return "", err
		}
		logger.Warnf("login callback failed: %v", err)
		a.notifier.Error(cxauth.UserMessage(err))
		return "", err
	}

	cred, err := a.completeFlow(ctx, logger, flow, flowCfg, callback.Code)
	if err != nil {
		if errors.Is(err, cxauth.ErrSuperseded) {
			return "", err
		}
		logger.Warnf("login failed after callback: %v", err)
		if errPage := callback.Response.Fail(err); errPage != nil {
			logger.Debugf("failed to write error page: %v", errPage)
		}
		return "", err
	}

	if errPage := callback.Response.Complete(loopback.SuccessPage()); errPage != nil {
		logger.Debugf("failed to write success page: %v", errPage)
	}
	a.notifier.Info(fmt.Sprintf("Logged in to tenant %s.", flowCfg.Tenant))
	logger.Info("login completed")
	return cred, nil
}

// completeFlow exchanges the code, persists the credential and validates it.
// Nothing is persisted once the flow has been superseded.
func (a *Authenticator) completeFlow(ctx context.Context, logger *log.Entry, flow *pendingFlow, flowCfg iam.FlowConfig, code string) (credential.Credential, error) {
	token, err := a.iam.ExchangeCode(ctx, code, flowCfg)
	if err != nil {
		return "", err
	}
	if !a.isCurrent(flow) {
		logger.Info("discarding tokens of a superseded login flow")
		return "", cxauth.New(cxauth.KindSuperseded, "login flow was replaced before completion")
	}

	cred := credential.Credential(token.RefreshToken)
	if err = a.store.Set(cred); err != nil {
		return "", err
	}

	a.setRealm(flowCfg.Realm())
	valid, err := a.ValidateAndUpdateState(ctx)
	if err == nil && !valid {
		err = cxauth.New(cxauth.KindValidationFailed, "the identity provider rejected the new credential")
	}
	if err != nil {
		if errDelete := a.store.Delete(); errDelete != nil {
			logger.Warnf("failed to roll back unvalidated credential: %v", errDelete)
		}
		a.clearState()
		return "", err
	}
	return cred, nil
}

// ValidateAndUpdateState checks the stored credential remotely and recomputes
// the configured feature flags. Without a credential it clears all flags and
// returns false without any remote call.
func (a *Authenticator) ValidateAndUpdateState(ctx context.Context) (bool, error) {
	cred, found, err := a.store.Get()
	if err != nil {
		return false, err
	}
	if !found {
		a.clearState()
		return false, nil
	}

	result, err := a.iam.Introspect(ctx, string(cred), a.currentRealm())
	a.flags.Invalidate()
	if err != nil {
		a.setSession(nil)
		return false, err
	}
	if !result.Valid {
		a.setSession(nil)
		log.Info("stored credential is no longer valid")
		return false, nil
	}

	a.setSession(&session{realm: result.Realm, accessToken: result.AccessToken})
	a.refreshFlags(ctx)
	return true, nil
}

// ValidateAPIKey reports whether the identity provider accepts token.
func (a *Authenticator) ValidateAPIKey(ctx context.Context, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	result, err := a.iam.Introspect(ctx, strings.TrimSpace(token), a.currentRealm())
	if err != nil {
		return false, err
	}
	return result.Valid, nil
}

// SaveAPIKey validates a manually entered API key and stores it in place of
// the current credential.
func (a *Authenticator) SaveAPIKey(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	valid, err := a.ValidateAPIKey(ctx, token)
	if err != nil {
		return err
	}
	if !valid {
		return cxauth.New(cxauth.KindValidationFailed, "the API key was rejected by the identity provider")
	}
	if err = a.store.Set(credential.Credential(token)); err != nil {
		return err
	}
	_, err = a.ValidateAndUpdateState(ctx)
	return err
}

// GetToken returns the stored credential, if any.
func (a *Authenticator) GetToken() (credential.Credential, bool, error) {
	return a.store.Get()
}

// Logout deletes the credential, clears every cached flag and returns to the
// configured realm.
func (a *Authenticator) Logout() error {
	a.replacePending(nil)
	if err := a.store.Delete(); err != nil {
		return err
	}
	a.clearState()
	a.setRealm(iam.Realm{BaseURI: a.cfg.BaseURI, Tenant: a.cfg.Tenant})
	log.Info("logged out")
	return nil
}

// Flag returns a feature flag of the current tenant.
func (a *Authenticator) Flag(ctx context.Context, key string) (bool, error) {
	return a.flags.Get(ctx, key)
}

// Flags exposes the flag cache for read-only gating.
func (a *Authenticator) Flags() *credential.FlagCache {
	return a.flags
}

// Pending reports whether a login flow is waiting for its callback.
func (a *Authenticator) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil && a.pending.server.IsListening()
}

// UpdateConfig applies a reloaded configuration. A change of base URI or
// tenant invalidates the cached flags.
func (a *Authenticator) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	next := iam.Realm{BaseURI: cfg.BaseURI, Tenant: cfg.Tenant}
	a.mu.Lock()
	changed := next != a.realm
	a.realm = next
	a.flagSet = append([]string(nil), cfg.FeatureFlags...)
	if changed {
		a.session = nil
	}
	a.mu.Unlock()
	if changed {
		log.Infof("tenant settings changed to %q at %s", next.Tenant, next.BaseURI)
		a.flags.Invalidate()
	}
}

func (a *Authenticator) resolveFlag(ctx context.Context, key string) (bool, error) {
	s := a.currentSession()
	if s == nil {
		cred, found, err := a.store.Get()
		if err != nil || !found {
			return false, err
		}
		result, err := a.iam.Introspect(ctx, string(cred), a.currentRealm())
		if err != nil {
			return false, err
		}
		if !result.Valid {
			return false, nil
		}
		s = &session{realm: result.Realm, accessToken: result.AccessToken}
		a.setSession(s)
	}
	return a.iam.FeatureFlag(ctx, s.realm, s.accessToken, key)
}

func (a *Authenticator) refreshFlags(ctx context.Context) {
	a.mu.Lock()
	keys := append([]string(nil), a.flagSet...)
	a.mu.Unlock()
	for _, key := range keys {
		if _, err := a.flags.Get(ctx, key); err != nil {
			log.Warnf("feature flag %s could not be refreshed: %v", key, err)
		}
	}
}

func (a *Authenticator) presentURL(logger *log.Entry, authURL string, port int) {
	if !a.noBrowser {
		err := a.browser.Open(authURL)
		if err == nil {
			a.notifier.Info("Continue the login in your browser.")
			return
		}
		logger.Warnf("failed to open browser automatically: %v", err)
	}
	util.PrintSSHTunnelInstructions(a.output, port)
	_, _ = fmt.Fprintf(a.output, "Visit the following URL to continue authentication:\n%s\n", authURL)
}

func (a *Authenticator) failEarly(logger *log.Entry, err error) error {
	logger.Warnf("login aborted: %v", err)
	a.notifier.Error(cxauth.UserMessage(err))
	return err
}

// replacePending installs next as the pending flow and closes the previous one.
func (a *Authenticator) replacePending(next *pendingFlow) {
	a.mu.Lock()
	prev := a.pending
	a.pending = next
	a.mu.Unlock()
	if prev != nil && prev != next {
		log.WithField("flow", prev.id).Debug("closing pending login flow")
		if err := prev.server.Close(); err != nil {
			log.Debugf("pending callback server close error: %v", err)
		}
	}
}

func (a *Authenticator) releasePending(flow *pendingFlow) {
	a.mu.Lock()
	if a.pending == flow {
		a.pending = nil
	}
	a.mu.Unlock()
}

func (a *Authenticator) isCurrent(flow *pendingFlow) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending == flow
}

func (a *Authenticator) currentRealm() iam.Realm {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realm
}

func (a *Authenticator) setRealm(realm iam.Realm) {
	a.mu.Lock()
	a.realm = realm
	a.mu.Unlock()
}

func (a *Authenticator) currentSession() *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *Authenticator) setSession(s *session) {
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
}

func (a *Authenticator) clearState() {
	a.setSession(nil)
	a.flags.Invalidate()
}

// logNotifier is used when no Notifier is configured.
type logNotifier struct{}

func (logNotifier) Info(message string)  { log.Info(message) }
func (logNotifier) Error(message string) { log.Error(message) }
