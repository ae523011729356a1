// Package browser opens the authorization URL in the user's default browser
// and falls back to the clipboard when no browser can be launched.
package browser

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// linuxBrowsers are tried in order when xdg integration is missing.
var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// ErrNoBrowser is returned when neither a browser nor the clipboard is usable.
var ErrNoBrowser = errors.New("browser: no way to open the URL")

// Opener launches URLs. The zero value uses the real system integrations.
type Opener struct {
	// Run opens a URL through the desktop integration.
	Run func(url string) error
	// Fallback opens a URL through OS specific commands.
	Fallback func(url string) error
	// Copy writes text to the clipboard.
	Copy func(text string) error
	// Available reports whether any launcher exists; defaults to IsAvailable.
	Available func() bool
}

// Open tries the desktop integration, then the platform commands.
func (o Opener) Open(url string) error {
	run := o.Run
	if run == nil {
		run = open.Run
	}
	err := run(url)
	if err == nil {
		log.Debug("opened authorization URL using open-golang")
		return nil
	}
	log.Debugf("open-golang failed: %v, trying platform-specific commands", err)

	fallback := o.Fallback
	if fallback == nil {
		fallback = openURLPlatformSpecific
	}
	if errFallback := fallback(url); errFallback != nil {
		return fmt.Errorf("failed to open browser: %w", errFallback)
	}
	return nil
}

// OpenOrCopy opens url and, when that fails, copies it to the clipboard.
// copied reports whether the clipboard fallback was used.
// Launching is skipped when no launcher is installed.
func (o Opener) OpenOrCopy(url string) (copied bool, err error) {
	available := o.Available
	if available == nil {
		available = IsAvailable
	}
	var errOpen error
	if available() {
		if errOpen = o.Open(url); errOpen == nil {
			return false, nil
		}
	} else {
		errOpen = errors.New("no browser launcher installed")
		log.Debug("no browser launcher found, skipping launch")
	}
	copyText := o.Copy
	if copyText == nil {
		copyText = clipboard.WriteAll
	}
	if errCopy := copyText(url); errCopy != nil {
		log.Debugf("clipboard unavailable: %v", errCopy)
		return false, fmt.Errorf("%w: %v", ErrNoBrowser, errOpen)
	}
	log.Debug("authorization URL copied to clipboard")
	return true, nil
}

func openURLPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		for _, browser := range linuxBrowsers {
			if _, err := exec.LookPath(browser); err == nil {
				cmd = exec.Command(browser, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("no suitable browser found on Linux system")
		}
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	log.Debugf("running command: %s", cmd.Path)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	return nil
}

// IsAvailable reports whether a browser launcher exists on this system.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin":
		_, err := exec.LookPath("open")
		return err == nil
	case "windows":
		_, err := exec.LookPath("rundll32")
		return err == nil
	case "linux":
		for _, browser := range linuxBrowsers {
			if _, err := exec.LookPath(browser); err == nil {
				return true
			}
		}
		return false
	default:
		return false
	}
}
