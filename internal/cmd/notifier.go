package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/router-for-me/cxlogin/internal/browser"
)

var (
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("76")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("111")).Bold(true)
)

// terminalNotifier renders notifications on the terminal.
type terminalNotifier struct {
	out io.Writer
	err io.Writer
}

func (n terminalNotifier) Info(message string) {
	_, _ = fmt.Fprintln(n.out, infoStyle.Render("✓")+" "+message)
}

func (n terminalNotifier) Error(message string) {
	_, _ = fmt.Fprintln(n.err, errorStyle.Render("✗")+" "+message)
}

func label(text string) string {
	return labelStyle.Render(fmt.Sprintf("%-10s", text+":"))
}

// clipboardBrowser opens the login URL and falls back to the clipboard.
type clipboardBrowser struct {
	opener   browser.Opener
	notifier terminalNotifier
}

func (b clipboardBrowser) Open(url string) error {
	copied, err := b.opener.OpenOrCopy(url)
	if err != nil {
		return err
	}
	if copied {
		b.notifier.Info("No browser could be opened. The login URL was copied to your clipboard:")
		_, _ = fmt.Fprintln(b.notifier.out, url)
	}
	return nil
}
