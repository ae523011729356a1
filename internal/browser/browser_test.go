package browser

import (
	"errors"
	"testing"
)

func TestOpenFallsBackToPlatformCommand(t *testing.T) {
	var fallbackURL string
	o := Opener{
		Run:      func(string) error { return errors.New("no desktop integration") },
		Fallback: func(url string) error { fallbackURL = url; return nil },
	}
	if err := o.Open("https://x.example.com/auth"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fallbackURL != "https://x.example.com/auth" {
		t.Fatalf("fallback got %q", fallbackURL)
	}
}

func TestOpenOrCopy(t *testing.T) {
	failing := func(string) error { return errors.New("unavailable") }

	var copiedText string
	o := Opener{
		Run:       failing,
		Fallback:  failing,
		Copy:      func(text string) error { copiedText = text; return nil },
		Available: func() bool { return true },
	}
	copied, err := o.OpenOrCopy("https://x.example.com/auth")
	if err != nil || !copied {
		t.Fatalf("OpenOrCopy = %v, %v", copied, err)
	}
	if copiedText != "https://x.example.com/auth" {
		t.Fatalf("clipboard got %q", copiedText)
	}

	o.Copy = failing
	if _, err = o.OpenOrCopy("https://x.example.com/auth"); !errors.Is(err, ErrNoBrowser) {
		t.Fatalf("err = %v, want ErrNoBrowser", err)
	}

	o.Run = func(string) error { return nil }
	copied, err = o.OpenOrCopy("https://x.example.com/auth")
	if err != nil || copied {
		t.Fatalf("OpenOrCopy with a browser = %v, %v", copied, err)
	}
}

func TestOpenOrCopySkipsLaunchWithoutLauncher(t *testing.T) {
	launched := false
	var copiedText string
	o := Opener{
		Run:       func(string) error { launched = true; return nil },
		Fallback:  func(string) error { launched = true; return nil },
		Copy:      func(text string) error { copiedText = text; return nil },
		Available: func() bool { return false },
	}
	copied, err := o.OpenOrCopy("https://x.example.com/auth")
	if err != nil || !copied {
		t.Fatalf("OpenOrCopy = %v, %v", copied, err)
	}
	if launched {
		t.Fatal("launcher run although none is installed")
	}
	if copiedText != "https://x.example.com/auth" {
		t.Fatalf("clipboard got %q", copiedText)
	}
}
