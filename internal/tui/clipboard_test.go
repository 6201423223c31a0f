package tui

import (
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func stubLookPath(t *testing.T, installed ...string) {
	t.Helper()
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })

	lookPath = func(name string) (string, error) {
		for _, n := range installed {
			if n == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", exec.ErrNotFound
	}
}

func TestClipboardForPrefersWayland(t *testing.T) {
	stubLookPath(t, "xsel", "wl-copy", "xclip")

	tool, err := clipboardFor("linux")
	if err != nil {
		t.Fatal(err)
	}
	if tool.name != "wl-copy" {
		t.Errorf("tool = %s, want wl-copy", tool.name)
	}
}

func TestClipboardForFallsBack(t *testing.T) {
	stubLookPath(t, "xsel")

	tool, err := clipboardFor("linux")
	if err != nil {
		t.Fatal(err)
	}
	if tool.name != "xsel" || strings.Join(tool.args, " ") != "--clipboard --input" {
		t.Errorf("tool = %+v", tool)
	}
}

func TestClipboardForNoneInstalled(t *testing.T) {
	stubLookPath(t)

	_, err := clipboardFor("linux")
	if !errors.Is(err, errNoClipboard) {
		t.Fatalf("err = %v, want errNoClipboard", err)
	}
	if !strings.Contains(err.Error(), "wl-copy, xclip, xsel") {
		t.Errorf("error does not name candidates: %v", err)
	}
}

func TestClipboardForUnsupportedOS(t *testing.T) {
	stubLookPath(t, "pbcopy")

	if _, err := clipboardFor("plan9"); err == nil || errors.Is(err, errNoClipboard) {
		t.Errorf("err = %v, want unsupported platform", err)
	}
}
