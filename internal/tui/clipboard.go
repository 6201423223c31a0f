package tui

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

var errNoClipboard = errors.New("no clipboard tool")

// clipboardTool is a command that reads the clipboard contents from stdin.
type clipboardTool struct {
	name string
	args []string
}

// clipboardTools lists the candidates per platform in order of preference.
// wl-copy comes first so wayland sessions skip the X11 bridges.
var clipboardTools = map[string][]clipboardTool{
	"darwin":  {{name: "pbcopy"}},
	"windows": {{name: "clip.exe"}},
	"linux": {
		{name: "wl-copy"},
		{name: "xclip", args: []string{"-selection", "clipboard"}},
		{name: "xsel", args: []string{"--clipboard", "--input"}},
	},
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// clipboardFor returns the first installed tool for goos.
func clipboardFor(goos string) (clipboardTool, error) {
	tools, ok := clipboardTools[goos]
	if !ok {
		return clipboardTool{}, fmt.Errorf("clipboard not supported on %s", goos)
	}

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		if _, err := lookPath(t.name); err == nil {
			return t, nil
		}
		names = append(names, t.name)
	}
	return clipboardTool{}, fmt.Errorf("%w: install one of %s", errNoClipboard, strings.Join(names, ", "))
}

// copyToClipboard copies a field value to the system clipboard.
func copyToClipboard(value string) error {
	tool, err := clipboardFor(runtime.GOOS)
	if err != nil {
		return err
	}

	cmd := exec.Command(tool.name, tool.args...)
	cmd.Stdin = strings.NewReader(value)
	// wl-copy forks a server that keeps inherited pipes open, so output is
	// not captured
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", tool.name, err)
	}
	return nil
}
