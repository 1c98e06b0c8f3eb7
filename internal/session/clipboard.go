package session

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// copyImageToClipboard puts an image file on the system clipboard.
// format is the MIME subtype, "png" or "jpeg".
func copyImageToClipboard(path, format string) error {
	if runtime.GOOS == "darwin" {
		return copyImageMacOS(path, format)
	}
	return copyImageLinux(path, format)
}

func copyImageMacOS(path, format string) error {
	asClass := "«class PNGf»"
	if format == "jpeg" {
		asClass = "JPEG picture"
	}
	script := fmt.Sprintf("set the clipboard to (read (POSIX file %q) as %s)", path, asClass)

	cmd := exec.Command("osascript", "-e", script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("osascript failed: %s: %w", stderr.String(), err)
	}
	return nil
}

func copyImageLinux(path, format string) error {
	mime := "image/" + format

	if _, err := exec.LookPath("xclip"); err == nil {
		cmd := exec.Command("xclip", "-selection", "clipboard", "-t", mime, "-i", path)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("xclip failed: %s: %w", stderr.String(), err)
		}
		return nil
	}

	if _, err := exec.LookPath("wl-copy"); err == nil {
		f, err := os.Open(path) //nolint:gosec // G304: path is a validated upload temp file
		if err != nil {
			return fmt.Errorf("open image: %w", err)
		}
		defer func() { _ = f.Close() }()

		cmd := exec.Command("wl-copy", "--type", mime)
		cmd.Stdin = f
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("wl-copy failed: %s: %w", stderr.String(), err)
		}
		return nil
	}

	return fmt.Errorf("no clipboard tool found (need xclip or wl-copy)")
}
