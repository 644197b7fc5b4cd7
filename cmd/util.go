package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"storagemesh/errs"
)

func sha256OfStream(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", errs.Wrap(errs.Resource, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// stdoutIsTTY reports whether stdout is attached to an interactive
// terminal, so commands can decide between human-readable sizes and
// plain machine-parseable output.
func stdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}
