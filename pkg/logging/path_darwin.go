//go:build darwin

package logging

import (
	"os/user"
	"path/filepath"
)

// DefaultPath returns where the log file goes when none is configured.
func DefaultPath() (string, error) {
	currentUser, err := user.Current()
	if err != nil {
		return "", err
	}

	if currentUser.Username == "root" {
		return "/var/log/crisis-stream/crisis-stream.log", nil
	}
	return filepath.Join(currentUser.HomeDir, "Library", "Logs", "crisis-stream", "crisis-stream.log"), nil
}
