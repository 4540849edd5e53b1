//go:build darwin

package config

import (
	"fmt"
	"os/exec"
	"strings"
)

func keychainGet(service, account string) (string, error) {
	out, err := exec.Command(
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
	if err != nil {
		return "", fmt.Errorf("reading keychain item %s/%s: %w", service, account, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func keychainSet(service, account, value string) error {
	// -U updates an existing item instead of failing on duplicates.
	return exec.Command(
		"security", "add-generic-password",
		"-U",
		"-s", service,
		"-a", account,
		"-w", value,
	).Run()
}
