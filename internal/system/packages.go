package system

import (
	"os/exec"
)

// CommandExists checks if a command is available in PATH
func CommandExists(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}

// MissingCommands returns the commands from the list that are not in PATH.
func MissingCommands(commands ...string) []string {
	var missing []string
	for _, c := range commands {
		if !CommandExists(c) {
			missing = append(missing, c)
		}
	}
	return missing
}
