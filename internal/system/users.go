package system

import (
	"fmt"
	"os/user"
	"strconv"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
)

// UserExists checks if a user exists
func UserExists(username string) (bool, error) {
	_, err := user.Lookup(username)
	if err == nil {
		return true, nil
	}

	if _, ok := err.(user.UnknownUserError); ok {
		return false, nil
	}

	return false, fmt.Errorf("failed to lookup user %s: %w", username, err)
}

// GetCurrentUser returns the current user information
func GetCurrentUser() (*user.User, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return u, nil
}

// ResolveOwner looks up the uid and primary gid of username.
// An empty username resolves to NoOwner.
func ResolveOwner(username string) (Owner, error) {
	if username == "" {
		return NoOwner, nil
	}
	if err := common.ValidateUsername(username); err != nil {
		return NoOwner, err
	}
	exists, err := UserExists(username)
	if err != nil {
		return NoOwner, err
	}
	if !exists {
		return NoOwner, fmt.Errorf("user %s does not exist", username)
	}

	u, err := user.Lookup(username)
	if err != nil {
		return NoOwner, fmt.Errorf("failed to get user info for %s: %w", username, err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return NoOwner, fmt.Errorf("invalid UID for %s: %w", username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return NoOwner, fmt.Errorf("invalid GID for %s: %w", username, err)
	}

	return Owner{UID: uid, GID: gid}, nil
}

// HomeDir returns the home directory of username, or of the current user
// when username is empty.
func HomeDir(username string) (string, error) {
	var (
		u   *user.User
		err error
	)
	if username == "" {
		u, err = GetCurrentUser()
	} else {
		u, err = user.Lookup(username)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if u.HomeDir == "" {
		return "", fmt.Errorf("user %s has no home directory", u.Username)
	}
	return u.HomeDir, nil
}
