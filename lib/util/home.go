package util

import (
	"os"
)

// UserHome returns the current user's home directory. It falls back to $HOME,
// then %USERPROFILE%, then the working directory, so the CLI still starts in
// minimal containers.
func UserHome() string {
	homeDir, err := os.UserHomeDir()
	if err == nil {
		return homeDir
	}
	if home := os.Getenv("HOME"); home != "" {
		log.WithError(err).Warn("user_home_fallback_home_env")
		return home
	}
	if home := os.Getenv("USERPROFILE"); home != "" {
		log.WithError(err).Warn("user_home_fallback_userprofile")
		return home
	}
	if wd, wdErr := os.Getwd(); wdErr == nil {
		log.WithError(err).Warn("user_home_fallback_working_dir")
		return wd
	}
	return "."
}
