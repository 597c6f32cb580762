package ui

import (
	"errors"

	"github.com/AlecAivazis/survey/v2"
)

// ErrNonInteractive is returned by prompts that need an answer the caller
// did not supply up front.
var ErrNonInteractive = errors.New("confirmation required; rerun with --yes")

// PromptYesNo asks for confirmation. In non-interactive mode it never
// prompts: it fails unless the default is yes.
func (u *UI) PromptYesNo(prompt string, defaultYes bool) (bool, error) {
	if u.nonInteractive {
		if defaultYes {
			return true, nil
		}
		return false, ErrNonInteractive
	}

	var result bool
	p := &survey.Confirm{
		Message: prompt,
		Default: defaultYes,
	}

	err := survey.AskOne(p, &result)
	return result, err
}
