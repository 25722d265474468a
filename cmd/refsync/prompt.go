package main

import (
	"os"

	"github.com/charmbracelet/huh"

	"github.com/alibi-studio/refsync/internal/ui"
)

// confirm asks a yes/no question. Without a terminal on stdin it returns
// false so scripted runs must pass --yes.
func confirm(title, description string) (bool, error) {
	if !ui.IsTerminal(os.Stdin) {
		return false, nil
	}
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}
