package main

import (
	"github.com/spf13/cobra"

	"github.com/jcxfs/jcxfs/internal/readpassword"
)

// passwordFlags is the password source option group shared by every
// subcommand that unlocks a database.
type passwordFlags struct {
	literal   string
	fromStdin bool
	file      string
}

func (p *passwordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&p.literal, "pw", "w", "", "password (visible in the process list, prefer --pw-file)")
	cmd.Flags().BoolVarP(&p.fromStdin, "pw-stdin", "W", false, "read password from stdin")
	cmd.Flags().StringVar(&p.file, "pw-file", "", "read password from file")
}

// once obtains the password for unlocking an existing database.
func (p *passwordFlags) once() string {
	return readpassword.Once(p.literal, p.file, p.fromStdin)
}

// twice obtains a new password, prompting twice on a terminal.
func (p *passwordFlags) twice() string {
	return readpassword.Twice(p.literal, p.file, p.fromStdin)
}

// newPasswordFlags is the option group for the replacement password of
// changepassword.
type newPasswordFlags struct {
	literal   string
	fromStdin bool
	file      string
}

func (p *newPasswordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.literal, "new-pw", "", "new password")
	cmd.Flags().BoolVar(&p.fromStdin, "new-pw-stdin", false, "read new password from stdin")
	cmd.Flags().StringVar(&p.file, "new-pw-file", "", "read new password from file")
}

func (p *newPasswordFlags) twice() string {
	return readpassword.Twice(p.literal, p.file, p.fromStdin)
}
