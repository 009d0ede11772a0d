package main

import (
	"github.com/spf13/cobra"

	"github.com/jcxfs/jcxfs/internal/exitcodes"
	"github.com/jcxfs/jcxfs/internal/kvfs"
	"github.com/jcxfs/jcxfs/internal/tlog"
)

var (
	passwdOldPw passwordFlags
	passwdNewPw newPasswordFlags
)

var passwdCmd = &cobra.Command{
	Use:   "changepassword <dbPath>",
	Short: "Change the database password",
	Long: `Change the database password. Only the wrapped-key blob in jcxfs.env is
rewritten; the data encryption key and all database contents stay as they
are.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		oldPassword := passwdOldPw.once()
		newPassword := passwdNewPw.twice()
		if err := kvfs.ChangePassword(args[0], oldPassword, newPassword); err != nil {
			tlog.Fatal.Printf("%v", err)
			exitcodes.Exit(exitcodes.NewErr(err.Error(), exitcodes.PasswordIncorrect))
		}
		tlog.Info.Printf("password changed")
	},
}

func init() {
	rootCmd.AddCommand(passwdCmd)
	passwdOldPw.register(passwdCmd)
	passwdNewPw.register(passwdCmd)
}
