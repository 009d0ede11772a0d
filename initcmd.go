package main

import (
	"github.com/spf13/cobra"

	"github.com/jcxfs/jcxfs/internal/envfile"
	"github.com/jcxfs/jcxfs/internal/exitcodes"
	"github.com/jcxfs/jcxfs/internal/kvfs"
	"github.com/jcxfs/jcxfs/internal/tlog"
)

var (
	initPw       passwordFlags
	initCipher   string
	initAuthHash string
	initPageSize int32
)

var initCmd = &cobra.Command{
	Use:   "init <dbPath>",
	Short: "Create a new database in an empty directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		password := initPw.twice()
		err := kvfs.Init(kvfs.InitParams{
			Dir:         args[0],
			Password:    password,
			CipherClass: initCipher,
			AuthClass:   initAuthHash,
			PageSize:    initPageSize,
		})
		if err != nil {
			tlog.Fatal.Printf("%v", err)
			exitcodes.Exit(exitcodes.NewErr(err.Error(), exitcodes.Init))
		}
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initPw.register(initCmd)
	initCmd.Flags().StringVar(&initCipher, "cipher", envfile.DefaultCipherClass, "stream cipher for the database log")
	initCmd.Flags().StringVar(&initAuthHash, "auth-hash", envfile.DefaultAuthClass, "password hashing module")
	initCmd.Flags().Int32Var(&initPageSize, "page-size", kvfs.DefaultPageSize, "data page size in bytes (fixed at creation)")
}
