package main

import (
	"bufio"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/spf13/cobra"

	"github.com/jcxfs/jcxfs/internal/exitcodes"
	"github.com/jcxfs/jcxfs/internal/fusefrontend"
	"github.com/jcxfs/jcxfs/internal/kvfs"
	"github.com/jcxfs/jcxfs/internal/tlog"
)

var (
	mountPw          passwordFlags
	mountReadonly    bool
	mountNoexit      bool
	mountFuseDebug   bool
	mountSerialize   bool
	mountUtilization int
)

var mountCmd = &cobra.Command{
	Use:   "mount <dbPath> <mountPoint>",
	Short: "Mount a database until \"exit\" is typed or a signal arrives",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		doMount(args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(mountCmd)
	mountPw.register(mountCmd)
	mountCmd.Flags().BoolVar(&mountReadonly, "readonly", false, "mount read-only")
	mountCmd.Flags().BoolVar(&mountNoexit, "noexit", false, "ignore the console, unmount on signal only")
	mountCmd.Flags().BoolVar(&mountFuseDebug, "fusedebug", false, "print the FUSE protocol conversation")
	mountCmd.Flags().BoolVar(&mountSerialize, "serialize", false, "dispatch filesystem operations one at a time")
	mountCmd.Flags().IntVar(&mountUtilization, "utilization", 50, "compact the log below this utilization percentage on unmount")
}

func doMount(dbPath, mountPoint string) {
	if st, err := os.Stat(mountPoint); err != nil || !st.IsDir() {
		tlog.Fatal.Printf("mountpoint %q is not a directory", mountPoint)
		exitcodes.Exit(exitcodes.NewErr("bad mountpoint", exitcodes.MountPoint))
	}

	password := mountPw.once()
	fsys, err := kvfs.Open(kvfs.Config{
		Dir:            dbPath,
		Password:       password,
		ReadOnly:       mountReadonly,
		SingleThreaded: mountSerialize,
	})
	if err != nil {
		tlog.Fatal.Printf("%v", err)
		exitcodes.Exit(exitcodes.NewErr(err.Error(), exitcodes.OpenDb))
	}

	root := fusefrontend.NewRootNode(fsys, fusefrontend.Args{ReadOnly: mountReadonly})
	sec := time.Second
	server, err := gofs.Mount(mountPoint, root, &gofs.Options{
		EntryTimeout: &sec,
		AttrTimeout:  &sec,
		MountOptions: fuse.MountOptions{
			FsName: dbPath,
			Name:   tlog.ProgramName,
			Debug:  mountFuseDebug,
		},
	})
	if err != nil {
		fsys.Close()
		tlog.Fatal.Printf("mount failed: %v", err)
		exitcodes.Exit(exitcodes.NewErr(err.Error(), exitcodes.FuseNewServer))
	}
	tlog.Info.Printf("mounted %s at %s", dbPath, mountPoint)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		tlog.Info.Printf("received %v, unmounting", s)
		if err := server.Unmount(); err != nil {
			tlog.Warn.Printf("unmount failed: %v (is the mountpoint busy?)", err)
		}
	}()

	if !mountNoexit {
		go consoleLoop(server)
	}

	server.Wait()

	if !mountReadonly {
		if u := fsys.Env().Utilization(); u < mountUtilization {
			tlog.Info.Printf("compacting log (utilization %d%% < %d%%)", u, mountUtilization)
			if err := fsys.Env().Compact(); err != nil {
				tlog.Warn.Printf("log compaction failed: %v", err)
			}
		}
	}
	if err := fsys.Close(); err != nil {
		tlog.Warn.Printf("close failed: %v", err)
	}
}

// consoleLoop unmounts when "exit" is typed on the controlling console.
func consoleLoop(server *fuse.Server) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "exit", "quit":
			if err := server.Unmount(); err != nil {
				tlog.Warn.Printf("unmount failed: %v (is the mountpoint busy?)", err)
				continue
			}
			return
		case "":
		default:
			tlog.Info.Printf("type \"exit\" to unmount")
		}
	}
}
