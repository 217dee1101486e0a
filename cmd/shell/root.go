package shell

import (
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/keybox/cmd/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	log = logger.GetLogger("cli")

	// ShellCmd starts the interactive shell
	ShellCmd = &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive shell on the configured database",
		Long: util.WrapString("Starts a shell that reads one command per line. On a terminal the shell " +
			"offers line editing and history, otherwise commands are read from stdin without a prompt."),
		Args: cobra.NoArgs,
		RunE: runShell,
	}
)

func runShell(cmd *cobra.Command, _ []string) (err error) {
	kv, err := util.OpenDB(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := kv.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return Run(kv, NewLineReader(os.Stdin), os.Stdout)
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to switch terminal to raw mode: %w", err)
	}
	defer func() {
		if rErr := term.Restore(fd, state); rErr != nil {
			log.Warningf("failed to restore terminal: %v", rErr)
		}
	}()

	terminal := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "keybox> ")

	fmt.Fprintln(terminal, "Welcome to keybox! Type help for a list of commands.")
	return Run(kv, terminal, terminal)
}
