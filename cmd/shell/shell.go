package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ValentinKolb/keybox/cmd/util"
	"github.com/ValentinKolb/keybox/lib/db"
)

// LineReader returns one line of input per call and io.EOF once the input is exhausted.
// *term.Terminal satisfies it.
type LineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	scanner *bufio.Scanner
}

// NewLineReader reads lines from a plain reader, for input that is not a terminal
func NewLineReader(r io.Reader) LineReader {
	return &scannerReader{scanner: bufio.NewScanner(r)}
}

func (s *scannerReader) ReadLine() (string, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}

// --------------------------------------------------------------------------
// Command loop
// --------------------------------------------------------------------------

const helpText = `Commands:
  add <key> <value> [--ttl <duration>]     add a new key
  get <key>                                read the value of a key
  update <key> <value> [--ttl <duration>]  update an existing key
  delete <key>                             delete a key
  list                                     list all records
  begin | commit | rollback                transaction control
  save                                     write a snapshot
  info                                     print statistics
  help                                     print this help
  exit                                     leave the shell`

// Run executes commands read from in against kv until the input ends or exit is entered.
// Errors of single commands are printed and do not end the loop. Only a read error is returned.
func Run(kv db.KVDB, in LineReader, out io.Writer) error {
	for {
		line, err := in.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if strings.ToLower(fields[0]) == "exit" || strings.ToLower(fields[0]) == "quit" {
			if kv.InTransaction() {
				fmt.Fprintln(out, "Open transaction is discarded.")
			}
			fmt.Fprintln(out, "Bye...")
			return nil
		}

		if err := execute(kv, fields, out); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

// execute runs one command
func execute(kv db.KVDB, fields []string, out io.Writer) error {
	command := strings.ToLower(fields[0])
	args, ttl, hasTTL, err := splitTTL(fields[1:])
	if err != nil {
		return err
	}
	if hasTTL && command != "add" && command != "update" {
		return fmt.Errorf("--ttl is only valid for add and update")
	}

	switch command {
	case "add":
		if len(args) < 2 {
			return fmt.Errorf("usage: add <key> <value> [--ttl <duration>]")
		}
		key, value := args[0], strings.Join(args[1:], " ")
		if hasTTL {
			err = kv.AddE(key, value, ttl)
		} else {
			err = kv.Add(key, value)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Record added successfully.")

	case "update":
		if len(args) < 2 {
			return fmt.Errorf("usage: update <key> <value> [--ttl <duration>]")
		}
		key, value := args[0], strings.Join(args[1:], " ")
		if hasTTL {
			err = kv.UpdateE(key, value, ttl)
		} else {
			err = kv.Update(key, value)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Record updated successfully.")

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: get <key>")
		}
		value, err := kv.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Value: %s\n", value)

	case "delete", "del":
		if len(args) != 1 {
			return fmt.Errorf("usage: delete <key>")
		}
		if err := kv.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(out, "Record deleted successfully.")

	case "list":
		fmt.Fprintln(out, "All Records:")
		for _, record := range kv.GetAll() {
			fmt.Fprintln(out, record)
		}

	case "begin":
		if err := kv.BeginTransaction(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Transaction started.")

	case "commit":
		if err := kv.CommitTransaction(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Transaction committed.")

	case "rollback":
		if err := kv.RollbackTransaction(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Transaction rolled back.")

	case "save":
		if err := kv.Persist(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Snapshot written.")

	case "info":
		info := kv.GetInfo()
		fmt.Fprintf(out, "Keys: %d, Size: %d bytes, In transaction: %v\n", info.Keys, info.SizeBytes, info.InTransaction)

	case "help":
		fmt.Fprintln(out, helpText)

	default:
		return fmt.Errorf("invalid command %q, type help for a list of commands", fields[0])
	}
	return nil
}

// splitTTL removes a "--ttl <duration>" or "--ttl=<duration>" option from args
func splitTTL(args []string) (rest []string, ttl time.Duration, hasTTL bool, err error) {
	rest = make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		var raw string
		switch {
		case args[i] == "--ttl":
			if i+1 >= len(args) {
				return nil, 0, false, fmt.Errorf("--ttl needs a duration")
			}
			raw = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--ttl="):
			raw = strings.TrimPrefix(args[i], "--ttl=")
		default:
			rest = append(rest, args[i])
			continue
		}
		if ttl, hasTTL, err = util.ParseTTL(raw); err != nil {
			return nil, 0, false, fmt.Errorf("invalid ttl: %w", err)
		}
	}
	return rest, ttl, hasTTL, nil
}
