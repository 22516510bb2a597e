package accel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/levelkv/lib/store"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive shell on the accelerator",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := &repl{store: accelStore, host: hostStore}
		return r.run()
	},
}

var shellCommands = []string{
	"set", "update", "get", "del", "has", "lookup",
	"expand", "flush", "info", "help", "exit", "quit",
}

type repl struct {
	store store.IStore
	host  store.IStore // nil unless the host runs in-process
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".levelkv_history")
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}
	defer r.saveHistory()

	info, err := accelEngine.Info()
	if err != nil {
		return err
	}
	fmt.Printf("levelkv shell (level=%d, frames=%d, items=%d)\n", info.Level, info.Frames, info.Items)
	fmt.Println("Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt("levelkv> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		fields := strings.Fields(line)
		if exit := r.exec(strings.ToLower(fields[0]), fields[1:]); exit {
			return nil
		}
	}
}

// exec runs one shell command and reports whether the shell should exit
func (r *repl) exec(cmd string, args []string) bool {
	var err error
	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		printHelp()
	case "set":
		if err = needArgs(args, 2); err == nil {
			if err = r.store.Set(args[0], []byte(args[1])); err == nil {
				fmt.Println("OK")
			}
		}
	case "update":
		if err = needArgs(args, 2); err == nil {
			var updated bool
			if updated, err = r.store.Update(args[0], []byte(args[1])); err == nil {
				fmt.Printf("updated=%t\n", updated)
			}
		}
	case "get", "lookup":
		if err = needArgs(args, 1); err == nil {
			s := r.store
			if cmd == "lookup" {
				if r.host == nil {
					err = errors.New("lookup needs an in-process host (--transport=mem)")
					break
				}
				s = r.host
			}
			var value []byte
			var found bool
			if value, found, err = s.Get(args[0]); err == nil {
				if found {
					fmt.Printf("%q\n", value)
				} else {
					fmt.Println("(not found)")
				}
			}
		}
	case "del", "delete":
		if err = needArgs(args, 1); err == nil {
			var deleted bool
			if deleted, err = r.store.Delete(args[0]); err == nil {
				fmt.Printf("deleted=%t\n", deleted)
			}
		}
	case "has":
		if err = needArgs(args, 1); err == nil {
			var found bool
			if found, err = r.store.Has(args[0]); err == nil {
				fmt.Printf("found=%t\n", found)
			}
		}
	case "expand":
		if err = accelEngine.Expand(); err == nil {
			fmt.Println("OK")
		}
	case "flush":
		if err = accelEngine.Flush(); err == nil {
			fmt.Println("OK")
		}
	case "info":
		info, ierr := accelEngine.Info()
		if err = ierr; err == nil {
			fmt.Println(info.String())
		}
	default:
		err = fmt.Errorf("unknown command %q, type 'help'", cmd)
	}

	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
	return false
}

func needArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return nil
}

func (r *repl) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func completer(line string) []string {
	var completions []string
	lower := strings.ToLower(line)
	for _, cmd := range shellCommands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}
	return completions
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  set <key> <value>      Insert or overwrite a key")
	fmt.Println("  update <key> <value>   Replace the value of an existing key")
	fmt.Println("  get <key>              Search a key through the accelerator")
	fmt.Println("  lookup <key>           Search a key directly in host memory (flushed data only)")
	fmt.Println("  del <key>              Delete a key")
	fmt.Println("  has <key>              Check whether a key exists")
	fmt.Println("  expand                 Double the table")
	fmt.Println("  flush                  Write all dirty buckets back to the host")
	fmt.Println("  info                   Print table and cache statistics")
	fmt.Println("  exit                   Leave the shell")
}
