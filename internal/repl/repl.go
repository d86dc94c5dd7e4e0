// Package repl is the line-oriented program the host runs inside its
// terminal when no other child is configured.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	Prompt = "> "
	banner = "ptybridge repl. Type 'help' for commands.\r\n"
	help   = "commands: help, echo <text>, upper <text>, exit\r\n"
)

// Run reads commands from in until EOF or exit, writing replies to out.
func Run(in io.Reader, out io.Writer) error {
	w := bufio.NewWriter(out)
	if _, err := w.WriteString(banner); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	for {
		if _, err := w.WriteString(Prompt); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if !scanner.Scan() {
			return scanner.Err()
		}

		reply, quit := eval(strings.TrimSpace(scanner.Text()))
		if quit {
			return w.Flush()
		}
		if reply != "" {
			if _, err := fmt.Fprintf(w, "%s\r\n", reply); err != nil {
				return err
			}
		}
	}
}

func eval(line string) (reply string, quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
		return "", false
	case "exit", "quit":
		return "", true
	case "help":
		return strings.TrimSuffix(help, "\r\n"), false
	case "echo":
		return arg, false
	case "upper":
		return strings.ToUpper(arg), false
	default:
		return fmt.Sprintf("unknown command: %s", cmd), false
	}
}
