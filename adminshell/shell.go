// Package adminshell implements the line-oriented interactive administrator
// shell: quit, showlog, hidelog, adduser, showtemp, and bot {go|stop|say
// <user>}. It reaches the running process only through the Supervisor
// interface below — never PresenceMap, TimeoutSet, or PourSession directly.
package adminshell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"

	"kegbotd/chatbot"
	"kegbotd/types"
)

// Supervisor is the narrow surface the shell is allowed to drive.
type Supervisor interface {
	AddUser(name string, weight float64, gender types.Gender) (*types.User, error)
	Quit()
	CurrentTemperature() (float64, error)
	ChatBot() chatbot.Bot
}

// echoHook mirrors log entries to the shell's own stdout stream,
// independent of whatever transport the process's Logging config selected.
// Toggled on/off by showlog/hidelog.
type echoHook struct {
	mu      sync.Mutex
	enabled bool
	out     io.Writer
}

func (h *echoHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *echoHook) Fire(entry *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.enabled {
		return nil
	}
	line, err := entry.String()
	if err != nil {
		return err
	}
	_, err = io.WriteString(h.out, line)
	return err
}

func (h *echoHook) setEnabled(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled = v
}

// Shell reads commands from in and writes responses to out until quit is
// entered or in reaches EOF.
type Shell struct {
	sup  Supervisor
	in   *bufio.Scanner
	out  io.Writer
	hook *echoHook
}

// New builds a Shell over in/out, registering its log-echo hook with log so
// showlog/hidelog can toggle it.
func New(sup Supervisor, in io.Reader, out io.Writer, log *logrus.Logger) *Shell {
	hook := &echoHook{out: out}
	log.AddHook(hook)
	return &Shell{sup: sup, in: bufio.NewScanner(in), out: out, hook: hook}
}

// Run reads and dispatches commands until EOF, an unrecoverable scan error,
// or a quit command.
func (s *Shell) Run() error {
	for s.in.Scan() {
		line := s.in.Text()
		if !s.dispatch(line) {
			return nil
		}
	}
	return s.in.Err()
}

// dispatch executes one line and returns false if the shell should stop.
func (s *Shell) dispatch(line string) bool {
	fields, err := shlex.Split(line)
	if err != nil {
		fmt.Fprintf(s.out, "parse error: %v\n", err)
		return true
	}
	if len(fields) == 0 {
		return true
	}

	switch fields[0] {
	case "quit":
		s.sup.Quit()
		return false
	case "showlog":
		s.hook.setEnabled(true)
		fmt.Fprintln(s.out, "log echo enabled")
	case "hidelog":
		s.hook.setEnabled(false)
		fmt.Fprintln(s.out, "log echo disabled")
	case "adduser":
		s.cmdAddUser(fields[1:])
	case "showtemp":
		s.cmdShowTemp()
	case "bot":
		s.cmdBot(fields[1:])
	default:
		fmt.Fprintf(s.out, "unknown command: %s\n", fields[0])
	}
	return true
}

func (s *Shell) cmdAddUser(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(s.out, "usage: adduser <name> <weight_lbs> <male|female>")
		return
	}
	weight, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fmt.Fprintf(s.out, "invalid weight: %v\n", err)
		return
	}
	gender := types.Gender(args[2])
	if gender != types.Male && gender != types.Female {
		fmt.Fprintf(s.out, "invalid gender %q: must be male or female\n", args[2])
		return
	}
	user, err := s.sup.AddUser(args[0], weight, gender)
	if err != nil {
		fmt.Fprintf(s.out, "adduser failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "added user %q (id=%d)\n", user.Name, user.ID)
}

func (s *Shell) cmdShowTemp() {
	temp, err := s.sup.CurrentTemperature()
	if err != nil {
		fmt.Fprintf(s.out, "showtemp failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "%.2f C\n", temp)
}

func (s *Shell) cmdBot(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "usage: bot {go|stop|say <user>}")
		return
	}
	bot := s.sup.ChatBot()
	if bot == nil {
		fmt.Fprintln(s.out, "no chat bot configured")
		return
	}
	switch args[0] {
	case "go":
		if err := bot.Go(context.Background()); err != nil {
			fmt.Fprintf(s.out, "bot go failed: %v\n", err)
		}
	case "stop":
		if err := bot.Stop(); err != nil {
			fmt.Fprintf(s.out, "bot stop failed: %v\n", err)
		}
	case "say":
		if len(args) < 2 {
			fmt.Fprintln(s.out, "usage: bot say <user>")
			return
		}
		if err := bot.Say(args[1]); err != nil {
			fmt.Fprintf(s.out, "bot say failed: %v\n", err)
		}
	default:
		fmt.Fprintf(s.out, "unknown bot subcommand: %s\n", args[0])
	}
}
