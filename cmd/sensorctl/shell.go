package main

import (
	"fmt"
	"log"

	"github.com/abiosoft/ishell"
)

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

// Shell is the ishell front end for a command channel Client.
type Shell struct {
	Interactive bool
	Addr        string

	Shell  *ishell.Shell
	Client *Client
}

// NewShell creates a shell that connects to addr on demand.
func NewShell(addr string, interactive bool) *Shell {
	s := &Shell{
		Interactive: interactive,
		Addr:        addr,
		Shell:       ishell.New(),
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands() {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// Connect dials addr, replacing any current session.
func (s *Shell) Connect(addr string) error {
	client, err := Dial(addr, writerFunc(func(p []byte) (int, error) {
		s.Shell.Print(string(p))
		return len(p), nil
	}))
	if err != nil {
		return err
	}
	s.Disconnect()
	s.Client = client
	s.Addr = addr
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", addr))
	return nil
}

// Disconnect closes the current session.
func (s *Shell) Disconnect() {
	if s.Client != nil {
		s.Client.Close()
		s.Client = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Run processes args as a single command, or starts the interactive shell.
func (s *Shell) Run(args ...string) {
	if s.Addr != "" {
		if err := s.Connect(s.Addr); err != nil {
			log.Fatalf("connect %s failed: %v", s.Addr, err)
		}
	}
	defer s.Disconnect()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Client == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

func sendCmd(name string) func(c *ishell.Context) {
	return MustBeConnected(func(c *ishell.Context) {
		body, err := commandBody(name, c.Args)
		if err != nil {
			c.Err(err)
			return
		}
		if err := ShellFrom(c).Client.Send(body); err != nil {
			c.Err(err)
		}
	})
}

func commands() []*ishell.Cmd {
	return []*ishell.Cmd{
		{
			Name:    "connect",
			Aliases: []string{"c"},
			Help:    "[ADDR]",
			Func: func(c *ishell.Context) {
				s := ShellFrom(c)
				addr := s.Addr
				if len(c.Args) > 0 {
					addr = c.Args[0]
				}
				if addr == "" {
					c.Err(fmt.Errorf("address required"))
					return
				}
				if err := s.Connect(addr); err != nil {
					c.Err(err)
				}
			},
		},
		{
			Name:    "disconnect",
			Aliases: []string{"d"},
			Func: func(c *ishell.Context) {
				ShellFrom(c).Disconnect()
			},
		},
		{Name: "study", Help: "start a radar calibration study", Func: sendCmd("study")},
		{Name: "reset", Help: "reset and reconfigure the radar", Func: sendCmd("reset")},
		{Name: "reboot", Help: "restart the sensor", Func: sendCmd("reboot")},
		{Name: "raw", Help: "CMD  send a raw radar command", Func: sendCmd("raw")},
		{Name: "at", Help: "BODY  send AT+BODY verbatim", Func: sendCmd("at")},
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
