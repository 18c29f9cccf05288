// Command sensorctl is an interactive client for the sensor's command
// channel. It authenticates with the fixed PIN and wraps each shell command
// as an AT command.
package main

import "flag"

var (
	addr     = flag.String("addr", "127.0.0.1:2323", "Command channel address")
	evalOnly = flag.Bool("e", false, "Evaluation only, no interactive shell.")
)

func main() {
	flag.Parse()
	NewShell(*addr, !*evalOnly).Run(flag.Args()...)
}
