// Command terminus runs the Terminus execution engine: the gateway by
// default, or one of its maintenance subcommands (version, doctor, onboard).
package main

import "github.com/terminusdev/terminus/cmd"

func main() {
	cmd.Execute()
}
