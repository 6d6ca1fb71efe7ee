// The main package for the minutesbot crawler executable.
package main

import (
	"github.com/minutesbot/crawler/cmd/minutesbot"
)

// main is the entry point of the application. It defers all execution to
// the Cobra CLI library.
func main() {
	minutesbot.Execute()
}
