package main

import (
	"github.com/oshokin/perimeter-sentinel/cmd/perimeter-sentinel/cmd"
)

func main() {
	cmd.Execute()
}
