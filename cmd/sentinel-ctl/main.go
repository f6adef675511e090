package main

import (
	"github.com/oshokin/perimeter-sentinel/cmd/sentinel-ctl/cmd"
)

func main() {
	cmd.Execute()
}
