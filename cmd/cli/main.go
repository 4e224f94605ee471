package main

import (
	"github.com/mchmarny/microscore/pkg/cli"
)

func main() {
	cli.Execute()
}
