package main

import (
	"os"

	"github.com/oceanbase/recallmem-go/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
