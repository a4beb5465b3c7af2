package main

import (
	"os"

	"github.com/graphworks/spanners/pkg/worker"
)

func main() {
	os.Exit(worker.Run(os.Args[1:]))
}
