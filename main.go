package main

import (
	"os"

	_ "github.com/flowy2k/kvm-manager-v2/cmd"
	"github.com/flowy2k/kvm-manager-v2/cmd/root"
	"github.com/flowy2k/kvm-manager-v2/internal/logger"
)

func main() {
	err := root.RootCmd.Execute()
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}
