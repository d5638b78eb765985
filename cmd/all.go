package cmd

import (
	_ "github.com/flowy2k/kvm-manager-v2/cmd/backend"
	_ "github.com/flowy2k/kvm-manager-v2/cmd/kvm"
	_ "github.com/flowy2k/kvm-manager-v2/cmd/root"
	_ "github.com/flowy2k/kvm-manager-v2/cmd/serialport"
	_ "github.com/flowy2k/kvm-manager-v2/cmd/server"
)
