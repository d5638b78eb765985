package env

import (
	"os"
	"path/filepath"
)

// 由构建脚本通过 -ldflags 注入
var Version string = "1.0.0"

// (default: %USERPROFILE%/.kvm-keeper on Windows, $HOME/.kvm-keeper on Linux)
var KeeperDir string = GetKeeperDir()

/**
 * Get kvm-keeper working directory path
 * @returns {string} Returns the directory holding logs and the control socket
 * @description
 * - KVM_KEEPER_DIR overrides the default location
 */
func GetKeeperDir() string {
	if dir := os.Getenv("KVM_KEEPER_DIR"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".kvm-keeper")
	}
	return filepath.Join(homeDir, ".kvm-keeper")
}
