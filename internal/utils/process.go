package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Path2ProcessName 从可执行文件路径得到进程名
func Path2ProcessName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

/**
 * Stop a process: graceful signal first, forceful kill when asked to
 * @param {*os.Process} proc - Process started with SetNewPG
 * @param {bool} force - Skip the graceful signal
 * @returns {error} Returns error if the signal could not be delivered
 * @description
 * - The whole process group is signalled so worker children go too
 * - On Windows there is no graceful signal, the process is always killed
 */
func StopProcess(proc *os.Process, force bool) error {
	if proc == nil {
		return fmt.Errorf("no process")
	}
	if force {
		return killProcessGroup(proc)
	}
	return terminateProcessGroup(proc)
}
