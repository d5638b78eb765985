package utils

import (
	"context"
	"fmt"
	"net"
	"time"
)

// CheckAddrConnectable 检查TCP地址是否可以连接
func CheckAddrConnectable(ctx context.Context, addr string, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

// CheckAddrListenable 检查地址是否可以监听，端口被占用时返回错误
func CheckAddrListenable(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is not available: %w", addr, err)
	}
	return l.Close()
}
