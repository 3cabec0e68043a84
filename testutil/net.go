/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

const pollInterval = 10 * time.Millisecond

// GetLocalFreeTCPPort returns a TCP port on 127.0.0.1 that nobody listens on at the moment of the call.
func GetLocalFreeTCPPort() int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	defer func() {
		if closeErr := ln.Close(); closeErr != nil {
			panic(closeErr)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

// GetLocalAddrWithFreeTCPPort returns 127.0.0.1:<free-tcp-port> address.
func GetLocalAddrWithFreeTCPPort() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(GetLocalFreeTCPPort()))
}

// WaitListeningServer waits until a TCP connection to addr can be established.
func WaitListeningServer(addr string, timeout time.Duration) error {
	if !poll(timeout, func() bool { return canDial(addr) }) {
		return fmt.Errorf("server on %s is not listening after %s", addr, timeout)
	}
	return nil
}

// WaitPortAndListeningServer waits until getPort reports the port the server is bound to
// and the server accepts TCP connections on it.
func WaitPortAndListeningServer(host string, getPort func() int, timeout time.Duration) (int, error) {
	var port int
	if !poll(timeout, func() bool { port = getPort(); return port > 0 }) {
		return 0, fmt.Errorf("server port is unknown after %s", timeout)
	}
	return port, WaitListeningServer(net.JoinHostPort(host, strconv.Itoa(port)), timeout)
}

func canDial(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// poll calls cond until it returns true or the timeout expires.
func poll(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
