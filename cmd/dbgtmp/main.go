package main

import (
	"encoding/hex"
	"fmt"
	"net"

	"github.com/ooni/minissh/internal/session"
	"github.com/ooni/minissh/internal/model"
	"github.com/ooni/minissh/internal/sshtest"
)

type logConn struct {
	net.Conn
	tag string
}

func (c *logConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	fmt.Printf("[%s] Read -> n=%d err=%v data=%q\n", c.tag, n, err, b[:n])
	return n, err
}

func (c *logConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	fmt.Printf("[%s] Write <- n=%d err=%v hex=%s\n", c.tag, n, err, hex.EncodeToString(b[:n]))
	return n, err
}

func main() {
	srv, err := sshtest.NewServer()
	if err != nil {
		fmt.Println("newserver err", err)
		return
	}
	conn, g := srv.ServePipe()
	lc := &logConn{Conn: conn, tag: "client"}
	opts := session.NewOptions(model.NewTestLogger())
	s := session.NewSession(opts)
	err = s.ConnectConn(lc)
	fmt.Println("ConnectConn err:", err)
	gerr := g.Wait()
	fmt.Println("server err:", gerr)
}
