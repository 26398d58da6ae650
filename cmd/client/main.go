package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/NicolasHaas/ircline/pkg/protocol"
	"github.com/NicolasHaas/ircline/pkg/version"
)

// A minimal terminal client: one goroutine prints server lines while the
// main loop forwards stdin lines to the server.
func main() {
	addr := flag.String("addr", "localhost:6667", "server address")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("ircline client", version.String())
		return
	}

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	fmt.Printf("connected to %s\n", *addr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				fmt.Println("server closed the connection")
				return
			}
			fmt.Printf("> %s\n", strings.TrimRight(line, "\r\n"))
		}
	}()

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := in.Text()
		if line == "" {
			continue
		}
		if _, err := conn.Write([]byte(line + protocol.CRLF)); err != nil {
			fmt.Fprintf(os.Stderr, "send: %v\n", err)
			break
		}
		if line == string(protocol.CmdQuit) {
			break
		}
		select {
		case <-done:
			return
		default:
		}
	}

	// Stdin ended or QUIT was sent: close the socket so the reader exits.
	_ = conn.Close()
	<-done
}
