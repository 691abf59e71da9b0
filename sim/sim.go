// Package sim implements line-protocol device simulators for the mount,
// weather station, and camera board. They back the obsim command and the
// integration tests; no hardware is required to exercise the full control
// loop.
package sim

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
)

// Device handles one command from a connected client. The reply must be a
// full line without the trailing newline, e.g. "ok state=idle".
type Device interface {
	Handle(ctx context.Context, cmd string, args []string) string
}

// Serve accepts connections and feeds each line to the device. Device state
// persists across connections so a client reconnect resumes where the
// hardware left off.
func Serve(ctx context.Context, ln net.Listener, name string, dev Device) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("%s: accept: %v", name, err)
			continue
		}
		go func() {
			defer conn.Close()
			HandleConn(ctx, conn, name, dev)
		}()
	}
}

// HandleConn runs the request/reply loop for one connection.
func HandleConn(ctx context.Context, conn io.ReadWriter, name string, dev Device) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		input := scanner.Text()
		if input == "" {
			continue
		}
		log.Printf("srv->%s: %s", name, input)
		fields := strings.Fields(input)
		reply := dev.Handle(ctx, fields[0], fields[1:])
		log.Printf("%s->srv: %s", name, reply)
		if _, err := fmt.Fprintf(conn, "%s\n", reply); err != nil {
			log.Printf("%s: writing: %v", name, err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("%s: reading: %v", name, err)
	}
}
