package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strings"
)

// ListenConsole serves the line-based operator console. It exists for ssh +
// netcat use from the site network: no JSON, no dependencies on the web UI.
func (s *Server) ListenConsole(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing console socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("failed to accept: %v", err)
				continue
			}
			go s.handleConsole(conn)
		}
	}()
	return nil
}

func (s *Server) handleConsole(conn net.Conn) {
	defer conn.Close()
	log.Printf("accepted console connection from %v", conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]
		log.Printf("%v console command: %q args: %#v", conn.RemoteAddr(), cmd, args)
		switch cmd {
		case "status":
			status := s.seq.Status()
			fmt.Fprintf(conn, "ok state=%s target=%q images=%d safe=%t since=%s\n",
				status.StateName, status.Target, status.Images, status.Safe,
				status.Since.Format("15:04:05"))
		case "safe":
			v := s.monitor.Current()
			if v.Safe {
				fmt.Fprintf(conn, "ok safe\n")
			} else {
				fmt.Fprintf(conn, "ok unsafe reason=%q\n", v.Reason)
			}
		case "park":
			reason := "operator"
			if len(args) > 0 {
				reason = strings.Join(args, " ")
			}
			s.seq.RequestPark(reason)
			fmt.Fprintf(conn, "ok park requested\n")
		case "resume":
			s.seq.ClearPark()
			fmt.Fprintf(conn, "ok park request cleared\n")
		case "quit":
			return
		default:
			fmt.Fprintf(conn, "err unknown command %q\n", cmd)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading from %v: %v", conn.RemoteAddr(), err)
	}
}
