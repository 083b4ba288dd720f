// Package vanilla implements the trivial one-goroutine-per-connection
// server architecture: no readiness notification, no connection pool, no
// structured logging — just enough to serve as a comparison point for the
// event-loop engine.
package vanilla

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/mjyoussef/server-benchmarks/protocol"
	"github.com/mjyoussef/server-benchmarks/workload"
)

// Server spawns a goroutine per accepted connection.
type Server struct {
	Addr string
}

// Run listens on s.Addr and serves connections until ctx is cancelled.
func (s Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("vanilla: listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("vanilla: accept: %w", err)
		}
		go handleClient(conn)
	}
}

func handleClient(conn net.Conn) {
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	for {
		req, err := protocol.DecodeRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				fmt.Println("vanilla:", err)
			}
			return
		}

		workload.Execute(req.Work)

		resp := protocol.Response{ClientSendTime: req.SendTime}
		if err := protocol.EncodeResponse(conn, resp); err != nil {
			fmt.Println("vanilla:", err)
			return
		}
	}
}
