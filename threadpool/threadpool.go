// Package threadpool implements the fixed-size worker-pool server
// architecture: a bounded number of goroutines share one channel of
// accepted connections.
package threadpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/mjyoussef/server-benchmarks/protocol"
	"github.com/mjyoussef/server-benchmarks/workload"
)

// Server serves connections with a fixed-size pool of worker goroutines.
type Server struct {
	Addr string
	Size int
}

// Run listens on s.Addr, starts s.Size worker goroutines, and dispatches
// each accepted connection to them over a shared channel until ctx is
// cancelled.
func (s Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("threadpool: listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	jobs := make(chan net.Conn)
	defer close(jobs)

	for i := 0; i < s.Size; i++ {
		go func() {
			for conn := range jobs {
				handleClient(conn)
			}
		}()
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("threadpool: accept: %w", err)
		}
		jobs <- conn
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
				fmt.Println("threadpool:", err)
			}
			return
		}

		workload.Execute(req.Work)

		resp := protocol.Response{ClientSendTime: req.SendTime}
		if err := protocol.EncodeResponse(conn, resp); err != nil {
			fmt.Println("threadpool:", err)
			return
		}
	}
}
