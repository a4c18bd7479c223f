// obstacle-watch - follows a running detector's dashboard and prints
// every change between "obstacle" and "clear"
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-obstacle/internal/config"
	"github.com/teslashibe/go-obstacle/internal/log"
)

// retryDelay is the pause between reconnect attempts.
const retryDelay = 2 * time.Second

func main() {
	host := flag.String("host", "localhost", "Dashboard host")
	port := flag.String("port", "", "Dashboard port (overrides WEB_PORT env var)")
	all := flag.Bool("all", false, "Print every frame, not only changes")
	flag.Parse()

	log.Init(config.LogLevel(config.DefaultLogLevel))

	p := config.WebPort(config.DefaultWebPort)
	if *port != "" {
		p = *port
	}
	u := url.URL{Scheme: "ws", Host: *host + ":" + p, Path: "/ws/status"}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w := &watcher{all: *all, out: os.Stdout}
	for {
		err := w.follow(ctx, u.String())
		if ctx.Err() != nil {
			return
		}
		log.Warn("dashboard connection lost", "url", u.String(), "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

// status is the part of the dashboard's /ws/status message the watcher reads.
type status struct {
	Last *result `json:"last"`
}

type result struct {
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	EdgeDensity float64   `json:"edge_density"`
	LineCount   int       `json:"line_count"`
	Detected    bool      `json:"detected"`
}

// watcher remembers the last printed state across reconnects.
type watcher struct {
	all   bool
	out   io.Writer
	known bool
	last  bool
}

// follow reads status messages until the connection drops or ctx ends.
func (w *watcher) follow(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Info("watching detector", "url", wsURL)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()
	defer wg.Wait()
	defer close(done)

	for {
		var st status
		if err := conn.ReadJSON(&st); err != nil {
			return err
		}
		if line, ok := w.observe(st); ok {
			fmt.Fprintln(w.out, line)
		}
	}
}

// observe returns the line to print for a status update, if any.
func (w *watcher) observe(st status) (string, bool) {
	if st.Last == nil {
		return "", false
	}
	res := st.Last

	changed := !w.known || res.Detected != w.last
	w.known, w.last = true, res.Detected
	if !changed && !w.all {
		return "", false
	}

	state := "clear"
	if res.Detected {
		state = "OBSTACLE"
	}
	return fmt.Sprintf("%s  frame=%d  %-8s  density=%.4f  lines=%d",
		res.Timestamp.Format("15:04:05.000"), res.Seq, state, res.EdgeDensity, res.LineCount), true
}
