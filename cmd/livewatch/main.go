// Command livewatch signs in to a running board and watches a view for
// stale-view events, printing each one. With -clients above 1 it doubles as
// a load tool for the live channel.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

const sessionCookie = "session"

// Metrics tracks the run results
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	EventsReceived       int64
}

var metrics Metrics

func main() {
	host := flag.String("host", "localhost:8375", "Board server host")
	email := flag.String("email", "demo@example.com", "Account email")
	password := flag.String("password", "password123", "Account password")
	path := flag.String("path", "/protected/posts", "View path to watch")
	clients := flag.Int("clients", 1, "Number of concurrent watchers")
	duration := flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	flag.Parse()

	log.Printf("👀 Watching %s on %s with %d client(s)", *path, *host, *clients)

	session, err := signIn(&http.Client{Timeout: 10 * time.Second}, "http://"+*host, *email, *password)
	if err != nil {
		log.Fatalf("❌ Sign-in failed: %v", err)
	}
	log.Printf("✅ Signed in as %s", *email)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go runWatcher(*host, session, *path, i, *clients == 1, stopChan, &wg)
		time.Sleep(20 * time.Millisecond)
	}

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}
	select {
	case <-timeout:
		log.Println("⏱️  Duration reached")
	case <-interrupt:
		log.Println("🛑 Interrupted by user")
	}

	close(stopChan)
	wg.Wait()

	printMetrics()
}

// signIn posts the sign-in form and returns the session cookie value.
func signIn(client *http.Client, baseURL, email, password string) (string, error) {
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	form := url.Values{"email": {email}, "password": {password}}
	resp, err := c.Post(baseURL+"/sign-in", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusSeeOther {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie && ck.Value != "" {
			return ck.Value, nil
		}
	}

	if loc, err := url.Parse(resp.Header.Get("Location")); err == nil {
		if msg := loc.Query().Get("error"); msg != "" {
			return "", errors.New(msg)
		}
	}
	return "", errors.New("no session cookie in response")
}

// liveURL builds the websocket URL watching path.
func liveURL(host, path string) string {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws/live", RawQuery: url.Values{"path": {path}}.Encode()}
	return u.String()
}

func runWatcher(host, session, path string, id int, verbose bool, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	header := http.Header{"Cookie": {sessionCookie + "=" + session}}
	c, resp, err := websocket.DefaultDialer.Dial(liveURL(host, path), header)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		if resp != nil {
			log.Printf("watcher %d: handshake failed with status %d", id, resp.StatusCode)
		} else {
			log.Printf("watcher %d: %v", id, err)
		}
		return
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = c.Close() }()

	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)

	go func() {
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			atomic.AddInt64(&metrics.EventsReceived, 1)
			if verbose {
				log.Printf("stale: %s", msg)
			}
		}
	}()

	<-stopChan
	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func printMetrics() {
	log.Println("📊 Results")
	log.Println("==========")
	log.Printf("Connections Attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("Connections Successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("Connections Failed: %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("Events Received: %d", atomic.LoadInt64(&metrics.EventsReceived))
}
