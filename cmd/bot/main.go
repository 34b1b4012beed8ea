package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"robominions.dev/internal/client"
	"robominions.dev/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "player name")
		interval = flag.Duration("interval", 500*time.Millisecond, "delay between actions")
		count    = flag.Int("count", 0, "stop after this many actions (0 = run until interrupted)")
		timeout  = flag.Duration("timeout", 10*time.Second, "per-request timeout")
		retries  = flag.Int("retries", 1, "retries after a timeout")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dialCtx, *url, *name, client.Options{Logger: logger, Timeout: *timeout, Retries: *retries})
	cancel()
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()
	logger.Printf("WELCOME session=%s name=%s tick_rate=%d", c.SessionID(), c.Name(), c.TickRateHz())

	r := rand.New(rand.NewSource(*seed))
	dirs := protocol.Directions()
	t := time.NewTicker(*interval)
	defer t.Stop()

	for n := 0; *count == 0 || n < *count; n++ {
		select {
		case <-ctx.Done():
			logStats(logger, c)
			return
		case <-c.Done():
			logger.Printf("connection closed")
			return
		case <-t.C:
		}

		d := dirs[r.Intn(len(dirs))]
		var (
			verb string
			ok   bool
			err  error
		)
		switch r.Intn(4) {
		case 0:
			verb = "move"
			ok, err = c.Move(ctx, d)
		case 1:
			verb = "turn"
			ok, err = c.Turn(ctx, d)
		case 2:
			verb = "mine"
			ok, err = c.Mine(ctx, d)
		default:
			verb = "place"
			ok, err = c.Place(ctx, d, protocol.MatCobblestone)
		}
		switch {
		case errors.Is(err, client.ErrTimeout):
			// No robot yet, or the world dropped it.
			logger.Printf("%s %s: no result", verb, d)
		case err != nil:
			logger.Printf("%s %s: %v", verb, d, err)
		default:
			logger.Printf("%s %s -> %v", verb, d, ok)
		}
	}
	logStats(logger, c)
}

func logStats(logger *log.Logger, c *client.Client) {
	st := c.Stats()
	logger.Printf("sent=%d results=%d retries=%d late=%d", st.Sent, st.Results, st.Retries, st.Late)
}
