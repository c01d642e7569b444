package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// callsim plays the telephony side of a call against a running bridge:
// it sends start, streams silence (or a raw mu-law file) in 20ms frames and
// acknowledges every mark as if the audio had been played.
func main() {
	url := flag.String("url", "ws://localhost:8081/call", "bridge media-stream URL")
	audioFile := flag.String("audio", "", "raw 8kHz mu-law file to stream instead of silence")
	duration := flag.Duration("duration", 20*time.Second, "how long to keep the call up")
	markDelay := flag.Duration("mark-delay", 20*time.Millisecond, "simulated playback time per chunk")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelT := context.WithTimeout(ctx, *duration)
	defer cancelT()

	audio := bytes.Repeat([]byte{0xFF}, 160)
	if *audioFile != "" {
		b, err := os.ReadFile(*audioFile)
		if err != nil {
			log.Fatalf("read audio: %v", err)
		}
		if len(b) == 0 {
			log.Fatalf("%s is empty", *audioFile)
		}
		audio = b
	}

	c, _, err := websocket.Dial(ctx, *url, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *url, err)
	}
	defer c.Close(websocket.StatusNormalClosure, "call over")

	streamID := "MZ" + uuid.NewString()[:8]
	send := func(v any) error {
		b, _ := json.Marshal(v)
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return c.Write(wctx, websocket.MessageText, b)
	}

	fmt.Printf("=== call simulator ===\nstream: %s\nurl: %s\n\n", streamID, *url)
	_ = send(map[string]any{"event": "connected", "protocol": "Call"})
	if err := send(map[string]any{
		"event":     "start",
		"streamSid": streamID,
		"start": map[string]any{
			"streamSid":   streamID,
			"callSid":     "CA" + uuid.NewString()[:8],
			"mediaFormat": map[string]any{"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
		},
	}); err != nil {
		log.Fatalf("send start: %v", err)
	}

	go readLoop(ctx, c, send, *markDelay)

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	var ts int64
	off := 0
	for {
		select {
		case <-ctx.Done():
			_ = send(map[string]any{"event": "stop", "streamSid": streamID})
			fmt.Println("\n[call] done")
			return
		case <-tick.C:
			end := min(off+160, len(audio))
			chunk := audio[off:end]
			off = end % len(audio)
			ts += 20
			if err := send(map[string]any{
				"event":     "media",
				"streamSid": streamID,
				"media":     map[string]any{"timestamp": fmt.Sprint(ts), "payload": base64.StdEncoding.EncodeToString(chunk)},
			}); err != nil {
				log.Printf("send media: %v", err)
				return
			}
		}
	}
}

func readLoop(ctx context.Context, c *websocket.Conn, send func(any) error, markDelay time.Duration) {
	var chunks int
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				fmt.Printf("\n[bridge] closed: %v\n", err)
			}
			return
		}
		var f struct {
			Event string `json:"event"`
			Mark  struct {
				Name string `json:"name"`
			} `json:"mark"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			fmt.Printf("[bridge] unparseable frame: %s\n", data)
			continue
		}
		switch f.Event {
		case "media":
			chunks++
			if chunks%25 == 1 {
				fmt.Printf("[bridge] assistant audio (%d chunks)\n", chunks)
			}
		case "mark":
			name := f.Mark.Name
			time.AfterFunc(markDelay, func() {
				_ = send(map[string]any{"event": "mark", "mark": map[string]any{"name": name}})
			})
		case "clear":
			fmt.Printf("[bridge] clear after %d chunks (barge-in)\n", chunks)
			chunks = 0
		default:
			fmt.Printf("[bridge] %s\n", data)
		}
	}
}
