package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"yuzu/voicebridge/internal/tools"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, p Provider) Event {
	t.Helper()
	select {
	case ev, ok := <-p.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for provider event")
	}
	return Event{}
}

func drainUntilClosed(t *testing.T, p Provider) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-p.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel was not closed")
		}
	}
}

// fakeRealtime accepts one session, replays frames after the handshake and
// records everything the client sends.
func fakeRealtime(t *testing.T, frames []string, got chan<- map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" || r.Header.Get("OpenAI-Beta") != "realtime=v1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("model") != "test-model" {
			http.Error(w, "bad model", http.StatusBadRequest)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		readOne := func() bool {
			_, b, err := c.Read(ctx)
			if err != nil {
				return false
			}
			var m map[string]any
			if json.Unmarshal(b, &m) == nil {
				got <- m
			}
			return true
		}
		if !readOne() {
			return
		}
		for _, f := range frames {
			if err := c.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		for readOne() {
		}
	}))
}

func testOpenAIConfig(url string) Config {
	return Config{
		Name:         "openai",
		APIKey:       "sk-test",
		URL:          url,
		Model:        "test-model",
		Voice:        "ash",
		Instructions: "be brief",
		Tools: []tools.Definition{{
			Name:        "get_menu",
			Description: "list the menu",
			Parameters:  map[string]any{"type": "object"},
		}},
	}
}

func TestOpenAIHandshakeEventsAndCommands(t *testing.T) {
	got := make(chan map[string]any, 32)
	srv := fakeRealtime(t, []string{
		`{"type":"session.updated"}`,
		`{"type":"response.audio.delta","delta":"AAA=","item_id":"I1"}`,
		`not json`,
		`{"type":"response.audio.delta","delta":"BBB="}`,
		`{"type":"response.audio.done","item_id":"I1"}`,
		`{"type":"response.output_item.done","item":{"type":"function_call","name":"get_menu","arguments":"{}","call_id":"call_1"}}`,
		`{"type":"response.output_item.done","item":{"type":"message"}}`,
		`{"type":"input_audio_buffer.speech_started"}`,
		`{"type":"error","error":{"type":"invalid_request_error","code":"bad_item","message":"nope"}}`,
	}, got)
	defer srv.Close()

	p := NewOpenAI(testOpenAIConfig(wsURL(srv)))
	require.NoError(t, p.SendAudio("early"), "audio before connect is a silent no-op")
	require.NoError(t, p.Connect(context.Background()))
	require.True(t, p.IsConnected())

	hs := <-got
	require.Equal(t, "session.update", hs["type"])
	sess := hs["session"].(map[string]any)
	require.Equal(t, "g711_ulaw", sess["input_audio_format"])
	require.Equal(t, "g711_ulaw", sess["output_audio_format"])
	require.Equal(t, "ash", sess["voice"])
	require.Equal(t, "be brief", sess["instructions"])
	require.Equal(t, "server_vad", sess["turn_detection"].(map[string]any)["type"])
	toolList := sess["tools"].([]any)
	require.Len(t, toolList, 1)
	require.Equal(t, "function", toolList[0].(map[string]any)["type"])
	require.Equal(t, "get_menu", toolList[0].(map[string]any)["name"])

	require.Equal(t, EventOpen, nextEvent(t, p).Kind)
	ev := nextEvent(t, p)
	require.Equal(t, EventAudio, ev.Kind)
	require.Equal(t, "AAA=", ev.Payload)
	require.Equal(t, "I1", ev.ItemID)
	ev = nextEvent(t, p)
	require.Equal(t, EventAudio, ev.Kind)
	require.Empty(t, ev.ItemID)
	require.Equal(t, EventAudioDone, nextEvent(t, p).Kind)
	ev = nextEvent(t, p)
	require.Equal(t, EventFunctionCall, ev.Kind)
	require.Equal(t, FunctionCall{Name: "get_menu", Arguments: "{}", CallID: "call_1"}, *ev.Call)
	require.Equal(t, EventSpeechStarted, nextEvent(t, p).Kind)
	ev = nextEvent(t, p)
	require.Equal(t, EventError, ev.Kind)
	var re *RemoteError
	require.ErrorAs(t, ev.Err, &re)
	require.Equal(t, "bad_item", re.Code)

	require.NoError(t, p.SendAudio("CCC="))
	require.NoError(t, p.SendFunctionResponse("get_menu", "call_1", tools.Result{Payload: json.RawMessage(`{"items":[]}`)}))
	require.NoError(t, p.Truncate("I1", 500))
	require.NoError(t, p.Interrupt())

	m := <-got
	require.Equal(t, "input_audio_buffer.append", m["type"])
	require.Equal(t, "CCC=", m["audio"])
	m = <-got
	require.Equal(t, "conversation.item.create", m["type"])
	item := m["item"].(map[string]any)
	require.Equal(t, "function_call_output", item["type"])
	require.Equal(t, "call_1", item["call_id"])
	require.Equal(t, `{"items":[]}`, item["output"])
	require.Equal(t, "response.create", (<-got)["type"])
	m = <-got
	require.Equal(t, "conversation.item.truncate", m["type"])
	require.Equal(t, "I1", m["item_id"])
	require.EqualValues(t, 0, m["content_index"])
	require.EqualValues(t, 500, m["audio_end_ms"])
	require.Equal(t, "response.cancel", (<-got)["type"])

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.False(t, p.IsConnected())
	drainUntilClosed(t, p)
}

func TestOpenAIRemoteCloseEmitsClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = c.Read(r.Context())
		c.Close(websocket.StatusGoingAway, "server restart")
	}))
	defer srv.Close()

	p := NewOpenAI(testOpenAIConfig(wsURL(srv)))
	require.NoError(t, p.Connect(context.Background()))
	require.Equal(t, EventOpen, nextEvent(t, p).Kind)
	ev := nextEvent(t, p)
	require.Equal(t, EventClose, ev.Kind)
	require.Equal(t, int(websocket.StatusGoingAway), ev.Code)
	require.False(t, p.IsConnected())
	require.ErrorIs(t, p.Interrupt(), ErrNotConnected)
	drainUntilClosed(t, p)
	require.NoError(t, p.Close())
}

func TestOpenAICloseDoesNotWaitForPeer(t *testing.T) {
	stall := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = c.Read(r.Context())
		// never read again, so the close frame is never answered
		<-stall
		_ = c.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()
	defer close(stall)

	p := NewOpenAI(testOpenAIConfig(wsURL(srv)))
	require.NoError(t, p.Connect(context.Background()))
	require.Equal(t, EventOpen, nextEvent(t, p).Kind)

	start := time.Now()
	require.NoError(t, p.Close())
	require.Less(t, time.Since(start), 250*time.Millisecond)
	require.False(t, p.IsConnected())
	drainUntilClosed(t, p)
}

func TestOpenAIDropsAudioOfTruncatedItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"response.audio.delta","item_id":"I1","delta":"AAA="}`))
		for {
			_, b, err := c.Read(ctx)
			if err != nil {
				return
			}
			if strings.Contains(string(b), "conversation.item.truncate") {
				break
			}
		}
		// deltas already in flight for I1, then the next response
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"response.audio.delta","item_id":"I1","delta":"BBB="}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"response.audio.delta","item_id":"I2","delta":"CCC="}`))
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p := NewOpenAI(testOpenAIConfig(wsURL(srv)))
	require.NoError(t, p.Connect(context.Background()))
	require.Equal(t, EventOpen, nextEvent(t, p).Kind)
	ev := nextEvent(t, p)
	require.Equal(t, EventAudio, ev.Kind)
	require.Equal(t, "AAA=", ev.Payload)

	require.NoError(t, p.Truncate("I1", 120))
	ev = nextEvent(t, p)
	require.Equal(t, EventAudio, ev.Kind)
	require.Equal(t, "I2", ev.ItemID)
	require.Equal(t, "CCC=", ev.Payload)
	require.NoError(t, p.Close())
}

func TestOpenAIDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := testOpenAIConfig(wsURL(srv))
	p := NewOpenAI(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, p.Connect(ctx))
	require.False(t, p.IsConnected())
	require.NoError(t, p.Close())
}

func TestNewChecksCredentials(t *testing.T) {
	_, err := New(Config{Name: "openai"})
	require.ErrorIs(t, err, ErrMissingCredentials)
	_, err = New(Config{Name: "elevenlabs", APIKey: "x"})
	require.ErrorIs(t, err, ErrMissingCredentials)
	_, err = New(Config{Name: "gemini", APIKey: "x"})
	require.ErrorIs(t, err, ErrUnknownProvider)

	p, err := New(Config{APIKey: "sk"})
	require.NoError(t, err)
	require.Equal(t, "openai", p.Name())
	_, ok := p.(Truncater)
	require.True(t, ok)

	p, err = New(Config{Name: "ElevenLabs", AgentID: "agent"})
	require.NoError(t, err)
	require.Equal(t, "elevenlabs", p.Name())
	_, ok = p.(Truncater)
	require.False(t, ok)
}
