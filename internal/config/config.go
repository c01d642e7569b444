package config

import (
    "fmt"
    "log"
    "strings"

    "github.com/spf13/viper"
)

type Config struct {
    Server struct {
        Port      string
        LogLevel  string
        GRPCAddr  string
        PublicURL string
    }
    Provider struct {
        Name              string
        ConnectTimeoutSec int
    }
    OpenAI struct {
        APIKey       string
        Model        string
        Voice        string
        Instructions string
        URL          string
    }
    Eleven struct {
        APIKey  string
        AgentID string
        VoiceID string
        URL     string
    }
    Menu struct {
        File string
    }
    Observer struct {
        TokenSecret   string
        TokenSkewSecs int
    }
    Tools struct {
        TimeoutSec int
    }
}

const defaultInstructions = "You are a friendly phone assistant for a restaurant. Help the caller browse the menu, " +
    "build an order with the cart tools and confirm it with place_order. Keep answers short; this is a phone call."

func Load() Config {
    v := viper.New()
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
    v.AutomaticEnv()

    // Defaults
    v.SetDefault("server.port", 8081)
    v.SetDefault("server.log_level", "info")
    v.SetDefault("server.grpc_addr", ":9095")

    v.SetDefault("provider.name", "openai")
    v.SetDefault("provider.connect_timeout_sec", 10)

    v.SetDefault("openai.model", "gpt-4o-realtime-preview-2024-12-17")
    v.SetDefault("openai.voice", "ash")
    v.SetDefault("openai.instructions", defaultInstructions)
    v.SetDefault("openai.url", "wss://api.openai.com/v1/realtime")

    v.SetDefault("elevenlabs.url", "wss://api.elevenlabs.io/v1/convai/conversation")

    v.SetDefault("observer.token_skew_secs", 60)
    v.SetDefault("tools.timeout_sec", 15)

    // Map envs
    v.BindEnv("server.port", "PORT")
    v.BindEnv("server.log_level", "LOG_LEVEL")
    v.BindEnv("server.grpc_addr", "GRPC_HEALTH_ADDR")
    v.BindEnv("server.public_url", "PUBLIC_URL")

    v.BindEnv("provider.name", "PROVIDER")
    v.BindEnv("provider.connect_timeout_sec", "PROVIDER_CONNECT_TIMEOUT_SEC")

    v.BindEnv("openai.api_key", "OPENAI_API_KEY")
    v.BindEnv("openai.model", "OPENAI_REALTIME_MODEL")
    v.BindEnv("openai.voice", "OPENAI_VOICE")
    v.BindEnv("openai.instructions", "OPENAI_INSTRUCTIONS")
    v.BindEnv("openai.url", "OPENAI_REALTIME_URL")

    v.BindEnv("elevenlabs.api_key", "ELEVENLABS_API_KEY")
    v.BindEnv("elevenlabs.agent_id", "ELEVENLABS_AGENT_ID")
    v.BindEnv("elevenlabs.voice_id", "ELEVENLABS_VOICE_ID")
    v.BindEnv("elevenlabs.url", "ELEVENLABS_CONVAI_URL")

    v.BindEnv("menu.file", "MENU_FILE")

    v.BindEnv("observer.token_secret", "OBSERVER_TOKEN_SECRET")
    v.BindEnv("observer.token_skew_secs", "OBSERVER_TOKEN_SKEW_SECS")

    v.BindEnv("tools.timeout_sec", "TOOLS_TIMEOUT_SEC")

    var c Config
    c.Server.Port = toString(v.Get("server.port"))
    c.Server.LogLevel = v.GetString("server.log_level")
    c.Server.GRPCAddr = v.GetString("server.grpc_addr")
    c.Server.PublicURL = strings.TrimRight(v.GetString("server.public_url"), "/")

    c.Provider.Name = strings.ToLower(strings.TrimSpace(v.GetString("provider.name")))
    c.Provider.ConnectTimeoutSec = v.GetInt("provider.connect_timeout_sec")

    c.OpenAI.APIKey = v.GetString("openai.api_key")
    c.OpenAI.Model = v.GetString("openai.model")
    c.OpenAI.Voice = v.GetString("openai.voice")
    c.OpenAI.Instructions = v.GetString("openai.instructions")
    c.OpenAI.URL = v.GetString("openai.url")

    c.Eleven.APIKey = v.GetString("elevenlabs.api_key")
    c.Eleven.AgentID = v.GetString("elevenlabs.agent_id")
    c.Eleven.VoiceID = v.GetString("elevenlabs.voice_id")
    c.Eleven.URL = v.GetString("elevenlabs.url")

    c.Menu.File = v.GetString("menu.file")

    c.Observer.TokenSecret = v.GetString("observer.token_secret")
    c.Observer.TokenSkewSecs = v.GetInt("observer.token_skew_secs")

    c.Tools.TimeoutSec = v.GetInt("tools.timeout_sec")

    log.Printf("config loaded: port=%s provider=%s model=%s", c.Server.Port, c.Provider.Name, c.OpenAI.Model)
    return c
}

func toString(v any) string { return fmt.Sprint(v) }
