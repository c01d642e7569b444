package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"yuzu/voicebridge/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
	Skipped bool          `json:"skipped,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		switch {
		case c.Skipped:
			mark = "-"
		case !c.OK:
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Checker probes the AI backends' REST APIs with the configured credentials.
type Checker struct {
	Client     *http.Client
	OpenAIBase string
	ElevenBase string
}

func NewChecker() *Checker {
	return &Checker{
		Client:     &http.Client{Timeout: 10 * time.Second},
		OpenAIBase: "https://api.openai.com",
		ElevenBase: "https://api.elevenlabs.io",
	}
}

// CheckAll runs all health checks with the default endpoints.
func CheckAll(ctx context.Context, cfg config.Config) HealthStatus {
	return NewChecker().CheckAll(ctx, cfg)
}

// CheckAll checks the selected provider and, when credentials are present,
// the other one. Only the selected provider decides OK.
func (c *Checker) CheckAll(ctx context.Context, cfg config.Config) HealthStatus {
	selected := cfg.Provider.Name
	if selected == "" {
		selected = "openai"
	}
	checks := []CheckResult{
		c.checkOpenAI(ctx, cfg, selected == "openai"),
		c.checkElevenLabs(ctx, cfg, selected == "elevenlabs"),
	}

	allOK := true
	for _, r := range checks {
		if r.Name == selected && !r.OK {
			allOK = false
		}
	}
	if selected != "openai" && selected != "elevenlabs" {
		allOK = false
		checks = append(checks, CheckResult{Name: selected, Error: "unknown provider"})
	}

	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

func (c *Checker) checkOpenAI(ctx context.Context, cfg config.Config, required bool) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "openai"}

	if cfg.OpenAI.APIKey == "" {
		if required {
			result.Error = "OPENAI_API_KEY not set"
		} else {
			result.Skipped = true
		}
		return result
	}

	// Listing models is the cheapest authenticated call
	url := strings.TrimRight(c.OpenAIBase, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("Authorization", "Bearer "+cfg.OpenAI.APIKey)

	return c.finish(req, start, result, "")
}

func (c *Checker) checkElevenLabs(ctx context.Context, cfg config.Config, required bool) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "elevenlabs"}

	if cfg.Eleven.AgentID == "" {
		if required {
			result.Error = "ELEVENLABS_AGENT_ID not set"
		} else {
			result.Skipped = true
		}
		return result
	}

	url := fmt.Sprintf("%s/v1/convai/agents/%s", strings.TrimRight(c.ElevenBase, "/"), cfg.Eleven.AgentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	if cfg.Eleven.APIKey != "" {
		req.Header.Set("xi-api-key", cfg.Eleven.APIKey)
	}

	return c.finish(req, start, result, fmt.Sprintf("agent %q not found", cfg.Eleven.AgentID))
}

func (c *Checker) finish(req *http.Request, start time.Time, result CheckResult, notFound string) CheckResult {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.Latency = time.Since(start)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		result.Error = "invalid API key (401)"
		return result
	case resp.StatusCode == http.StatusNotFound && notFound != "":
		result.Error = notFound
		return result
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}

	io.Copy(io.Discard, resp.Body)
	result.OK = true
	return result
}
