package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var serverURL string

func main() {
	rootCmd := &cobra.Command{
		Use:   "accuracyctl",
		Short: "accuracyctl - interact with an accuracyd server",
		Long: `accuracyctl is a command-line interface for the accuracy aggregation service.
All output is structured JSON (pipe through jq for human-readable formatting).`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getDefaultServer(), "accuracyd server URL")

	rootCmd.AddCommand(newProfileCommand())
	rootCmd.AddCommand(newAnalyzeCommand())
	rootCmd.AddCommand(newStatusCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getDefaultServer() string {
	if server := os.Getenv("ACCURACY_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8085"
}

// --- HTTP client ---

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func newClient() *Client {
	return &Client{
		BaseURL: serverURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(method, path string, data interface{}) ([]byte, error) {
	u := fmt.Sprintf("%s%s", c.BaseURL, path)

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		body = strings.NewReader(string(jsonData))
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (c *Client) get(path string) ([]byte, error) {
	return c.do("GET", path, nil)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	return c.do("POST", path, data)
}

func (c *Client) delete(path string) ([]byte, error) {
	return c.do("DELETE", path, nil)
}

// outputJSON pretty-prints JSON data, falling back to raw output.
func outputJSON(data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(string(pretty))
}

// --- profile commands ---

func newProfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage cached accuracy profiles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <user-id>",
		Short: "Fetch a user's cached accuracy profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/profiles/" + args[0])
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "flush <user-id>",
		Short: "Force a synchronous durable flush of a user's profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/profiles/"+args[0]+"/flush", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup <user-id>",
		Short: "Flush and evict a user's cache entry (logout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := newClient().delete("/api/v1/profiles/" + args[0]); err != nil {
				return err
			}
			fmt.Println(`{"cleaned":true}`)
			return nil
		},
	})

	return cmd
}

// --- analyze command ---

func newAnalyzeCommand() *cobra.Command {
	var (
		userID    string
		requestID string
		text      string
		tier      string
		scoresRaw string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Submit per-message scores for aggregation",
		RunE: func(cmd *cobra.Command, args []string) error {
			var scores map[string]float64
			if scoresRaw != "" {
				if err := json.Unmarshal([]byte(scoresRaw), &scores); err != nil {
					return fmt.Errorf("failed to parse --scores: %w", err)
				}
			}

			payload := map[string]interface{}{
				"user_id":    userID,
				"request_id": requestID,
				"text":       text,
				"tier":       tier,
				"scores":     scores,
			}
			data, err := newClient().post("/api/v1/analyze", payload)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID (required)")
	cmd.Flags().StringVarP(&requestID, "request-id", "r", "", "Idempotency key")
	cmd.Flags().StringVarP(&text, "text", "t", "", "Message text")
	cmd.Flags().StringVar(&tier, "tier", "free", "Analysis tier: free, premium")
	cmd.Flags().StringVar(&scoresRaw, "scores", "", `Raw category scores as JSON, e.g. '{"grammar":80,"vocabulary":75}'`)
	cmd.MarkFlagRequired("user")

	return cmd
}

// --- status command ---

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/healthz")
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}
