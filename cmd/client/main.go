// Package main provides a CLI client for the market simulator demo HTTP
// surface, built on cobra/pflag in place of the teacher's hand-rolled
// flag.FlagSet subcommand switch, with the same subcommand set (submit,
// cancel, book, account, stats, demo) adapted to agents/bid-ask vocabulary.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var serverURL string

	root := &cobra.Command{
		Use:   "marketsim-client",
		Short: "CLI client for the deterministic multi-agent market simulator",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "server base URL")

	root.AddCommand(
		newCreateAgentCmd(&serverURL),
		newSubmitCmd(&serverURL),
		newCancelCmd(&serverURL),
		newBookCmd(&serverURL),
		newAccountCmd(&serverURL),
		newStatsCmd(&serverURL),
		newTickCmd(&serverURL),
		newDemoCmd(&serverURL),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCreateAgentCmd(serverURL *string) *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "create-agent",
		Short: "Register a new agent and print its id and API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := postJSON(*serverURL+"/agents", map[string]string{"display_name": displayName})
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "name", "agent", "display name for the new agent")
	return cmd
}

func newSubmitCmd(serverURL *string) *cobra.Command {
	var (
		apiKey         string
		side           string
		price          string
		quantity       string
		idempotencyKey string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a place-limit-order action",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"idempotency_key": idempotencyKey,
				"actions": []map[string]string{{
					"kind":     "place_limit_order",
					"side":     side,
					"price":    price,
					"quantity": quantity,
				}},
			}
			resp, err := postJSONAuth(*serverURL+"/actions", apiKey, body)
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "agent API key")
	cmd.Flags().StringVar(&side, "side", "bid", "order side: bid or ask")
	cmd.Flags().StringVar(&price, "price", "100.00000000", "limit price")
	cmd.Flags().StringVar(&quantity, "quantity", "1.00000000", "order quantity")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotency key for this submission")
	_ = cmd.MarkFlagRequired("api-key")
	return cmd
}

func newCancelCmd(serverURL *string) *cobra.Command {
	var (
		apiKey         string
		orderID        string
		idempotencyKey string
	)
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Submit a cancel-order action",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"idempotency_key": idempotencyKey,
				"actions": []map[string]string{{
					"kind":     "cancel_order",
					"order_id": orderID,
				}},
			}
			resp, err := postJSONAuth(*serverURL+"/actions", apiKey, body)
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "agent API key")
	cmd.Flags().StringVar(&orderID, "order-id", "", "id of the order to cancel")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotency key for this submission")
	_ = cmd.MarkFlagRequired("api-key")
	_ = cmd.MarkFlagRequired("order-id")
	return cmd
}

func newBookCmd(serverURL *string) *cobra.Command {
	var levels int
	cmd := &cobra.Command{
		Use:   "book",
		Short: "View the current order book",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrintBook(*serverURL, levels)
		},
	}
	cmd.Flags().IntVar(&levels, "levels", 10, "number of depth levels to display per side")
	return cmd
}

func newAccountCmd(serverURL *string) *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "account",
		Short: "View an agent's balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := getJSON(fmt.Sprintf("%s/agents/%s", *serverURL, agentID))
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "id", "", "agent id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newStatsCmd(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "View run-wide statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := getJSON(*serverURL + "/stats")
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
}

func newTickCmd(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Manually advance one tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := postJSON(*serverURL+"/tick", nil)
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
}

func newDemoCmd(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted demonstration: two agents, a crossing trade, a tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(*serverURL)
		},
	}
}

func runDemo(serverURL string) error {
	fmt.Println("=== Market Simulator Demo ===")

	fmt.Println("1. Initial order book (empty):")
	if err := getAndPrintBook(serverURL, 5); err != nil {
		return err
	}

	fmt.Println("\n2. Creating two agents:")
	maker, err := createDemoAgent(serverURL, "maker")
	if err != nil {
		return err
	}
	taker, err := createDemoAgent(serverURL, "taker")
	if err != nil {
		return err
	}

	fmt.Println("\n3. Maker posts a resting ask:")
	if _, err := submitDemoAction(serverURL, maker.apiKey, "ask", "150.00000000", "10.00000000", "demo-ask-1"); err != nil {
		return err
	}

	fmt.Println("\n4. Taker crosses it with a bid:")
	if _, err := submitDemoAction(serverURL, taker.apiKey, "bid", "150.00000000", "10.00000000", "demo-bid-1"); err != nil {
		return err
	}

	fmt.Println("\n5. Advancing one tick:")
	tickResp, err := postJSON(serverURL+"/tick", nil)
	if err != nil {
		return err
	}
	printJSON(tickResp)

	fmt.Println("\n6. Order book after the tick:")
	if err := getAndPrintBook(serverURL, 5); err != nil {
		return err
	}

	fmt.Println("\n7. Agent balances:")
	for _, agentID := range []string{maker.id, taker.id} {
		resp, err := getJSON(fmt.Sprintf("%s/agents/%s", serverURL, agentID))
		if err != nil {
			return err
		}
		printJSON(resp)
	}

	fmt.Println("\n=== Demo Complete ===")
	return nil
}

type demoAgent struct {
	id     string
	apiKey string
}

func createDemoAgent(serverURL, name string) (demoAgent, error) {
	resp, err := postJSON(serverURL+"/agents", map[string]string{"display_name": name})
	if err != nil {
		return demoAgent{}, err
	}
	printJSON(resp)
	return demoAgent{id: resp["agent_id"].(string), apiKey: resp["api_key"].(string)}, nil
}

func submitDemoAction(serverURL, apiKey, side, price, quantity, idempotencyKey string) (map[string]interface{}, error) {
	body := map[string]interface{}{
		"idempotency_key": idempotencyKey,
		"actions": []map[string]string{{
			"kind":     "place_limit_order",
			"side":     side,
			"price":    price,
			"quantity": quantity,
		}},
	}
	resp, err := postJSONAuth(serverURL+"/actions", apiKey, body)
	if err != nil {
		return nil, err
	}
	printJSON(resp)
	return resp, nil
}

func getAndPrintBook(serverURL string, levels int) error {
	resp, err := getJSON(fmt.Sprintf("%s/book?levels=%d", serverURL, levels))
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

func postJSON(url string, body interface{}) (map[string]interface{}, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeJSON(resp.Body)
}

func postJSONAuth(url, apiKey string, body interface{}) (map[string]interface{}, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeJSON(resp.Body)
}

func getJSON(url string) (map[string]interface{}, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeJSON(resp.Body)
}

func decodeJSON(r io.Reader) (map[string]interface{}, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, string(body))
	}
	return out, nil
}

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
