// Command onyxctl is a thin HTTP client for talking to a running onyxd
// instance: a cobra root command with one subcommand per store
// operation, each opening its own connection and printing a
// human-readable result.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamware/onyx"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "onyxctl",
	Short: "Command-line client for a running onyxd instance",
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8090", "onyxd base URL")
	rootCmd.AddCommand(getCmd, setCmd, mergeCmd, clearCmd)

	setCmd.Flags().String("value", "null", "JSON value to write")
	mergeCmd.Flags().String("value", "null", "JSON delta to merge")
	clearCmd.Flags().StringSlice("preserve", nil, "keys to preserve across the clear")
}

var getCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Fetch a key's current value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		resp, err := http.Get(server + "/onyx/get?key=" + args[0])
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("get: server returned %d", resp.StatusCode)
		}

		var out struct {
			Value  onyx.Value `json:"value"`
			Exists bool       `json:"exists"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("get: decode response: %w", err)
		}
		if !out.Exists {
			fmt.Println("(absent)")
			return nil
		}
		encoded, _ := json.Marshal(out.Value)
		fmt.Println(string(encoded))
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set KEY",
	Short: "Replace a key's value wholesale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postKeyValue(cmd, args[0], "/onyx/set")
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge KEY",
	Short: "Merge a delta into a key's existing value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postKeyValue(cmd, args[0], "/onyx/merge")
	},
}

func postKeyValue(cmd *cobra.Command, key, path string) error {
	server, _ := cmd.Flags().GetString("server")
	rawValue, _ := cmd.Flags().GetString("value")

	var decoded any
	if err := json.Unmarshal([]byte(rawValue), &decoded); err != nil {
		return fmt.Errorf("--value is not valid JSON: %w", err)
	}

	body, err := json.Marshal(map[string]any{"key": key, "value": decoded})
	if err != nil {
		return err
	}
	resp, err := http.Post(server+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: server returned %d", path, resp.StatusCode)
	}
	fmt.Println("ok")
	return nil
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset the store to its default key states",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		preserve, _ := cmd.Flags().GetStringSlice("preserve")

		body, err := json.Marshal(map[string]any{"keysToPreserve": preserve})
		if err != nil {
			return err
		}
		resp, err := http.Post(server+"/onyx/clear", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("clear: server returned %d", resp.StatusCode)
		}
		fmt.Println("ok")
		return nil
	},
}
