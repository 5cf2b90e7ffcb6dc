package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Chiwai15/agent-memory-chatbot/internal/config"
)

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(ansiBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- memories ---

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "Inspect or clear stored long-term memories",
}

var memoriesListCmd = &cobra.Command{
	Use:   "list <user_id>",
	Short: "List every stored memory for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/memories/"+args[0])
		if err != nil {
			return err
		}

		var body struct {
			Total    int `json:"total"`
			Memories []struct {
				ID                string  `json:"id"`
				EntityType        string  `json:"entity_type"`
				Value             string  `json:"value"`
				Confidence        float64 `json:"confidence"`
				TemporalStatus    string  `json:"temporal_status"`
				ReferenceSentence string  `json:"reference_sentence"`
				CreatedAt         string  `json:"created_at"`
			} `json:"memories"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		if body.Total == 0 {
			fmt.Println("No memories stored.")
			return nil
		}

		for _, m := range body.Memories {
			fmt.Printf("%s  %s: %s",
				colorize(ansiCyan, m.ID[:8]),
				colorize(ansiBold, m.EntityType),
				m.Value,
			)
			if m.TemporalStatus != "" && m.TemporalStatus != "none" {
				fmt.Printf(" (%s)", m.TemporalStatus)
			}
			fmt.Printf("  [confidence %.2f]\n", m.Confidence)
			if m.ReferenceSentence != "" {
				fmt.Printf("          %q\n", m.ReferenceSentence)
			}
		}
		return nil
	},
}

var memoriesClearCmd = &cobra.Command{
	Use:   "clear [user_id]",
	Short: "Delete stored memories for a user, or for everyone with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return fmt.Errorf("a user_id is required unless --all is given")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/memories"
		if !all {
			path += "/" + args[0]
		}
		resp, err := client.delete(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Deleted int `json:"deleted"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %d memories", result.Deleted)
		return nil
	},
}

func init() {
	memoriesClearCmd.Flags().Bool("all", false, "clear memories for every user")
	memoriesCmd.AddCommand(memoriesListCmd)
	memoriesCmd.AddCommand(memoriesClearCmd)
}

// --- conversation ---

var conversationCmd = &cobra.Command{
	Use:   "conversation <user_id>",
	Short: "Show the windowed conversation history for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/conversation/"+args[0])
		if err != nil {
			return err
		}

		var body struct {
			Total    int `json:"total"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		if len(body.Messages) == 0 {
			fmt.Println("No conversation history.")
			return nil
		}

		for _, m := range body.Messages {
			label := colorize(ansiCyan, m.Role)
			if m.Role == "user" {
				label = colorize(ansiBold, m.Role)
			}
			fmt.Printf("%s: %s\n", label, m.Content)
		}
		if body.Total > len(body.Messages) {
			fmt.Printf("\n(%d older turns outside the window)\n", body.Total-len(body.Messages))
		}
		return nil
	},
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <user_id> <message>",
	Short: "Send one chat message against the running server",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"user_id":       args[0],
			"message":       args[1],
			"memory_source": mode,
		}
		resp, err := client.post(cmd.Context(), "/chat", req)
		if err != nil {
			return err
		}

		var body struct {
			Response       string   `json:"response"`
			FactsExtracted []string `json:"facts_extracted"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		fmt.Println(body.Response)
		for _, fact := range body.FactsExtracted {
			printFact(fact)
		}
		return nil
	},
}

func init() {
	chatCmd.Flags().String("mode", "both", "memory tiers to use: short, long, or both")
}
