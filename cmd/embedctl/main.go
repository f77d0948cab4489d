package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var client = &http.Client{Timeout: 65 * time.Second}

func main() {
	server := flag.String("server", "http://localhost:8080", "embedder server URL")
	table := flag.String("table", "", "embeddings table to index into")
	flag.Parse()

	fmt.Println("Embedder CLI")
	fmt.Printf("Server: %s\n", *server)
	fmt.Println("Type 'exit' or 'quit' to leave. Plain lines are indexed into the selected table.")
	fmt.Println("Commands: /models, /ready, /use <table>, /search <table> <query>, /generate <prompt>")
	fmt.Println("---")

	tables := fetchModels(*server)
	if *table == "" && len(tables) > 0 {
		*table = tables[0]
	}
	if *table != "" {
		fmt.Printf("Indexing into %s\n", *table)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}

		cmd, rest, _ := strings.Cut(input, " ")
		switch cmd {
		case "/models":
			fetchModels(*server)
		case "/ready":
			fetchReady(*server)
		case "/use":
			if rest == "" {
				printError("usage: /use <table>")
				continue
			}
			*table = rest
			fmt.Printf("Indexing into %s\n", *table)
		case "/search":
			name, query, ok := strings.Cut(rest, " ")
			if !ok || query == "" {
				printError("usage: /search <table> <query>")
				continue
			}
			search(*server, name, query)
		case "/generate":
			generate(*server, rest)
		default:
			if *table == "" {
				printError("no table selected; use /use <table>")
				continue
			}
			index(*server, *table, input)
		}
	}
}

// fetchModels prints the configured models and returns the embedding tables.
func fetchModels(server string) []string {
	var models []struct {
		Kind       string `json:"kind"`
		Backend    string `json:"backend"`
		Model      string `json:"model"`
		Table      string `json:"table"`
		Dimensions int    `json:"dimensions"`
	}
	if !getJSON(server+"/api/models", &models) {
		return nil
	}
	if len(models) == 0 {
		fmt.Println("No models configured.")
		return nil
	}
	var tables []string
	fmt.Println("Models:")
	for _, m := range models {
		if m.Table != "" {
			tables = append(tables, m.Table)
			fmt.Printf("  [%s] %s:%s -> %s (%d dims)\n", m.Kind, m.Backend, m.Model, m.Table, m.Dimensions)
		} else {
			fmt.Printf("  [%s] %s:%s\n", m.Kind, m.Backend, m.Model)
		}
	}
	return tables
}

func fetchReady(server string) {
	var status struct {
		Ready  bool `json:"ready"`
		Tables []struct {
			Table string `json:"table"`
			Ready bool   `json:"ready"`
			Error string `json:"error"`
		} `json:"tables"`
	}
	// /api/ready answers 503 with the same body while tables are pending.
	if !getJSON(server+"/api/ready", &status, http.StatusServiceUnavailable) {
		return
	}
	fmt.Println("Tables:")
	for _, t := range status.Tables {
		icon := "\033[31m✗\033[0m"
		if t.Ready {
			icon = "\033[32m✓\033[0m"
		}
		fmt.Printf("  %s %s", icon, t.Table)
		if t.Error != "" {
			fmt.Printf(" \033[31m(%s)\033[0m", t.Error)
		}
		fmt.Println()
	}
}

func index(server, table, text string) {
	var res struct {
		MetadataID int    `json:"metadata_id"`
		RefID      string `json:"ref_id"`
		Chunks     int    `json:"chunks"`
	}
	if postJSON(server+"/api/tables/"+table+"/documents", map[string]string{"text": text}, http.StatusCreated, &res) {
		fmt.Printf("Indexed document %d (%s) as %d chunk(s)\n", res.MetadataID, res.RefID, res.Chunks)
	}
}

func search(server, table, query string) {
	var res struct {
		Matches []struct {
			MetadataID int     `json:"metadata_id"`
			Text       string  `json:"text"`
			Similarity float64 `json:"similarity"`
		} `json:"matches"`
	}
	if !postJSON(server+"/api/tables/"+table+"/search", map[string]any{"query": query, "limit": 5}, http.StatusOK, &res) {
		return
	}
	if len(res.Matches) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, m := range res.Matches {
		fmt.Printf("\033[36m[%.3f]\033[0m #%d %s\n", m.Similarity, m.MetadataID, m.Text)
	}
}

func generate(server, prompt string) {
	var res struct {
		Text string `json:"text"`
	}
	if postJSON(server+"/api/generate", map[string]string{"prompt": prompt}, http.StatusOK, &res) {
		fmt.Println(res.Text)
	}
}

func getJSON(url string, out any, accepted ...int) bool {
	resp, err := client.Get(url)
	if err != nil {
		printError("Request failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	return decode(resp, out, append(accepted, http.StatusOK)...)
}

func postJSON(url string, body any, want int, out any) bool {
	data, _ := json.Marshal(body)
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		printError("Request failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	return decode(resp, out, want)
}

// decode parses the body when the status is one of accepted.
func decode(resp *http.Response, out any, accepted ...int) bool {
	ok := false
	for _, code := range accepted {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		printError("Failed to parse response: %v", err)
		return false
	}
	return true
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
