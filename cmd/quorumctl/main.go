// quorumctl is the command line client for the quorum HTTP API: it submits
// questions to the deliberation protocols and drives the admin surface.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

var version = "dev"

// loadEnvFile reads ~/.quorum/env and sets any key=value pairs not already
// present in the process environment, so quorumctl works out of the box
// without shell profile configuration.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	data, err := os.ReadFile(home + "/.quorum/env")
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if os.Getenv(strings.TrimSpace(k)) == "" {
			_ = os.Setenv(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
}

func main() {
	loadEnvFile()
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("quorumctl %s\n", version)
	case "ask":
		doAsk(args)
	case "stream":
		doStream(args)
	case "vote":
		doVote(args)
	case "decompose":
		doDecompose(args)
	case "model", "models":
		doModels()
	case "session", "sessions":
		doSessions(args)
	case "status":
		doStatus()
	case "health":
		doHealth()
	case "stats":
		doStats()
	case "cost":
		doCost(args)
	case "audit":
		doAudit(args)
	case "usage":
		doUsage(args)
	case "apikey", "apikeys":
		doAPIKeys(args)
	case "vault":
		doVault(args)
	case "events":
		doEvents()
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `quorumctl — CLI for the quorum consensus API

Usage: quorumctl <command> [arguments]

Environment:
  QUORUM_URL          Base URL (default: http://localhost:8080)
  QUORUM_API_KEY      Bearer key for /v1 endpoints (when auth is enabled)
  QUORUM_ADMIN_TOKEN  Token for /admin/v1 endpoints

  ~/.quorum/env       Auto-sourced on startup; explicit environment
                      variables take precedence.

Commands:
  ask <question> [--thread ID]            Run a full consensus session
  stream <question>                       Run consensus, streaming phase events
  vote <question> [--strategy S]          Parallel vote (majority or weighted)
  decompose <question> [--max N] [--strategy S] [--serial]
                                          Decompose into subtasks and synthesize

  models                                  List the panel roster
  sessions [--limit N]                    List archived sessions
  session <thread-id>                     Show one session with its rounds

  status                                  Show server health summary
  health                                  Show provider health stats
  stats                                   Show session aggregates
  cost [reset]                            Show or reset accumulated spend
  audit [--limit N]                       Show audit log
  usage [--limit N]                       Show per-call usage log

  apikey list                             List API keys
  apikey create <json>                    Create a new API key
  apikey rotate <id>                      Rotate an API key
  apikey edit <id> <json>                 Patch an API key
  apikey delete <id>                      Revoke an API key

  vault unlock <password>                 Unlock the credential vault
  vault lock                              Lock the credential vault

  events                                  Stream real-time SSE events

  version                                 Show version
  help                                    Show this help

Examples:
  quorumctl ask "Which database should we use for the event log?"
  quorumctl vote "Summarize the tradeoffs of gRPC vs REST" --strategy weighted
  quorumctl decompose "Design a rate limiter" --max 4
  quorumctl apikey create '{"name":"ci","scopes":"[\"consensus\",\"vote\"]"}'
  quorumctl vault unlock "my-secret-password"
`)
}

// --- HTTP helpers ---

func baseURL() string {
	if u := os.Getenv("QUORUM_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8080"
}

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, baseURL()+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("QUORUM_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if tok := os.Getenv("QUORUM_ADMIN_TOKEN"); tok != "" {
		req.Header.Set("X-Admin-Token", tok)
	}
	// Sessions deliberate for minutes; no client timeout.
	return http.DefaultClient.Do(req)
}

func doGet(path string) map[string]any {
	resp, err := doRequest("GET", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPost(path, bodyJSON string) map[string]any {
	resp, err := doRequest("POST", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPatch(path, bodyJSON string) map[string]any {
	resp, err := doRequest("PATCH", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doDelete(path string) map[string]any {
	resp, err := doRequest("DELETE", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func readJSON(resp *http.Response) map[string]any {
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		fmt.Println(string(data))
		os.Exit(0)
	}
	return result
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func requireArgs(args []string, min int, usage string) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "usage: quorumctl %s\n", usage)
		os.Exit(1)
	}
}

func parseLimit(args []string) int {
	for i, a := range args {
		if a == "--limit" && i+1 < len(args) {
			n, _ := strconv.Atoi(args[i+1])
			if n > 0 {
				return n
			}
		}
	}
	return 50
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

// question joins the non-flag arguments into the prompt text.
func question(args []string) string {
	var parts []string
	skip := false
	for _, a := range args {
		if skip {
			skip = false
			continue
		}
		if strings.HasPrefix(a, "--") {
			if a != "--serial" {
				skip = true
			}
			continue
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// --- Protocol commands ---

func printSession(result map[string]any) {
	fmt.Printf("Thread:     %v\n", result["thread_id"])
	fmt.Printf("Confidence: %.2f\n", num(result["confidence"]))
	if r, ok := result["rigor"].(float64); ok && r > 0 {
		fmt.Printf("Rigor:      %.2f\n", r)
	}
	fmt.Printf("Rounds:     %d\n", int(num(result["rounds"])))
	fmt.Printf("Cost:       $%.4f\n", num(result["cost_usd"]))
	if d, ok := result["dissent"].(string); ok && d != "" {
		fmt.Printf("\nDissent:\n%s\n", d)
	}
	fmt.Printf("\nDecision:\n%v\n", result["decision"])
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}

func doAsk(args []string) {
	requireArgs(args, 1, `ask <question> [--thread ID]`)
	body := map[string]any{"question": question(args)}
	if id := flagValue(args, "--thread"); id != "" {
		body["thread_id"] = id
	}
	b, _ := json.Marshal(body)
	printSession(doPost("/v1/consensus", string(b)))
}

func doStream(args []string) {
	requireArgs(args, 1, `stream <question>`)
	b, _ := json.Marshal(map[string]any{"question": question(args)})
	resp, err := doRequest("POST", "/v1/consensus/stream", strings.NewReader(string(b)))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	streamSSE(resp.Body)
}

func doVote(args []string) {
	requireArgs(args, 1, `vote <question> [--strategy majority|weighted]`)
	body := map[string]any{"question": question(args)}
	if s := flagValue(args, "--strategy"); s != "" {
		body["strategy"] = s
	}
	b, _ := json.Marshal(body)
	printSession(doPost("/v1/vote", string(b)))
}

func doDecompose(args []string) {
	requireArgs(args, 1, `decompose <question> [--max N] [--strategy merge|prioritize] [--serial]`)
	body := map[string]any{"question": question(args)}
	if m := flagValue(args, "--max"); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			body["max_subtasks"] = n
		}
	}
	if s := flagValue(args, "--strategy"); s != "" {
		body["strategy"] = s
	}
	if hasFlag(args, "--serial") {
		body["parallel"] = false
	}
	b, _ := json.Marshal(body)
	printSession(doPost("/v1/decompose", string(b)))
}

// --- Inspection commands ---

func doModels() {
	data := doGet("/v1/models")
	models, _ := data["models"].([]any)
	if len(models) == 0 {
		fmt.Println("No models registered.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "MODEL_REF\tNAME\tCONTEXT\tIN $/MTOK\tOUT $/MTOK\tPROPOSER")
	for _, m := range models {
		mm, _ := m.(map[string]any)
		ref := fmt.Sprintf("%v:%v", mm["provider_id"], mm["model_id"])
		_, _ = fmt.Fprintf(tw, "%s\t%v\t%d\t%.2f\t%.2f\t%v\n",
			ref, mm["display_name"], int(num(mm["context_window"])),
			num(mm["input_cost_per_mtok"]), num(mm["output_cost_per_mtok"]),
			mm["proposer_eligible"])
	}
	_ = tw.Flush()
}

func doSessions(args []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "--") {
		data := doGet("/v1/sessions/" + args[0])
		fmt.Println(prettyJSON(data))
		return
	}
	data := doGet(fmt.Sprintf("/v1/sessions?limit=%d", parseLimit(args)))
	sessions, _ := data["sessions"].([]any)
	if len(sessions) == 0 {
		fmt.Println("No archived sessions.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "THREAD\tPROTOCOL\tSTATE\tROUNDS\tCONF\tCOST\tUPDATED")
	for _, s := range sessions {
		ss, _ := s.(map[string]any)
		updated, _ := ss["updated_at"].(string)
		if t, err := time.Parse(time.RFC3339, updated); err == nil {
			updated = t.Local().Format("2006-01-02 15:04:05")
		}
		_, _ = fmt.Fprintf(tw, "%v\t%v\t%v\t%d\t%.2f\t$%.4f\t%s\n",
			ss["thread_id"], ss["protocol"], ss["state"],
			int(num(ss["rounds"])), num(ss["confidence"]), num(ss["cost_usd"]), updated)
	}
	_ = tw.Flush()
}

func doStatus() {
	resp, err := doRequest("GET", "/healthz", nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	var h map[string]any
	_ = json.Unmarshal(data, &h)

	fmt.Printf("Server:    %s\n", baseURL())
	fmt.Printf("Status:    %v\n", h["status"])
	fmt.Printf("Providers: %d\n", int(num(h["providers"])))
	fmt.Printf("Models:    %d\n", int(num(h["models"])))
}

func doHealth() {
	data := doGet("/admin/v1/providers/health")
	providers, _ := data["providers"].([]any)
	if len(providers) == 0 {
		fmt.Println("No provider health data available.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROVIDER\tSTATE\tREQUESTS\tERRORS\tCONSEC\tAVG LATENCY")
	for _, p := range providers {
		pp, _ := p.(map[string]any)
		_, _ = fmt.Fprintf(tw, "%v\t%v\t%d\t%d\t%d\t%.0fms\n",
			pp["provider_id"], pp["state"],
			int(num(pp["total_requests"])), int(num(pp["total_errors"])),
			int(num(pp["consec_errors"])), num(pp["avg_latency_ms"]))
	}
	_ = tw.Flush()
}

func doStats() {
	fmt.Println(prettyJSON(doGet("/admin/v1/stats")))
}

func doCost(args []string) {
	if len(args) > 0 && args[0] == "reset" {
		result := doPost("/admin/v1/cost/reset", "{}")
		if ok, _ := result["ok"].(bool); ok {
			fmt.Println("Cost counters reset.")
		}
		return
	}
	data := doGet("/admin/v1/cost")
	fmt.Printf("Total:      $%.4f\n", num(data["total_usd"]))
	if limit := num(data["hard_limit_usd"]); limit > 0 {
		fmt.Printf("Hard limit: $%.2f\n", limit)
	}
	byProvider, _ := data["by_provider"].(map[string]any)
	if len(byProvider) > 0 {
		fmt.Println("\nBy provider:")
		for id, v := range byProvider {
			fmt.Printf("  %-16s $%.4f\n", id, num(v))
		}
	}
}

func doAudit(args []string) {
	data := doGet(fmt.Sprintf("/admin/v1/audit?limit=%d", parseLimit(args)))
	logs, _ := data["logs"].([]any)
	if len(logs) == 0 {
		fmt.Println("No audit entries.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tACTION\tRESOURCE")
	for _, l := range logs {
		ll, _ := l.(map[string]any)
		ts, _ := ll["timestamp"].(string)
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			ts = t.Local().Format("2006-01-02 15:04:05")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%v\t%v\n", ts, ll["action"], ll["resource"])
	}
	_ = tw.Flush()
}

func doUsage(args []string) {
	data := doGet(fmt.Sprintf("/admin/v1/usage?limit=%d", parseLimit(args)))
	logs, _ := data["logs"].([]any)
	if len(logs) == 0 {
		fmt.Println("No usage entries.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tPROVIDER\tMODEL\tIN\tOUT\tCOST")
	for _, l := range logs {
		ll, _ := l.(map[string]any)
		ts, _ := ll["timestamp"].(string)
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			ts = t.Local().Format("15:04:05")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%v\t%v\t%d\t%d\t$%.5f\n",
			ts, ll["provider_id"], ll["model_id"],
			int(num(ll["input_tokens"])), int(num(ll["output_tokens"])), num(ll["cost_usd"]))
	}
	_ = tw.Flush()
}

// --- Admin commands ---

func doAPIKeys(args []string) {
	requireArgs(args, 1, `apikey <list|create|rotate|edit|delete> ...`)
	switch args[0] {
	case "list":
		data := doGet("/admin/v1/apikeys")
		keys, _ := data["keys"].([]any)
		if len(keys) == 0 {
			fmt.Println("No API keys.")
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tENABLED\tBUDGET\tSPENT")
		for _, k := range keys {
			kk, _ := k.(map[string]any)
			_, _ = fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t$%.2f\t$%.4f\n",
				kk["id"], kk["name"], kk["key_prefix"], kk["enabled"],
				num(kk["budget_usd"]), num(kk["spent_usd"]))
		}
		_ = tw.Flush()
	case "create":
		requireArgs(args, 2, `apikey create <json>`)
		result := doPost("/admin/v1/apikeys", args[1])
		fmt.Println(prettyJSON(result))
	case "rotate":
		requireArgs(args, 2, `apikey rotate <id>`)
		result := doPost("/admin/v1/apikeys/"+args[1]+"/rotate", "{}")
		fmt.Println(prettyJSON(result))
	case "edit":
		requireArgs(args, 3, `apikey edit <id> <json>`)
		result := doPatch("/admin/v1/apikeys/"+args[1], args[2])
		fmt.Println(prettyJSON(result))
	case "delete":
		requireArgs(args, 2, `apikey delete <id>`)
		result := doDelete("/admin/v1/apikeys/" + args[1])
		fmt.Println(prettyJSON(result))
	default:
		fmt.Fprintf(os.Stderr, "unknown apikey subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func doVault(args []string) {
	requireArgs(args, 1, `vault <unlock|lock> ...`)
	switch args[0] {
	case "unlock":
		requireArgs(args, 2, `vault unlock <password>`)
		b, _ := json.Marshal(map[string]string{"admin_password": args[1]})
		result := doPost("/admin/v1/vault/unlock", string(b))
		if ok, _ := result["ok"].(bool); ok {
			fmt.Println("Vault unlocked.")
		}
	case "lock":
		result := doPost("/admin/v1/vault/lock", "{}")
		if ok, _ := result["ok"].(bool); ok {
			fmt.Println("Vault locked.")
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown vault subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func doEvents() {
	resp, err := doRequest("GET", "/admin/v1/events", nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	streamSSE(resp.Body)
}

// streamSSE prints one line per SSE frame until the stream closes.
func streamSSE(body io.Reader) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			fmt.Printf("[%s] %s\n", event, strings.TrimPrefix(line, "data: "))
		}
	}
}
