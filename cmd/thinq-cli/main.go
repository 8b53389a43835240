package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joshp123/thinq/internal/config"
	"github.com/joshp123/thinq/internal/locale"
	"github.com/joshp123/thinq/internal/session"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "thinqd API address")
	jsonOut := flag.Bool("json", false, "print raw JSON")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	client := &apiClient{
		base: strings.TrimSuffix(*addr, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
		mode: printer{json: *jsonOut},
	}

	switch args[0] {
	case "devices":
		client.devicesCmd()
	case "state":
		if len(args) < 2 {
			fatal("state", fmt.Errorf("missing device id"))
		}
		client.stateCmd(args[1])
	case "start":
		if len(args) < 3 {
			fatal("start", fmt.Errorf("usage: start <device-id> <course> [opt=val ...]"))
		}
		client.startCmd(args[1], args[2], args[3:])
	case "login":
		loginCmd(args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

type apiClient struct {
	base string
	http *http.Client
	mode printer
}

func (c *apiClient) devicesCmd() {
	var devices []struct {
		ID        string `json:"id"`
		Alias     string `json:"alias"`
		Type      string `json:"type"`
		ModelName string `json:"model_name"`
		Online    bool   `json:"online"`
	}
	c.get("/api/devices", &devices)

	if c.mode.json {
		c.mode.printJSON(devices)
		return
	}
	rows := make([][]string, 0, len(devices))
	for _, dev := range devices {
		rows = append(rows, []string{dev.ID, dev.Alias, dev.Type, dev.ModelName, yesNo(dev.Online)})
	}
	c.mode.table([]string{"ID", "ALIAS", "TYPE", "MODEL", "ONLINE"}, rows)
}

func (c *apiClient) stateCmd(deviceID string) {
	var state struct {
		Alias     string `json:"alias"`
		Online    bool   `json:"online"`
		RawOnly   bool   `json:"raw_only"`
		UpdatedAt string `json:"updated_at"`
		Snapshot  struct {
			Attributes map[string]attributeView `json:"attributes"`
		} `json:"snapshot"`
	}
	c.get("/api/devices/"+deviceID+"/state", &state)

	if c.mode.json {
		c.mode.printJSON(state)
		return
	}
	fmt.Printf("%s (online=%t, updated %s)\n", state.Alias, state.Online, state.UpdatedAt)
	if state.RawOnly {
		fmt.Println("note: no model descriptor, values are raw")
	}
	c.mode.table(nil, attributeRows(state.Snapshot.Attributes))
}

func (c *apiClient) startCmd(deviceID, course string, opts []string) {
	options := make(map[string]string, len(opts))
	for _, opt := range opts {
		key, value, found := strings.Cut(opt, "=")
		if !found {
			fatal("start", fmt.Errorf("option %q: want key=value", opt))
		}
		options[key] = value
	}

	payload, err := json.Marshal(map[string]any{"course": course, "options": options})
	if err != nil {
		fatal("start", err)
	}

	var out struct {
		Status  string `json:"status"`
		Dropped []struct {
			Key    string `json:"key"`
			Reason string `json:"reason"`
		} `json:"dropped"`
	}
	c.post("/api/devices/"+deviceID+"/start", payload, &out)

	if c.mode.json {
		c.mode.printJSON(out)
		return
	}
	fmt.Println(out.Status)
	for _, d := range out.Dropped {
		fmt.Printf("dropped %s: %s\n", d.Key, d.Reason)
	}
}

// loginCmd bootstraps the local session state from a refresh token obtained
// through the ThinQ app OAuth flow.
func loginCmd(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	statePath := fs.String("state-file", config.DefaultStateFile, "session state file to write")
	oauthURL := fs.String("oauth-url", "", "member platform root (default per-country)")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 3 {
		fatal("login", fmt.Errorf("usage: login [flags] <country> <language> <refresh-token>"))
	}

	loc, err := locale.Parse(rest[0], rest[1])
	if err != nil {
		fatal("login", err)
	}
	if err := session.Bootstrap(*statePath, loc, rest[2], *oauthURL); err != nil {
		fatal("login", err)
	}
	fmt.Printf("session written to %s for %s\n", *statePath, loc)
}

func (c *apiClient) get(path string, out any) {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		fatal("request", err)
	}
	defer resp.Body.Close()
	c.decode(resp, out)
}

func (c *apiClient) post(path string, payload []byte, out any) {
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		fatal("request", err)
	}
	defer resp.Body.Close()
	c.decode(resp, out)
}

func (c *apiClient) decode(resp *http.Response, out any) {
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			fatal("api", fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode))
		}
		fatal("api", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fatal("decode", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: thinq-cli [-addr URL] [-json] <command>

commands:
  devices                                    list appliances
  state <device-id>                          show last decoded state
  start <device-id> <course> [opt=val ...]   remote-start a course
  login [flags] <country> <language> <refresh-token>
                                             write the local session state`)
}

func fatal(op string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", op, err)
	os.Exit(1)
}
