// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command voicectl drives a running voiceswitch server through its management API:
// it reports status, injects platform triggers and follows session events.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const usage = `usage: voicectl [flags] <command> [args]

commands:
  status                          show controller state and selection
  unlock <user>                   user unlocked
  switch-user <user>              user switched
  settings                        selection settings changed
  packages <kind> <pkg>...        appearing | disappearing | modified
  role <role> [holder...]         role holders changed
  force-stop <pkg>...             force stop packages
  show [key=value...]             show the session of the running implementation
  hide                            hide the session
  listen                          print session events until interrupted
`

func main() {
	addr := flag.String("addr", envOr("VOICESWITCH_ADDR", "127.0.0.1:18420"), "Management API address")
	user := flag.Int("user", -1, "User for packages/role/force-stop (default: all users or current user)")
	temporary := flag.Bool("temporary", false, "Mark a package change as temporary unavailability")
	dryRun := flag.Bool("dry-run", false, "For force-stop: only report whether the packages are in use")
	flag.Usage = func() {
		_, _ = fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	client := NewClient(*addr, os.Getenv("VOICESWITCH_MANAGEMENT_KEY"))
	opts := options{user: *user, temporary: *temporary, dryRun: *dryRun}
	if err := run(client, flag.Args(), opts, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type options struct {
	user      int
	temporary bool
	dryRun    bool
}

// run executes one command and prints the JSON result to out.
func run(client *Client, args []string, opts options, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("missing command")
	}
	command, rest := args[0], args[1:]

	if command == "listen" {
		return client.Listen(func(frame gjson.Result) bool {
			_, err := fmt.Fprintln(out, frame.Raw)
			return err == nil
		})
	}

	method, path, body, err := buildRequest(command, rest, opts)
	if err != nil {
		return err
	}
	result, err := client.Do(method, path, body)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, result.Raw)
	return err
}

// buildRequest maps a command onto a management API call.
func buildRequest(command string, args []string, opts options) (method, path string, body []byte, err error) {
	body = []byte(`{}`)
	set := func(key string, value interface{}) {
		if err == nil {
			body, err = sjson.SetBytes(body, key, value)
		}
	}

	switch command {
	case "status":
		return http.MethodGet, "/v0/status", nil, nil
	case "settings":
		return http.MethodPost, "/v0/triggers/settings", nil, nil
	case "hide":
		return http.MethodPost, "/v0/session/hide", nil, nil
	case "unlock", "switch-user":
		if len(args) != 1 {
			return "", "", nil, fmt.Errorf("%s needs exactly one user", command)
		}
		u, errAtoi := strconv.Atoi(args[0])
		if errAtoi != nil {
			return "", "", nil, fmt.Errorf("invalid user %q", args[0])
		}
		set("user", u)
		path = "/v0/triggers/user-unlock"
		if command == "switch-user" {
			path = "/v0/triggers/user-switch"
		}
		return http.MethodPost, path, body, err
	case "packages":
		if len(args) < 2 {
			return "", "", nil, errors.New("packages needs a kind and at least one package")
		}
		set("kind", args[0])
		set("packages", args[1:])
		set("permanent", !opts.temporary)
		if opts.user >= 0 {
			set("user", opts.user)
		}
		return http.MethodPost, "/v0/triggers/packages", body, err
	case "role":
		if len(args) < 1 {
			return "", "", nil, errors.New("role needs a role name")
		}
		set("role", args[0])
		set("holders", append([]string{}, args[1:]...))
		if opts.user >= 0 {
			set("user", opts.user)
		}
		return http.MethodPost, "/v0/triggers/role", body, err
	case "force-stop":
		if len(args) == 0 {
			return "", "", nil, errors.New("force-stop needs at least one package")
		}
		set("packages", args)
		set("doit", !opts.dryRun)
		if opts.user >= 0 {
			set("user", opts.user)
		}
		return http.MethodPost, "/v0/triggers/force-stop", body, err
	case "show":
		for _, kv := range args {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" {
				return "", "", nil, fmt.Errorf("invalid session argument %q, want key=value", kv)
			}
			set("args."+key, value)
		}
		return http.MethodPost, "/v0/session/show", body, err
	}
	return "", "", nil, fmt.Errorf("unknown command %q", command)
}
