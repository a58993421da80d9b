// Package ondevicetest provides a stand-in for the llama-server binary.
// Test binaries re-exec themselves with EnvVar set and call Serve from
// TestMain, so the runtime can start a real child process in tests.
package ondevicetest

import (
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/tidwall/gjson"
)

// EnvVar switches a test binary into server mode.
const EnvVar = "ARIA_FAKE_LLAMA_SERVER"

// Enabled reports whether this process was started as the fake server.
func Enabled() bool { return os.Getenv(EnvVar) == "1" }

// Serve runs the fake server with llama-server style arguments and returns
// the process exit code. Replies echo the last message as
// "<model file>: <content>". A weights file whose name contains "oom"
// makes the server fail the way llama.cpp does on allocation failure.
func Serve(args []string) int {
	fs := flag.NewFlagSet("llama-server", flag.ContinueOnError)
	model := fs.String("m", "", "model path")
	host := fs.String("host", "127.0.0.1", "bind host")
	port := fs.String("port", "8080", "bind port")
	fs.Int("ngl", 0, "gpu layers")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if strings.Contains(*model, "oom") {
		fmt.Fprintln(os.Stderr, "ggml_backend_alloc: failed to allocate buffer: out of memory")
		return 1
	}

	name := strings.TrimSuffix(baseName(*model), ".gguf")
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		msgs := gjson.GetBytes(body, "messages").Array()
		last := ""
		if len(msgs) > 0 {
			last = msgs[len(msgs)-1].Get("content").String()
		}
		reply := fmt.Sprintf("%s: %s", name, last)

		if gjson.GetBytes(body, "stream").Bool() {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, word := range strings.SplitAfter(reply, " ") {
				fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", word)
			}
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, reply)
	})

	ln, err := net.Listen("tcp", net.JoinHostPort(*host, *port))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	srv := &http.Server{Handler: mux}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		_ = srv.Close()
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return 1
	}
	return 0
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
