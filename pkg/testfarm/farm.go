package testfarm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/cuemby/coco/pkg/hostset"
)

// Callback computes a backend's JSON reply for one endpoint call.
type Callback func(body map[string]interface{}) interface{}

// Farm runs n in-process backends, each answering every endpoint name
// with the matching Callback (or a 404 if none is registered), and
// counting how many times each backend received each endpoint.
type Farm struct {
	mu        sync.Mutex
	servers   []*httptest.Server
	counters  []map[string]int
	callbacks map[string]Callback
}

// New starts n backends. callbacks maps endpoint names to the function
// that computes their reply; an endpoint with no callback still counts
// its calls but replies with an empty object.
func New(n int, callbacks map[string]Callback) *Farm {
	f := &Farm{callbacks: callbacks}
	for i := 0; i < n; i++ {
		f.counters = append(f.counters, make(map[string]int))
		idx := i
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			f.handle(idx, w, r)
		})
		f.servers = append(f.servers, httptest.NewServer(mux))
	}
	return f
}

func (f *Farm) handle(idx int, w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}

	var body map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	f.mu.Lock()
	f.counters[idx][name]++
	cb, ok := f.callbacks[name]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{})
		return
	}
	_ = json.NewEncoder(w).Encode(cb(body))
}

// Hosts returns the backends as hostset.Host values, parsed from each
// httptest.Server's URL.
func (f *Farm) Hosts() []hostset.Host {
	hosts := make([]hostset.Host, 0, len(f.servers))
	for _, s := range f.servers {
		h, err := hostset.Parse(s.URL)
		if err != nil {
			panic(fmt.Sprintf("testfarm: invalid server URL %q: %v", s.URL, err))
		}
		hosts = append(hosts, h)
	}
	return hosts
}

// Counts returns, for backend i, how many times endpoint name was
// called.
func (f *Farm) Counts(i int, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[i][name]
}

// Stop shuts down every backend.
func (f *Farm) Stop() {
	for _, s := range f.servers {
		s.Close()
	}
}
