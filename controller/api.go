package controller

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// LoadAPI registers the REST endpoints. With sign-in configured every
// endpoint except sign-in itself requires a session or basic auth.
func (c *Controller) LoadAPI(r *mux.Router) {
	if c.cfg.Auth.Enabled() {
		a := newAuth(c.cfg.Auth)
		r.HandleFunc("/auth/signin", a.signIn).Methods("POST")
		r.HandleFunc("/auth/signout", a.signOut).Methods("GET")
		r = r.NewRoute().Subrouter()
		r.Use(a.middleware)
	}
	sr := r.PathPrefix("/api").Subrouter()
	sr.HandleFunc("/state", c.getState).Methods("GET")
	sr.HandleFunc("/command", c.postCommand).Methods("POST")
	sr.HandleFunc("/log", c.logList).Methods("GET")
	sr.HandleFunc("/health", c.health).Methods("GET")
	sr.HandleFunc("/events", c.eventList).Methods("GET")
	sr.HandleFunc("/events/{id}", c.eventDelete).Methods("DELETE")
	r.Handle("/metrics", promhttp.HandlerFor(c.loop.metrics.registry, promhttp.HandlerOpts{})).Methods("GET")
}

func (c *Controller) getState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c.Snapshot())
}

func (c *Controller) postCommand(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Cmd string `json:"cmd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd := strings.TrimSpace(payload.Cmd)
	if cmd == "" {
		http.Error(w, "empty command", http.StatusBadRequest)
		return
	}
	if !c.intake.Offer(cmd) {
		http.Error(w, "command queue full", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *Controller) logList(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(c.Logs())
}

type health struct {
	Uptime       float64 `json:"uptime"`
	HostUptime   uint64  `json:"host_uptime"`
	Load1        float64 `json:"load1"`
	Load5        float64 `json:"load5"`
	Load15       float64 `json:"load15"`
	MemTotal     uint64  `json:"mem_total"`
	MemUsedPct   float64 `json:"mem_used_percent"`
	LastBeat     float64 `json:"last_beat"`
	HeartbeatAge float64 `json:"heartbeat_age"`
	Connected    bool    `json:"connected"`
}

func (c *Controller) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	h := health{Connected: c.Snapshot().Connected}
	if !c.started.IsZero() {
		h.Uptime = now.Sub(c.started).Seconds()
	}
	if last := c.watchdog.LastBeat(); !last.IsZero() {
		h.LastBeat = float64(last.UnixNano()) / 1e9
		h.HeartbeatAge = now.Sub(last).Seconds()
	}
	if up, err := host.Uptime(); err == nil {
		h.HostUptime = up
	}
	if avg, err := load.Avg(); err == nil {
		h.Load1, h.Load5, h.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		h.MemTotal = vm.Total
		h.MemUsedPct = vm.UsedPercent
	}
	json.NewEncoder(w).Encode(h)
}

func (c *Controller) eventList(w http.ResponseWriter, r *http.Request) {
	list := []Event{}
	err := c.store.List(Bucket, func(_ string, v []byte) error {
		var e Event
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		list = append(list, e)
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(list)
}

func (c *Controller) eventDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var e Event
	if err := c.store.Get(Bucket, id, &e); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err := c.store.Delete(Bucket, id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	c.appendLog("event " + id + " deleted")
	w.WriteHeader(http.StatusNoContent)
}
