package spaceapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/voidwarranties/spacestate/internal/spacestate"
)

const apiCompatibility = "14"

// Document is the subset of a SpaceAPI v14 document that the node knows.
type Document struct {
	APICompatibility []string   `json:"api_compatibility"`
	Space            string     `json:"space,omitempty"`
	Location         *Location  `json:"location,omitempty"`
	State            DocState   `json:"state"`
	Sensors          DocSensors `json:"sensors"`
}

type Location struct {
	Address string `json:"address"`
}

type DocState struct {
	Open       *bool `json:"open"`
	LastChange int64 `json:"lastchange,omitempty"`
}

type DocSensors struct {
	Temperature []SensorValue `json:"temperature,omitempty"`
	Humidity    []SensorValue `json:"humidity,omitempty"`
}

type SensorValue struct {
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	Location string  `json:"location"`
}

// NewDocument renders st. The open state is null until the first reading.
func NewDocument(space, location string, st *State) Document {
	doc := Document{
		APICompatibility: []string{apiCompatibility},
		Space:            space,
	}
	if location != "" {
		doc.Location = &Location{Address: location}
	}
	r, lastChange, ok := st.Get()
	if !ok {
		return doc
	}
	open := r.Open
	doc.State = DocState{Open: &open, LastChange: lastChange.Unix()}
	if r.Valid {
		doc.Sensors.Temperature = []SensorValue{{Value: *spacestate.Float(r.Temperature), Unit: "°C", Location: location}}
		doc.Sensors.Humidity = []SensorValue{{Value: *spacestate.Float(r.Humidity), Unit: "%", Location: location}}
	}
	return doc
}

// Handler serves /spaceapi.json and /health. metrics, if not nil, is
// mounted on /metrics.
func Handler(space, location string, st *State, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/spaceapi.json", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-cache")
		_ = json.NewEncoder(w).Encode(NewDocument(space, location, st))
	})
	mux.HandleFunc("/health", healthHandler)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Server serves Handler until its context is cancelled.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Run listens until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrapf(err, "listen on %s", s.srv.Addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	return nil
}
