package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ridgeline-obs/obsd/safety"
	"github.com/ridgeline-obs/obsd/sequencer"
)

type Server struct {
	seq     *sequencer.Sequencer
	monitor *safety.Monitor

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     sequencer.Status
}

func NewServer(monitor *safety.Monitor) *Server {
	s := &Server{monitor: monitor}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(status)
	if err != nil {
		log.Print(err)
		return
	}
	w.Write(data)
}

type Command struct {
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

// StatusSocketHandler streams the status snapshot to the client on every
// change and accepts park/resume commands back.
func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	go func() {
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				conn.Close()
				return
			}
			switch msg.Command {
			case "park":
				reason := msg.Reason
				if reason == "" {
					reason = "operator"
				}
				s.seq.RequestPark(reason)
			case "resume":
				s.seq.ClearPark()
			}
		}
	}()

	// Wake the waiter when the client goes away.
	go func() {
		<-ctx.Done()
		s.statusCallback(s.seq.Status())
	}()

	send := func(status sequencer.Status) error {
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	if err := send(status); err != nil {
		log.Print(err)
		return
	}

	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	for ctx.Err() == nil {
		s.statusCond.Wait()
		status := s.status
		s.statusMu.RUnlock()
		err := send(status)
		s.statusMu.RLock()
		if err != nil {
			log.Print(err)
			return
		}
	}
}

func (s *Server) statusCallback(status sequencer.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.statusCond.Broadcast()
}
