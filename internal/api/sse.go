package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tanpawarit/chative-router/internal/agent/model"
)

type sseToken struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type sseDone struct {
	Type string `json:"type"`
	model.TurnResult
}

type sseStreamer struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

func newSSEStreamer(writer http.ResponseWriter) (*sseStreamer, error) {
	flusher, ok := writer.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	return &sseStreamer{writer: writer, flusher: flusher}, nil
}

func (s *sseStreamer) SendToken(token string) error {
	return s.send(sseToken{Type: "token", Content: token})
}

func (s *sseStreamer) SendError(msg string) error {
	return s.send(map[string]string{"type": "error", "message": msg})
}

// SendDone closes the stream with the turn summary.
func (s *sseStreamer) SendDone(res model.TurnResult) error {
	if err := s.send(sseDone{Type: "done", TurnResult: res}); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.writer, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStreamer) send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
