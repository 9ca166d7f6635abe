package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"recommerce"
	"recommerce/internal/orchestrator"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusCode(info recommerce.DockerInfo) int {
	if recommerce.IsSuccessStatus(info.Status) {
		return http.StatusOK
	}
	return http.StatusNotFound
}

func writeInfo(w http.ResponseWriter, info recommerce.DockerInfo) {
	writeJSON(w, statusCode(info), info)
}

func (s *Server) idHandler(op func(ctx context.Context, id string) recommerce.DockerInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeInfo(w, op(r.Context(), r.URL.Query().Get("id")))
	}
}

// queryBool parses a boolean query parameter, accepting the spellings
// clients send ("true", "True", "1").
func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	count := 1
	if raw := r.URL.Query().Get("num_experiments"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeInfo(w, recommerce.DockerInfo{ID: recommerce.NoContainerStarted, Status: "num_experiments must be an integer"})
			return
		}
		count = n
	}
	config, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		writeInfo(w, recommerce.DockerInfo{ID: recommerce.NoContainerStarted, Status: "The config could not be read"})
		return
	}

	// A client hanging up must not abort an admission half way.
	infos, err := s.orch.Start(context.WithoutCancel(r.Context()), config, count, roleFrom(r.Context()))
	if err != nil {
		var admErr *orchestrator.AdmissionError
		if errors.As(err, &admErr) {
			writeJSON(w, http.StatusNotFound, admErr.Info)
			return
		}
		s.log.Error("admission failed", "err", err)
		writeJSON(w, http.StatusNotFound, recommerce.DockerInfo{ID: recommerce.NoContainerStarted, Status: err.Error()})
		return
	}

	body := make(map[string]recommerce.DockerInfo, len(infos))
	for i, info := range infos {
		body[strconv.Itoa(i)] = info
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	info := s.orch.Logs(r.Context(), q.Get("id"), orchestrator.LogsRequest{
		Timestamps: queryBool(r, "timestamps"),
		Stream:     queryBool(r, "stream"),
		Tail:       q.Get("tail"),
	})
	if info.Stream == nil {
		writeInfo(w, info)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.stream(w, r, info)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	info := s.orch.Data(r.Context(), r.URL.Query().Get("id"), r.URL.Query().Get("path"))
	if info.Stream == nil {
		writeInfo(w, info)
		return
	}
	name, _ := info.Data.(string)
	w.Header().Set("Content-Type", "application/x-tar")
	w.Header().Set("Content-Disposition", "filename="+name+".tar")
	s.stream(w, r, info)
}

// stream copies info.Stream to the client, flushing after every chunk so
// nothing is held back in memory. The stream is closed when the copy ends
// or the client goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, info recommerce.DockerInfo) {
	defer info.Stream.Close()
	stop := context.AfterFunc(r.Context(), func() { _ = info.Stream.Close() })
	defer stop()

	w.Header().Set("Container-ID", info.ID)
	w.Header().Set("Container-Status", info.Status)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	for {
		n, err := info.Stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			_ = rc.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && r.Context().Err() == nil {
				s.log.Warn("stream interrupted", "container", info.ID, "err", err)
			}
			return
		}
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeInfo(w, s.orch.Stats(r.Context(), queryBool(r, "system")))
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	ok := s.orch.Ping(r.Context())
	code := http.StatusOK
	if !ok {
		code = http.StatusNotFound
	}
	writeJSON(w, code, map[string]bool{"status": ok})
}
