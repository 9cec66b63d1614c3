package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/events"
)

// serve runs handler on a unix socket and returns a client for it.
func serve(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	// Socket paths are limited in length; keep it short.
	dir, err := os.MkdirTemp("", "cc")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	path := filepath.Join(dir, "d.sock")

	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: handler}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return NewClient(path)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.GetVersion()
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("GetVersion = %v, want ErrDaemonNotRunning", err)
	}
}

func TestCalibrationAPIs(t *testing.T) {
	var (
		gotSession calibration.Session
		gotKind    string
		gotKelvin  int
		gotCron    string
		gotDelay   string
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, "v1.2.3")
	})
	mux.HandleFunc("POST /calibration/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			writeJSON(w, http.StatusBadRequest, "not json")
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotSession)
		writeJSON(w, http.StatusCreated, "session-1")
	})
	mux.HandleFunc("POST /calibration/confirm", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, "no interaction is pending")
	})
	mux.HandleFunc("PUT /calibration/reference-kind", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotKind)
		writeJSON(w, http.StatusCreated, "ok")
	})
	mux.HandleFunc("PUT /calibration/whitepoint", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotKelvin)
		writeJSON(w, http.StatusCreated, "ok")
	})
	mux.HandleFunc("GET /calibration/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, &calibration.Status{
			SessionID:  "session-1",
			Phase:      calibration.PhaseDrawAndMeasure,
			PhaseIndex: 3,
			PhaseCount: 6,
			Progress:   40,
			CanCancel:  true,
		})
	})
	mux.HandleFunc("PUT /schedule", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotCron)
		writeJSON(w, http.StatusCreated, ScheduleInfo{Cron: gotCron, Running: true})
	})
	mux.HandleFunc("POST /schedule/postpone", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotDelay)
		writeJSON(w, http.StatusCreated, ScheduleInfo{Cron: gotCron, Running: true})
	})
	c := serve(t, mux)

	v, err := c.GetVersion()
	if err != nil || v != "v1.2.3" {
		t.Fatalf("GetVersion = %q, %v", v, err)
	}

	id, err := c.StartCalibration(&calibration.Session{Device: calibration.DeviceDisplay, Whitepoint: 6500})
	if err != nil || id != "session-1" {
		t.Fatalf("StartCalibration = %q, %v", id, err)
	}
	if gotSession.Device != calibration.DeviceDisplay || gotSession.Whitepoint != 6500 {
		t.Fatalf("daemon received %+v", gotSession)
	}

	_, err = c.ConfirmCalibration()
	if !IsConflict(err) {
		t.Fatalf("ConfirmCalibration = %v, want a conflict", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Message != "no interaction is pending" {
		t.Fatalf("unexpected error %v", err)
	}

	if _, err := c.SetReferenceKind(calibration.ReferenceColorChecker); err != nil || gotKind != "colorchecker" {
		t.Fatalf("SetReferenceKind: %v, daemon got %q", err, gotKind)
	}
	if _, err := c.SetWhitepoint(5000); err != nil || gotKelvin != 5000 {
		t.Fatalf("SetWhitepoint: %v, daemon got %d", err, gotKelvin)
	}

	st, err := c.GetCalibrationStatus()
	if err != nil {
		t.Fatalf("GetCalibrationStatus returned error: %v", err)
	}
	want := &calibration.Status{
		SessionID:  "session-1",
		Phase:      calibration.PhaseDrawAndMeasure,
		PhaseIndex: 3,
		PhaseCount: 6,
		Progress:   40,
		CanCancel:  true,
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("unexpected status (-want +got):\n%s", diff)
	}

	info, err := c.SetSchedule("0 9 1 * *")
	if err != nil || info.Cron != "0 9 1 * *" || gotCron != "0 9 1 * *" {
		t.Fatalf("SetSchedule = %+v, %v", info, err)
	}
	if _, err := c.PostponeSchedule(90 * time.Minute); err != nil || gotDelay != "1h30m0s" {
		t.Fatalf("PostponeSchedule: %v, daemon got %q", err, gotDelay)
	}

	if _, err := c.SkipSchedule(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SkipSchedule on a missing route = %v, want ErrNotFound", err)
	}
}

func TestSubscribeEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "event:ping\ndata:{}\n\n")
		_, _ = fmt.Fprintf(w, "event:%s\ndata:{\"percent\":42,\"ts\":1}\n\n", events.CalibrationProgress)
		_, _ = fmt.Fprintf(w, "event: %s\ndata: {\"text\":\"Measuring\",\"category\":\"status\",\"ts\":2}\n\n", events.CalibrationTitle)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	c := serve(t, mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.SubscribeEvents(ctx)
	if err != nil {
		t.Fatalf("SubscribeEvents returned error: %v", err)
	}

	var got []events.Event
	for len(got) < 2 {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed after %d events", len(got))
			}
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}

	if got[0].Name != events.CalibrationProgress || got[1].Name != events.CalibrationTitle {
		t.Fatalf("unexpected events %+v", got)
	}
	p, err := events.DecodeAs[events.CalibrationProgressEvent](got[0])
	if err != nil || p.Percent != 42 {
		t.Fatalf("progress payload %+v, %v", p, err)
	}
	title, err := events.DecodeAs[events.CalibrationTextEvent](got[1])
	if err != nil || title.Text != "Measuring" {
		t.Fatalf("title payload %+v, %v", title, err)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream not closed after cancel")
	}
}
