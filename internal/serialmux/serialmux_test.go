package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localHostRequest(method, target string, body *strings.Reader) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
	}
	req.RemoteAddr = "127.0.0.1:1234"
	return req
}

func TestSerialMux_Write(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	n, err := mux.Write([]byte("AT+START\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "AT+START\n", string(port.GetWrittenData()))
}

func TestSerialMux_WriteErrors(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	port.ShortWrite = true
	_, err := mux.Write([]byte("AT+START\n"))
	assert.ErrorIs(t, err, ErrWriteFailed)

	boom := errors.New("boom")
	port.WriteError = boom
	_, err = mux.Write([]byte("AT+START\n"))
	assert.ErrorIs(t, err, boom)
}

func TestSerialMux_SendCommandAddsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("AT+RESET"))
	require.NoError(t, mux.SendCommand("AT+START\n"))
	assert.Equal(t, "AT+RESET\nAT+START\n", string(port.GetWrittenData()))
}

func TestSerialMux_MonitorDeliversChunks(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	id, sub := mux.Subscribe()
	defer mux.Unsubscribe(id)

	var mu sync.Mutex
	var got []byte
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- mux.Monitor(ctx, func(b []byte) {
			mu.Lock()
			got = append(got, b...)
			mu.Unlock()
		})
	}()

	port.AddReadData([]byte{0x01, 0x02, 0x03})

	select {
	case chunk := <-sub:
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, chunk)
	case <-time.After(time.Second):
		t.Fatal("subscriber received nothing")
	}

	mu.Lock()
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, got)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestSerialMux_MonitorReturnsReadError(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	boom := errors.New("device unplugged")
	port.FailNextRead(boom)

	err := mux.Monitor(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestSerialMux_CloseStopsMonitor(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	id, sub := mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background(), nil) }()

	require.NoError(t, mux.Close())
	assert.True(t, port.Closed)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after Close")
	}

	_, ok := <-sub
	assert.False(t, ok, "subscriber channel should be closed")
	mux.Unsubscribe(id) // no-op after Close
}

func TestSerialMux_AdminSend(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	form := url.Values{"command": {"AT+STUDY"}}
	req := localHostRequest(http.MethodPost, "/debug/radar-send", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "AT+STUDY")
	assert.Equal(t, "AT+STUDY\n", string(port.GetWrittenData()))
}

func TestSerialMux_AdminSendRejects(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/radar-send", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req := localHostRequest(http.MethodPost, "/debug/radar-send", strings.NewReader("command="))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSerialMux_AdminPage(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/radar", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "radar-send")
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()

	n, err := d.Write([]byte("AT+START\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.NoError(t, d.SendCommand("AT+RESET"))

	_, ch := d.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Monitor(ctx, nil), context.Canceled)

	require.NoError(t, d.Close())
	_, ok := <-ch
	assert.False(t, ok)

	_, late := d.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close returns a closed channel")
}

func TestSyntheticRadarPort_AnswersCommands(t *testing.T) {
	port := NewSyntheticRadarPort(time.Hour, MinewFrames(1))
	defer port.Close()

	_, err := port.Write([]byte("AT+START\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "AT+OK\n", string(buf[:n]))
	assert.Equal(t, "AT+START\n", string(port.Written()))
}

func TestSyntheticRadarPort_CloseUnblocksRead(t *testing.T) {
	port := NewSyntheticRadarPort(time.Hour, MicRadarFrames(1))
	require.NoError(t, port.Close())

	_, err := port.Read(make([]byte, 8))
	assert.Error(t, err)
	_, err = port.Write([]byte("AT+START\n"))
	assert.Error(t, err)
}
