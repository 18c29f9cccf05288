package channel

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.sensor/internal/monitoring"
	"github.com/banshee-data/occupancy.sensor/internal/occupancy"
	"github.com/banshee-data/occupancy.sensor/internal/radar"
	"github.com/banshee-data/occupancy.sensor/internal/timeutil"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     []string
	requests int
	closed   bool
}

func (f *fakeTransport) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, string(p))
	return nil
}

func (f *fakeTransport) RequestSendOpportunity() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

type fakeRadar struct {
	studies int
	resets  int
	raw     [][]byte
	accept  bool
}

func (r *fakeRadar) StartStudy() error { r.studies++; return nil }
func (r *fakeRadar) RequestReset()     { r.resets++ }
func (r *fakeRadar) RequestRawCommand(cmd []byte) bool {
	r.raw = append(r.raw, append([]byte(nil), cmd...))
	return r.accept
}

type fakeDevice struct{ resets int }

func (d *fakeDevice) RequestReset() { d.resets++ }

// captureLogs collects monitoring output for the duration of the test.
func captureLogs(t *testing.T) *[]string {
	t.Helper()
	var mu sync.Mutex
	lines := &[]string{}
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		*lines = append(*lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })
	return lines
}

// drain delivers send opportunities until the queue is empty.
func drain(c *Channel) {
	for i := 0; i < SlotCount*2; i++ {
		c.OnSendOpportunity()
	}
}

func openAuthenticated(t *testing.T, c *Channel) (*fakeTransport, string) {
	t.Helper()
	tr := &fakeTransport{}
	id, err := c.OnOpen(tr)
	require.NoError(t, err)
	c.OnMessage(id, []byte("0000\r\n"))
	require.True(t, c.Status().Authenticated)
	drain(c)
	return tr, id
}

func TestChannel_Authentication(t *testing.T) {
	captureLogs(t)
	tests := []struct {
		name string
		msg  string
		ok   bool
	}{
		{"pin with crlf", "0000\r\n", true},
		{"terminator bytes are not compared", "0000xy", true},
		{"pin with lf", "0000\n", false},
		{"wrong pin", "1234\r\n", false},
		{"too long", "0000\r\n\r\n", false},
		{"empty", "", false},
		{"command before auth", "AT+MINEW-RESET\r\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRadar{}
			c := New(Options{Radar: r, RadarName: "Minew", Version: "1.2.3"})
			tr := &fakeTransport{}
			id, err := c.OnOpen(tr)
			require.NoError(t, err)

			c.OnMessage(id, []byte(tt.msg))
			st := c.Status()
			assert.Equal(t, tt.ok, st.Authenticated)
			assert.Equal(t, tt.ok, st.Connected)
			assert.Equal(t, !tt.ok, tr.closed)
			assert.Zero(t, r.resets)

			if !tt.ok {
				// no second attempt on the same session
				c.OnMessage(id, []byte("0000\r\n"))
				assert.False(t, c.Status().Authenticated)
			}
		})
	}
}

func TestChannel_Banner(t *testing.T) {
	captureLogs(t)
	c := New(Options{Radar: &fakeRadar{}, RadarName: "Minew", Version: "1.2.3"})
	tr := &fakeTransport{}
	id, err := c.OnOpen(tr)
	require.NoError(t, err)
	c.OnMessage(id, []byte("0000\r\n"))

	assert.Equal(t, 3, c.Status().Ready)
	drain(c)
	want := []string{"Authenticated\n", "Version: 1.2.3\n", "With Minew radar support\n"}
	if diff := cmp.Diff(want, tr.Sent()); diff != "" {
		t.Errorf("banner mismatch (-want +got):\n%s", diff)
	}
}

func TestChannel_Commands(t *testing.T) {
	logs := captureLogs(t)
	r := &fakeRadar{accept: true}
	dev := &fakeDevice{}
	c := New(Options{Radar: r, Device: dev, RadarName: "Minew", Version: "dev"})
	tr, id := openAuthenticated(t, c)
	before := len(tr.Sent())

	c.OnMessage(id, []byte("AT+MINEW-RESET\r\n"))
	assert.Equal(t, 1, r.resets)

	c.OnMessage(id, []byte("AT+MINEW-STUDY\r\n"))
	assert.Equal(t, 1, r.studies)

	c.OnMessage(id, []byte("AT+MINEW-COMMAND=AT+TIME=1\r\n"))
	require.Len(t, r.raw, 1)
	assert.Equal(t, "AT+TIME=1", string(r.raw[0]))

	c.OnMessage(id, []byte("AT+PICO-RESET\r\n"))
	assert.Equal(t, 1, dev.resets)

	drain(c)
	assert.Len(t, tr.Sent(), before, "recognized commands send no reply")

	for _, msg := range []string{
		"AT+MINEW-COMMAND=\r\n",
		"AT+minew-reset\r\n",
		"AT+MINEW-RESET \r\n",
		"AT+\r\n",
	} {
		c.OnMessage(id, []byte(msg))
	}
	drain(c)
	assert.Equal(t, []string{"Unknown command\n", "Unknown command\n", "Unknown command\n", "Unknown command\n"}, tr.Sent()[before:])
	assert.Equal(t, 1, r.resets)

	for _, msg := range []string{"MINEW-RESET\r\n", "AT+MINEW-RESET\n", "AT+\r", "AT", "at+MINEW-RESET\r\n"} {
		c.OnMessage(id, []byte(msg))
	}
	drain(c)
	assert.Equal(t, 1, r.resets)
	assert.Len(t, tr.Sent(), before+4, "invalid framing gets no reply")
	invalid := 0
	for _, l := range *logs {
		if l == "Invalid command" {
			invalid++
		}
	}
	assert.Equal(t, 5, invalid)
}

func TestChannel_RadarCommandsNeedRadar(t *testing.T) {
	captureLogs(t)
	c := New(Options{RadarName: "MicRadar", Version: "dev"})
	tr, id := openAuthenticated(t, c)
	before := len(tr.Sent())

	c.OnMessage(id, []byte("AT+MINEW-RESET\r\n"))
	c.OnMessage(id, []byte("AT+PICO-RESET\r\n"))
	drain(c)
	assert.Equal(t, []string{"Unknown command\n", "Unknown command\n"}, tr.Sent()[before:])
}

func TestChannel_RawCommandEndToEnd(t *testing.T) {
	logs := captureLogs(t)
	clock := timeutil.NewMockClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	history := occupancy.NewHistory(8, 5*time.Second, clock)
	port := &strings.Builder{}
	sup := radar.NewSupervisor(port, history, clock, radar.DefaultSupervisorConfig())

	c := New(Options{Radar: sup, RadarName: "Minew", Version: "dev"})
	_, id := openAuthenticated(t, c)

	c.OnMessage(id, []byte("AT+MINEW-COMMAND=XYZ\r\n"))
	c.OnMessage(id, []byte("AT+MINEW-COMMAND=ABC\r\n"))
	assert.Equal(t, "XYZ\n", sup.Status().PendingCommand)
	assert.Contains(t, *logs, "Failed to send message")

	sup.Tick()
	assert.Equal(t, "XYZ\n", port.String())

	c.OnMessage(id, []byte("AT+MINEW-RESET\r\n"))
	assert.True(t, sup.Status().ResetRequested)
	sup.Tick()
	assert.Equal(t, "XYZ\n"+radar.CommandReset+radar.CommandStart, port.String())
}

func TestChannel_SingleClient(t *testing.T) {
	captureLogs(t)
	c := New(Options{})
	first := &fakeTransport{}
	id, err := c.OnOpen(first)
	require.NoError(t, err)

	_, err = c.OnOpen(&fakeTransport{})
	assert.ErrorIs(t, err, ErrBusy)

	// a stale close does not detach the live session
	c.OnClose("not-a-session")
	assert.True(t, c.Status().Connected)

	c.OnClose(id)
	assert.False(t, c.Status().Connected)
	_, err = c.OnOpen(&fakeTransport{})
	assert.NoError(t, err)
}

func TestChannel_CloseResetsAuthentication(t *testing.T) {
	captureLogs(t)
	c := New(Options{Radar: &fakeRadar{}})
	_, id := openAuthenticated(t, c)
	c.OnClose(id)

	tr := &fakeTransport{}
	id2, err := c.OnOpen(tr)
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
	assert.False(t, c.Status().Authenticated)
	_, err = c.Reserve(10)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestChannel_SendOrder(t *testing.T) {
	captureLogs(t)
	c := New(Options{})
	tr, _ := openAuthenticated(t, c)
	sentBefore := len(tr.Sent())

	var rs []*Reservation
	for i := 0; i < 5; i++ {
		r, err := c.Reserve(16)
		require.NoError(t, err)
		copy(r.Buf, fmt.Sprintf("msg-%d", i))
		rs = append(rs, r)
	}
	for i := 1; i < len(rs); i++ {
		assert.Greater(t, rs[i].ID(), rs[i-1].ID())
	}

	// commit out of order
	for _, i := range []int{3, 0, 4, 1, 2} {
		require.NoError(t, c.Commit(rs[i], len(fmt.Sprintf("msg-%d", i))))
	}

	requestsBefore := tr.Requests()
	c.OnSendOpportunity()
	assert.Equal(t, requestsBefore+1, tr.Requests(), "more ready, transport re-signalled")
	drain(c)

	want := []string{"msg-0", "msg-1", "msg-2", "msg-3", "msg-4"}
	assert.Equal(t, want, tr.Sent()[sentBefore:])
	assert.Equal(t, 0, c.Status().Ready)
}

func TestChannel_OneMessagePerOpportunity(t *testing.T) {
	captureLogs(t)
	c := New(Options{})
	tr, _ := openAuthenticated(t, c)
	sentBefore := len(tr.Sent())

	require.NoError(t, c.Printf("a"))
	require.NoError(t, c.Printf("b"))

	c.OnSendOpportunity()
	assert.Len(t, tr.Sent(), sentBefore+1)
	requests := tr.Requests()
	c.OnSendOpportunity()
	assert.Len(t, tr.Sent(), sentBefore+2)
	// the last message does not re-signal
	assert.Equal(t, requests, tr.Requests())
}

func TestChannel_ReserveExhaustion(t *testing.T) {
	captureLogs(t)
	c := New(Options{})
	openAuthenticated(t, c)

	for i := 0; i < SlotCount; i++ {
		_, err := c.Reserve(MaxMessageSize)
		require.NoError(t, err)
	}
	before := c.Status()
	_, err := c.Reserve(1)
	assert.ErrorIs(t, err, ErrNoBuffer)
	assert.Equal(t, before, c.Status())
	assert.Equal(t, SlotCount, before.Reserved)
}

func TestChannel_ReserveErrors(t *testing.T) {
	captureLogs(t)
	c := New(Options{})

	_, err := c.Reserve(1)
	assert.ErrorIs(t, err, ErrNotConnected)

	tr := &fakeTransport{}
	id, err := c.OnOpen(tr)
	require.NoError(t, err)
	_, err = c.Reserve(1)
	assert.ErrorIs(t, err, ErrNotConnected, "connected but not authenticated")

	c.OnMessage(id, []byte("0000\r\n"))
	_, err = c.Reserve(MaxMessageSize + 1)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestChannel_CommitAfterDisconnect(t *testing.T) {
	captureLogs(t)
	c := New(Options{})
	tr, id := openAuthenticated(t, c)
	sentBefore := len(tr.Sent())

	r, err := c.Reserve(4)
	require.NoError(t, err)
	copy(r.Buf, "late")
	c.OnClose(id)

	err = c.Commit(r, 4)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, SlotCount, c.queue.Counts()[SlotFree])

	// a new session does not receive it either
	tr2, _ := openAuthenticated(t, c)
	drain(c)
	assert.Len(t, tr.Sent(), sentBefore)
	assert.NotContains(t, tr2.Sent(), "late")

	// committing twice is rejected
	assert.ErrorIs(t, c.Commit(r, 4), ErrReservationUse)
}

func TestChannel_CommitTooLarge(t *testing.T) {
	captureLogs(t)
	c := New(Options{})
	openAuthenticated(t, c)

	r, err := c.Reserve(10)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Commit(r, MaxMessageSize+1), ErrTooLarge)
	assert.Equal(t, SlotCount, c.queue.Counts()[SlotFree])
}

func TestChannel_ReleaseFreesSlot(t *testing.T) {
	captureLogs(t)
	c := New(Options{})
	openAuthenticated(t, c)

	r, err := c.Reserve(10)
	require.NoError(t, err)
	require.NoError(t, r.Release())
	assert.Equal(t, SlotCount, c.queue.Counts()[SlotFree])
	assert.ErrorIs(t, r.Release(), ErrReservationUse)
}

func TestChannel_PrintfTruncates(t *testing.T) {
	captureLogs(t)
	c := New(Options{})
	tr, _ := openAuthenticated(t, c)
	sentBefore := len(tr.Sent())

	require.NoError(t, c.Printf("%s", strings.Repeat("x", 3*MaxMessageSize)))
	drain(c)
	require.Len(t, tr.Sent(), sentBefore+1)
	assert.Len(t, tr.Sent()[sentBefore], MaxMessageSize)
}

func TestChannel_Mirror(t *testing.T) {
	captureLogs(t)
	c := New(Options{})
	monitoring.SetMirror(c.Mirror)
	t.Cleanup(func() { monitoring.SetMirror(nil) })

	// no client: dropped
	monitoring.Logf("before connect")

	tr, _ := openAuthenticated(t, c)
	sentBefore := len(tr.Sent())
	monitoring.Logf("radar count %d", 2)
	drain(c)
	assert.Equal(t, []string{"radar count 2\n"}, tr.Sent()[sentBefore:])
}

func TestChannel_ConcurrentPrintfKeepsOrderPerWriter(t *testing.T) {
	captureLogs(t)
	c := New(Options{})
	tr, _ := openAuthenticated(t, c)
	sentBefore := len(tr.Sent())

	var wg sync.WaitGroup
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				for c.Printf("w%d-%d", w, i) != nil {
					c.OnSendOpportunity()
				}
			}
		}(w)
	}
	wg.Wait()
	drain(c)

	got := tr.Sent()[sentBefore:]
	require.Len(t, got, 9)
	last := map[byte]byte{}
	for _, m := range got {
		w, i := m[1], m[3]
		if prev, ok := last[w]; ok {
			assert.Greater(t, i, prev, "writer %c out of order", w)
		}
		last[w] = i
	}
}
