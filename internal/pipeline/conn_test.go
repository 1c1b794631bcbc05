package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxatone/hushwire/internal/pipeline"
	"github.com/voxatone/hushwire/pkg/audio"
	"github.com/voxatone/hushwire/pkg/denoise"
	"github.com/voxatone/hushwire/pkg/denoise/mock"
)

// testConfig is the stream contract used across connection tests.
var testConfig = denoise.StreamConfig{SampleRate: 16000, Channels: 1, FrameRate: 50}

// chanSink returns a Sink that forwards every frame into ch.
func chanSink(ch chan audio.Frame) pipeline.Sink {
	return pipeline.SinkFunc(func(f audio.Frame) error {
		ch <- f
		return nil
	})
}

// waitFrame reads one frame from ch or fails the test after a timeout.
func waitFrame(t *testing.T, ch chan audio.Frame) audio.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for output frame")
		return audio.Frame{}
	}
}

// waitConnState polls until m reaches want or the timeout expires.
func waitConnState(t *testing.T, m *pipeline.ConnManager, want pipeline.ConnState) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for m.State() != want {
		select {
		case <-deadline:
			t.Fatalf("connection state = %v; want %v", m.State(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestConnManager_ConnectIdempotent(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	m := pipeline.NewConnManager(provider, testConfig, chanSink(make(chan audio.Frame, 8)))

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if got := provider.Opens(); got != 1 {
		t.Errorf("provider opened %d times; want 1", got)
	}
	if got := m.State(); got != pipeline.ConnConnected {
		t.Errorf("state = %v; want connected", got)
	}
}

func TestConnManager_ConnectPassesContract(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	m := pipeline.NewConnManager(provider, testConfig, chanSink(make(chan audio.Frame, 8)))
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(provider.RecordedConfigs) != 1 || provider.RecordedConfigs[0] != testConfig {
		t.Errorf("provider saw config %+v; want %+v", provider.RecordedConfigs, testConfig)
	}
}

func TestConnManager_ConnectFailureNoAutoRetry(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{OpenError: errors.New("service down")}
	m := pipeline.NewConnManager(provider, testConfig, chanSink(make(chan audio.Frame, 8)))

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("Connect should fail when the provider fails")
	}
	if got := m.State(); got != pipeline.ConnFailed {
		t.Errorf("state = %v; want failed", got)
	}
	if got := provider.Opens(); got != 1 {
		t.Errorf("provider opened %d times; want 1 (no automatic retry)", got)
	}

	// The next explicit Connect dials fresh.
	provider.SetOpenError(nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after recovery: %v", err)
	}
	if got := m.State(); got != pipeline.ConnConnected {
		t.Errorf("state = %v; want connected", got)
	}
}

func TestConnManager_SendRequiresConnected(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	m := pipeline.NewConnManager(provider, testConfig, chanSink(make(chan audio.Frame, 8)))

	if err := m.Send(context.Background(), []byte{1, 2, 3}); !errors.Is(err, pipeline.ErrNotConnected) {
		t.Fatalf("Send while disconnected = %v; want ErrNotConnected", err)
	}
}

func TestConnManager_SendDeliversBatch(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	m := pipeline.NewConnManager(provider, testConfig, chanSink(make(chan audio.Frame, 8)))
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	batch := []byte{0x10, 0x20, 0x30}
	if err := m.Send(context.Background(), batch); err != nil {
		t.Fatalf("Send: %v", err)
	}

	st := provider.LastStream()
	sent := st.Sent()
	if len(sent) != 1 || string(sent[0]) != string(batch) {
		t.Errorf("stream saw %v; want one batch %v", sent, batch)
	}
}

func TestConnManager_SendFailureMarksFailed(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	m := pipeline.NewConnManager(provider, testConfig, chanSink(make(chan audio.Frame, 8)))

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	st := provider.LastStream()
	st.SetSendError(errors.New("broken pipe"))

	if err := m.Send(context.Background(), []byte{1}); err == nil {
		t.Fatal("Send should surface the transport error")
	}
	if got := m.State(); got != pipeline.ConnFailed {
		t.Errorf("state = %v; want failed", got)
	}
	if !st.Closed() {
		t.Error("stale stream should be closed after a send failure")
	}

	// Recovery is lazy: the next Connect opens a fresh stream.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got := provider.Opens(); got != 2 {
		t.Errorf("provider opened %d times; want 2", got)
	}
	if err := m.Send(context.Background(), []byte{2}); err != nil {
		t.Fatalf("Send after reconnect: %v", err)
	}
}

func TestConnManager_PumpForwardsInReceiveOrder(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	out := make(chan audio.Frame, 8)
	m := pipeline.NewConnManager(provider, testConfig, chanSink(out))
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	st := provider.LastStream()
	chunks := [][]byte{{0xA1}, {0xB2}, {0xC3}}
	for _, c := range chunks {
		st.Emit(c)
	}

	for i, want := range chunks {
		got := waitFrame(t, out)
		if string(got.Data) != string(want) {
			t.Errorf("frame %d data = %v; want %v", i, got.Data, want)
		}
		if got.SampleRate != testConfig.SampleRate || got.Channels != testConfig.Channels {
			t.Errorf("frame %d tagged %d Hz/%d ch; want %d Hz/%d ch",
				i, got.SampleRate, got.Channels, testConfig.SampleRate, testConfig.Channels)
		}
	}
}

func TestConnManager_ReceiveFailureMarksFailed(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	m := pipeline.NewConnManager(provider, testConfig, chanSink(make(chan audio.Frame, 8)))

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	provider.LastStream().FailWith(errors.New("connection reset"))
	waitConnState(t, m, pipeline.ConnFailed)
}

func TestConnManager_DisconnectTolerant(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	m := pipeline.NewConnManager(provider, testConfig, chanSink(make(chan audio.Frame, 8)))

	// Disconnect without ever connecting is a no-op.
	m.Disconnect()
	if got := m.State(); got != pipeline.ConnDisconnected {
		t.Errorf("state = %v; want disconnected", got)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	st := provider.LastStream()

	m.Disconnect()
	if got := m.State(); got != pipeline.ConnDisconnected {
		t.Errorf("state after disconnect = %v; want disconnected", got)
	}
	if !st.Closed() {
		t.Error("stream should be closed by Disconnect")
	}

	// Double disconnect is a no-op the second time.
	m.Disconnect()
	if got := st.CallCountClose; got < 1 {
		t.Errorf("stream Close called %d times; want at least 1", got)
	}
}

func TestConnManager_DisconnectThenConnectRecovers(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	out := make(chan audio.Frame, 8)
	m := pipeline.NewConnManager(provider, testConfig, chanSink(out))
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after Disconnect: %v", err)
	}
	if got := provider.Opens(); got != 2 {
		t.Errorf("provider opened %d times; want 2", got)
	}

	// The fresh session sends and receives again.
	if err := m.Send(context.Background(), []byte{0x42}); err != nil {
		t.Fatalf("Send on fresh session: %v", err)
	}
	provider.LastStream().Emit([]byte{0x99})
	got := waitFrame(t, out)
	if string(got.Data) != string([]byte{0x99}) {
		t.Errorf("output = %v; want [0x99]", got.Data)
	}
}

func TestConnManager_DisconnectInterruptsPendingRead(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	m := pipeline.NewConnManager(provider, testConfig, chanSink(make(chan audio.Frame, 8)))

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The pump is blocked on an empty output channel; Disconnect must
	// unblock it and return rather than hang.
	done := make(chan struct{})
	go func() {
		m.Disconnect()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Disconnect did not return while pump was blocked on read")
	}
}
