package bikecomputer

import (
	"fmt"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/bike-computer/internal/bt"
)

type fakeViewImpl struct {
	mu          sync.Mutex
	initialized bool
	keysSetUp   bool
	stopped     bool
	draws       int
	logHeight   int
	logLines    []string
	dashboard   Dashboard
}

func (f *fakeViewImpl) Initialize(*UIController) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = true
}

func (f *fakeViewImpl) SetupKeyboardHandlers(*UIController) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keysSetUp = true
}

func (f *fakeViewImpl) Run() error { return nil }

func (f *fakeViewImpl) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeViewImpl) Draw() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draws++
	return nil
}

func (f *fakeViewImpl) GetLogViewHeight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logHeight
}

func (f *fakeViewImpl) ClearLogView() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logLines = nil
}

func (f *fakeViewImpl) WriteLogLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logLines = append(f.logLines, line)
	return nil
}

func (f *fakeViewImpl) UpdateDashboard(d Dashboard) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dashboard = d
}

func (f *fakeViewImpl) snapshot() (Dashboard, []string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.logLines))
	copy(lines, f.logLines)
	return f.dashboard, lines, f.stopped
}

func newTestView(t *testing.T, r *testRig, impl *fakeViewImpl) *BaseUIView {
	t.Helper()
	view := NewBaseUIView(NewBaseUIViewArg{
		UIViewImpl:   impl,
		UIModel:      r.model,
		UIController: r.controller,
		Logger:       log.New(io.Discard, "", 0),
	})
	t.Cleanup(view.Shutdown)
	return view
}

func TestBaseUIView_InitializesImpl(t *testing.T) {
	r := newDefaultRig(t)
	impl := &fakeViewImpl{logHeight: 3}
	newTestView(t, r, impl)

	impl.mu.Lock()
	defer impl.mu.Unlock()
	assert.True(t, impl.initialized)
	assert.True(t, impl.keysSetUp)
	assert.Equal(t, "0", impl.dashboard.Speed)
	assert.Equal(t, "BT Options (Disconnected)", impl.dashboard.ConnectionLabel())
}

func TestBaseUIView_RendersDashboardChanges(t *testing.T) {
	r := newDefaultRig(t)
	impl := &fakeViewImpl{logHeight: 3}
	newTestView(t, r, impl)

	r.controller.Connect()

	require.Eventually(t, func() bool {
		d, _, _ := impl.snapshot()
		return d.Connection == bt.Connected && d.Status == "BT Options (Connected)"
	}, waitFor, tick)
}

func TestBaseUIView_ShowsLogTail(t *testing.T) {
	r := newDefaultRig(t)
	impl := &fakeViewImpl{logHeight: 3}
	newTestView(t, r, impl)

	for i := 0; i < 5; i++ {
		r.logChan <- fmt.Sprintf("line %d\n", i)
	}

	require.Eventually(t, func() bool {
		_, lines, _ := impl.snapshot()
		return assert.ObjectsAreEqual([]string{"line 2\n", "line 3\n", "line 4\n"}, lines)
	}, waitFor, tick)
}

func TestBaseUIView_CloseRequestStopsImpl(t *testing.T) {
	r := newDefaultRig(t)
	impl := &fakeViewImpl{}
	newTestView(t, r, impl)

	r.controller.OnEscapeKey()

	require.Eventually(t, func() bool {
		_, _, stopped := impl.snapshot()
		return stopped
	}, waitFor, tick)
}

func TestNewBaseUIView_PanicsWithoutController(t *testing.T) {
	r := newDefaultRig(t)
	assert.Panics(t, func() {
		NewBaseUIView(NewBaseUIViewArg{
			UIViewImpl: &fakeViewImpl{},
			UIModel:    r.model,
			Logger:     log.New(io.Discard, "", 0),
		})
	})
}

func TestGetBTActionByName(t *testing.T) {
	action, ok := GetBTActionByName("Stop Connecting")
	assert.True(t, ok)
	assert.Equal(t, BTActionStopConnecting, action)

	_, ok = GetBTActionByName("")
	assert.False(t, ok)

	assert.Equal(t, []string{"Disconnect", "Connect", "Stop Connecting", "Cancel"}, BTActionNames())
}
