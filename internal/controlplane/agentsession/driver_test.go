package agentsession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/coordinator"
	"github.com/sudocode/controlplane/internal/controlplane/domain"
	"github.com/sudocode/controlplane/internal/events/bus"
)

type fakeExecStore struct {
	mu         sync.Mutex
	executions map[string]*domain.Execution
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{executions: make(map[string]*domain.Execution)}
}

func (s *fakeExecStore) UpdateExecution(ctx context.Context, execution *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *execution
	s.executions[execution.ID] = &cp
	return nil
}

func (s *fakeExecStore) get(id string) *domain.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executions[id]
}

type fakeHeadReader struct{ head string }

func (g *fakeHeadReader) HeadCommit(ctx context.Context, dir string) (string, error) {
	return g.head, nil
}

// fakeSession answers each Prompt call with a fresh updates channel so
// tests can drive several turns of a persistent session one at a time; the
// most recent channel is what finish() sends/closes.
type fakeSession struct {
	id       string
	cwd      string
	canceled chan struct{}

	mu      sync.Mutex
	updates chan coordinator.SessionUpdate
	prompts []string
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, cwd: "/work", canceled: make(chan struct{}, 1)}
}

func (s *fakeSession) ID() string  { return s.id }
func (s *fakeSession) Cwd() string { return s.cwd }

func (s *fakeSession) Prompt(ctx context.Context, text string) (<-chan coordinator.SessionUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, text)
	s.updates = make(chan coordinator.SessionUpdate, 8)
	return s.updates, nil
}

func (s *fakeSession) Cancel(ctx context.Context) error {
	s.canceled <- struct{}{}
	return nil
}

func (s *fakeSession) finish(turnErr error) {
	s.mu.Lock()
	ch := s.updates
	s.mu.Unlock()
	ch <- coordinator.SessionUpdate{Type: "agent_message_chunk", SessionID: s.id, Payload: "working..."}
	ch <- coordinator.SessionUpdate{Type: "turn_complete", SessionID: s.id, Payload: turnErr}
	close(ch)
}

type fakeAgent struct {
	session *fakeSession
	closed  bool
}

func (a *fakeAgent) Capabilities() map[string]bool { return map[string]bool{"loadSession": true} }

func (a *fakeAgent) CreateSession(ctx context.Context, workdir string, mcpServers []coordinator.MCPServer) (coordinator.Session, error) {
	return a.session, nil
}

func (a *fakeAgent) LoadSession(ctx context.Context, id, workdir string) (coordinator.Session, error) {
	return a.session, nil
}

func (a *fakeAgent) Close() error {
	a.closed = true
	return nil
}

func (a *fakeAgent) IsRunning() bool { return !a.closed }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{})
	require.NoError(t, err)
	return log
}

// fakeBus records every published event's type, in order, guarded by a mutex
// since Drive publishes from its own goroutine.
type fakeBus struct {
	mu     sync.Mutex
	events []*bus.Event
}

func (b *fakeBus) Publish(ctx context.Context, subject string, event *bus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *fakeBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

type fakeDisconnectWatcher struct {
	mu  sync.Mutex
	cbs map[string]func()
}

func newFakeDisconnectWatcher() *fakeDisconnectWatcher {
	return &fakeDisconnectWatcher{cbs: make(map[string]func())}
}

func (w *fakeDisconnectWatcher) OnLastUnsubscribe(execID string, cb func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cbs[execID] = cb
}

func (w *fakeDisconnectWatcher) disconnect(execID string) {
	w.mu.Lock()
	cb := w.cbs[execID]
	w.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func TestDriveCompletesSuccessfully(t *testing.T) {
	store := newFakeExecStore()
	git := &fakeHeadReader{head: "deadbeef"}
	driver := NewDriver(store, git, nil, testLogger(t))

	session := newFakeSession("session-1")
	agent := &fakeAgent{session: session}
	execution := &domain.Execution{ID: "exec-1", Prompt: "do the thing", Status: domain.ExecPreparing}
	ctor := func(ctx context.Context, cfg coordinator.SpawnConfig) (coordinator.Agent, error) { return agent, nil }

	done := make(chan struct{})
	go func() {
		driver.Drive(context.Background(), execution, ctor, coordinator.SpawnConfig{WorkDir: "/work"})
		close(done)
	}()

	time.AfterFunc(10*time.Millisecond, func() { session.finish(nil) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drive never returned")
	}

	final := store.get("exec-1")
	require.NotNil(t, final)
	assert.Equal(t, domain.ExecCompleted, final.Status)
	assert.Equal(t, "deadbeef", final.AfterCommit)
	require.NotNil(t, final.SessionID)
	assert.Equal(t, "session-1", *final.SessionID)
	assert.True(t, agent.closed)
}

func TestDriveFailsWhenTurnErrors(t *testing.T) {
	store := newFakeExecStore()
	git := &fakeHeadReader{head: "deadbeef"}
	driver := NewDriver(store, git, nil, testLogger(t))

	session := newFakeSession("session-2")
	agent := &fakeAgent{session: session}
	execution := &domain.Execution{ID: "exec-2", Prompt: "do the thing", Status: domain.ExecPreparing}
	ctor := func(ctx context.Context, cfg coordinator.SpawnConfig) (coordinator.Agent, error) { return agent, nil }

	done := make(chan struct{})
	go func() {
		driver.Drive(context.Background(), execution, ctor, coordinator.SpawnConfig{WorkDir: "/work"})
		close(done)
	}()

	boom := errors.New("agent crashed mid-turn")
	time.AfterFunc(10*time.Millisecond, func() { session.finish(boom) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drive never returned")
	}

	final := store.get("exec-2")
	require.NotNil(t, final)
	assert.Equal(t, domain.ExecFailed, final.Status)
	assert.Equal(t, boom.Error(), final.ErrorMessage)
}

func TestDriveFailsWhenSpawnErrors(t *testing.T) {
	store := newFakeExecStore()
	git := &fakeHeadReader{head: "deadbeef"}
	driver := NewDriver(store, git, nil, testLogger(t))

	execution := &domain.Execution{ID: "exec-3", Prompt: "do the thing", Status: domain.ExecPreparing}
	spawnErr := errors.New("binary not found")
	ctor := func(ctx context.Context, cfg coordinator.SpawnConfig) (coordinator.Agent, error) { return nil, spawnErr }

	driver.Drive(context.Background(), execution, ctor, coordinator.SpawnConfig{WorkDir: "/work"})

	final := store.get("exec-3")
	require.NotNil(t, final)
	assert.Equal(t, domain.ExecFailed, final.Status)
}

func TestCancelForwardsToLiveSession(t *testing.T) {
	store := newFakeExecStore()
	git := &fakeHeadReader{head: "deadbeef"}
	driver := NewDriver(store, git, nil, testLogger(t))

	session := newFakeSession("session-4")
	agent := &fakeAgent{session: session}
	execution := &domain.Execution{ID: "exec-4", Prompt: "do the thing", Status: domain.ExecPreparing}
	ctor := func(ctx context.Context, cfg coordinator.SpawnConfig) (coordinator.Agent, error) { return agent, nil }

	go driver.Drive(context.Background(), execution, ctor, coordinator.SpawnConfig{WorkDir: "/work"})

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, driver.Cancel(context.Background(), "exec-4"))
	select {
	case <-session.canceled:
	case <-time.After(time.Second):
		t.Fatal("session.Cancel was never called")
	}

	session.finish(nil)
}

func TestCancelIsNoOpForUnknownExecution(t *testing.T) {
	store := newFakeExecStore()
	git := &fakeHeadReader{head: "deadbeef"}
	driver := NewDriver(store, git, nil, testLogger(t))

	require.NoError(t, driver.Cancel(context.Background(), "no-such-exec"))
}

func TestDriveEmitsRunStartedAndRunFinished(t *testing.T) {
	store := newFakeExecStore()
	git := &fakeHeadReader{head: "deadbeef"}
	publisher := &fakeBus{}
	driver := NewDriver(store, git, publisher, testLogger(t))

	session := newFakeSession("session-5")
	agent := &fakeAgent{session: session}
	execution := &domain.Execution{ID: "exec-5", Prompt: "do the thing", Status: domain.ExecPreparing}
	ctor := func(ctx context.Context, cfg coordinator.SpawnConfig) (coordinator.Agent, error) { return agent, nil }

	done := make(chan struct{})
	go func() {
		driver.Drive(context.Background(), execution, ctor, coordinator.SpawnConfig{WorkDir: "/work"})
		close(done)
	}()
	time.AfterFunc(10*time.Millisecond, func() { session.finish(nil) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drive never returned")
	}

	types := publisher.types()
	require.NotEmpty(t, types)
	assert.Equal(t, "RUN_STARTED", types[0])
	assert.Equal(t, "RUN_FINISHED", types[len(types)-1])
}

func TestDriveEmitsRunFinishedOnTurnFailure(t *testing.T) {
	store := newFakeExecStore()
	git := &fakeHeadReader{head: "deadbeef"}
	publisher := &fakeBus{}
	driver := NewDriver(store, git, publisher, testLogger(t))

	session := newFakeSession("session-6")
	agent := &fakeAgent{session: session}
	execution := &domain.Execution{ID: "exec-6", Prompt: "do the thing", Status: domain.ExecPreparing}
	ctor := func(ctx context.Context, cfg coordinator.SpawnConfig) (coordinator.Agent, error) { return agent, nil }

	done := make(chan struct{})
	go func() {
		driver.Drive(context.Background(), execution, ctor, coordinator.SpawnConfig{WorkDir: "/work"})
		close(done)
	}()
	time.AfterFunc(10*time.Millisecond, func() { session.finish(errors.New("boom")) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drive never returned")
	}

	types := publisher.types()
	assert.Contains(t, types, "RUN_FINISHED")
}

func TestDrivePersistentSessionParksAndResumesOnSendPrompt(t *testing.T) {
	store := newFakeExecStore()
	git := &fakeHeadReader{head: "deadbeef"}
	publisher := &fakeBus{}
	driver := NewDriver(store, git, publisher, testLogger(t))

	session := newFakeSession("session-7")
	agent := &fakeAgent{session: session}
	execution := &domain.Execution{
		ID:             "exec-7",
		Prompt:         "first turn",
		Status:         domain.ExecPreparing,
		SessionMode:    domain.SessionPersistent,
		SessionEndMode: domain.SessionEndWaiting,
	}
	ctor := func(ctx context.Context, cfg coordinator.SpawnConfig) (coordinator.Agent, error) { return agent, nil }

	done := make(chan struct{})
	go func() {
		driver.Drive(context.Background(), execution, ctor, coordinator.SpawnConfig{WorkDir: "/work"})
		close(done)
	}()

	time.AfterFunc(10*time.Millisecond, func() { session.finish(nil) })

	require.Eventually(t, func() bool {
		e := store.get("exec-7")
		return e != nil && e.Status == domain.ExecWaiting
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, driver.SendPrompt(context.Background(), "exec-7", "second turn"))

	require.Eventually(t, func() bool {
		return len(session.prompts) == 2
	}, time.Second, 5*time.Millisecond)
	session.finish(nil)

	// EndSession is a no-op until the execution has parked again.
	require.Eventually(t, func() bool {
		e := store.get("exec-7")
		return e != nil && e.Status == domain.ExecWaiting
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, driver.EndSession(context.Background(), "exec-7"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drive never returned")
	}

	final := store.get("exec-7")
	require.NotNil(t, final)
	assert.Equal(t, domain.ExecCompleted, final.Status)
	assert.Equal(t, []string{"first turn", "second turn"}, session.prompts)
	assert.Contains(t, publisher.types(), "session_waiting")
	assert.Contains(t, publisher.types(), "session_ended")
}

func TestDrivePersistentSessionEndsOnIdleTimeout(t *testing.T) {
	store := newFakeExecStore()
	git := &fakeHeadReader{head: "deadbeef"}
	driver := NewDriver(store, git, nil, testLogger(t))

	session := newFakeSession("session-8")
	agent := &fakeAgent{session: session}
	execution := &domain.Execution{
		ID:             "exec-8",
		Prompt:         "first turn",
		Status:         domain.ExecPreparing,
		SessionMode:    domain.SessionPersistent,
		SessionEndMode: domain.SessionEndWaiting,
		IdleTimeoutMS:  20,
	}
	ctor := func(ctx context.Context, cfg coordinator.SpawnConfig) (coordinator.Agent, error) { return agent, nil }

	done := make(chan struct{})
	go func() {
		driver.Drive(context.Background(), execution, ctor, coordinator.SpawnConfig{WorkDir: "/work"})
		close(done)
	}()
	time.AfterFunc(10*time.Millisecond, func() { session.finish(nil) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drive never returned after idle timeout")
	}

	final := store.get("exec-8")
	require.NotNil(t, final)
	assert.Equal(t, domain.ExecCompleted, final.Status)
}

func TestDrivePersistentSessionPausedIgnoresIdleTimer(t *testing.T) {
	store := newFakeExecStore()
	git := &fakeHeadReader{head: "deadbeef"}
	driver := NewDriver(store, git, nil, testLogger(t))

	session := newFakeSession("session-9")
	agent := &fakeAgent{session: session}
	execution := &domain.Execution{
		ID:             "exec-9",
		Prompt:         "first turn",
		Status:         domain.ExecPreparing,
		SessionMode:    domain.SessionPersistent,
		SessionEndMode: domain.SessionEndPaused,
		IdleTimeoutMS:  20,
	}
	ctor := func(ctx context.Context, cfg coordinator.SpawnConfig) (coordinator.Agent, error) { return agent, nil }

	done := make(chan struct{})
	go func() {
		driver.Drive(context.Background(), execution, ctor, coordinator.SpawnConfig{WorkDir: "/work"})
		close(done)
	}()
	time.AfterFunc(10*time.Millisecond, func() { session.finish(nil) })

	require.Eventually(t, func() bool {
		e := store.get("exec-9")
		return e != nil && e.Status == domain.ExecPaused
	}, time.Second, 5*time.Millisecond)

	// Long enough to have tripped a waiting-mode idle timer, confirming a
	// paused session ignores it.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, domain.ExecPaused, store.get("exec-9").Status)

	require.NoError(t, driver.EndSession(context.Background(), "exec-9"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drive never returned after EndSession")
	}
}

func TestDrivePersistentSessionEndsOnDisconnect(t *testing.T) {
	store := newFakeExecStore()
	git := &fakeHeadReader{head: "deadbeef"}
	driver := NewDriver(store, git, nil, testLogger(t))
	watcher := newFakeDisconnectWatcher()
	driver.SetDisconnectWatcher(watcher)

	session := newFakeSession("session-10")
	agent := &fakeAgent{session: session}
	execution := &domain.Execution{
		ID:              "exec-10",
		Prompt:          "first turn",
		Status:          domain.ExecPreparing,
		SessionMode:     domain.SessionPersistent,
		SessionEndMode:  domain.SessionEndWaiting,
		EndOnDisconnect: true,
	}
	ctor := func(ctx context.Context, cfg coordinator.SpawnConfig) (coordinator.Agent, error) { return agent, nil }

	done := make(chan struct{})
	go func() {
		driver.Drive(context.Background(), execution, ctor, coordinator.SpawnConfig{WorkDir: "/work"})
		close(done)
	}()
	time.AfterFunc(10*time.Millisecond, func() { session.finish(nil) })

	require.Eventually(t, func() bool {
		e := store.get("exec-10")
		return e != nil && e.Status == domain.ExecWaiting
	}, time.Second, 5*time.Millisecond)

	watcher.disconnect("exec-10")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drive never returned after disconnect")
	}
	assert.Equal(t, domain.ExecCompleted, store.get("exec-10").Status)
}
