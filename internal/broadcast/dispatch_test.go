package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cbdispatch/internal/cbc"
	"cbdispatch/internal/types"
)

// Shared test doubles for the broadcast package live in this file.

type stubLogger struct {
	entries []string
}

func (l *stubLogger) log(msg string, args ...any) {
	parts := []string{msg}
	for _, a := range args {
		if s, ok := a.(string); ok {
			parts = append(parts, s)
		}
	}
	l.entries = append(l.entries, strings.Join(parts, " "))
}

func (l *stubLogger) Info(msg string, args ...any)  { l.log(msg, args...) }
func (l *stubLogger) Warn(msg string, args ...any)  { l.log(msg, args...) }
func (l *stubLogger) Error(msg string, args ...any) { l.log(msg, args...) }
func (l *stubLogger) With(...any) types.Logger      { return l }

func (l *stubLogger) contains(substr string) bool {
	for _, e := range l.entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type mockEventStore struct {
	events    map[string]*types.BroadcastEvent
	latest    *types.BroadcastEvent
	latestErr error
	earlier   []*types.BroadcastEvent
	created   []*types.BroadcastEvent
	createErr error
}

func (m *mockEventStore) Create(_ context.Context, ev *types.BroadcastEvent) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, ev)
	return nil
}

func (m *mockEventStore) Get(_ context.Context, id string) (*types.BroadcastEvent, error) {
	if ev, ok := m.events[id]; ok {
		return ev, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "broadcast event not found", nil)
}

func (m *mockEventStore) GetLatestForMessage(_ context.Context, _ string) (*types.BroadcastEvent, error) {
	if m.latestErr != nil {
		return nil, m.latestErr
	}
	if m.latest == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "broadcast message has no events", nil)
	}
	return m.latest, nil
}

func (m *mockEventStore) ListEarlierForMessage(_ context.Context, _ string, _ time.Time) ([]*types.BroadcastEvent, error) {
	return m.earlier, nil
}

type statusCall struct {
	id     string
	status types.BroadcastStatus
	actor  string
}

type mockMessageStore struct {
	msg          *types.BroadcastMessage
	statusCalls  []statusCall
	channelCalls []types.BroadcastChannel
}

func (m *mockMessageStore) Get(_ context.Context, id string) (*types.BroadcastMessage, error) {
	if m.msg == nil || m.msg.ID != id {
		return nil, types.NewAppError(types.ErrCodeNotFoundMessage, "broadcast message not found", nil)
	}
	cp := *m.msg
	return &cp, nil
}

func (m *mockMessageStore) SetStatus(_ context.Context, id string, status types.BroadcastStatus, actorID string, _ time.Time) error {
	m.statusCalls = append(m.statusCalls, statusCall{id: id, status: status, actor: actorID})
	return nil
}

func (m *mockMessageStore) SetChannel(_ context.Context, _ string, channel types.BroadcastChannel) error {
	m.channelCalls = append(m.channelCalls, channel)
	return nil
}

type mockProviderMessageStore struct {
	pm           *types.BroadcastProviderMessage
	created      bool
	ensureErr    error
	sequenceArgs []bool
	numbers      map[string]*types.BroadcastProviderMessage
	statusCalls  []types.ProviderMessageStatus
}

func (m *mockProviderMessageStore) EnsureExists(_ context.Context, eventID string, provider types.Provider, withSequence bool) (*types.BroadcastProviderMessage, bool, error) {
	m.sequenceArgs = append(m.sequenceArgs, withSequence)
	if m.ensureErr != nil {
		return nil, false, m.ensureErr
	}
	if m.pm == nil {
		m.pm = &types.BroadcastProviderMessage{
			ID:               "pm-1",
			BroadcastEventID: eventID,
			Provider:         provider,
			Status:           types.ProviderMessageSending,
		}
		m.created = true
	}
	return m.pm, m.created, nil
}

func (m *mockProviderMessageStore) ListForEvents(_ context.Context, _ []string, _ types.Provider) (map[string]*types.BroadcastProviderMessage, error) {
	return m.numbers, nil
}

func (m *mockProviderMessageStore) SetStatus(_ context.Context, _ string, status types.ProviderMessageStatus) error {
	m.statusCalls = append(m.statusCalls, status)
	return nil
}

type mockServiceStore struct {
	settings *types.ServiceBroadcastSettings
}

func (m *mockServiceStore) Get(_ context.Context, serviceID string) (*types.ServiceBroadcastSettings, error) {
	if m.settings == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundService, "service broadcast settings not found", nil)
	}
	return m.settings, nil
}

type requeueCall struct {
	msg    types.DispatchMessage
	delay  time.Duration
	reason string
}

// mockQueue is shared between the orchestrator and dispatch tests; fan-out
// enqueues from multiple goroutines, hence the mutex.
type mockQueue struct {
	mu       sync.Mutex
	enqueued []types.DispatchMessage
	requeued []requeueCall
	err      error
}

func (m *mockQueue) Enqueue(_ context.Context, msg types.DispatchMessage, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, msg)
	return nil
}

func (m *mockQueue) Requeue(_ context.Context, msg types.DispatchMessage, delay time.Duration, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.requeued = append(m.requeued, requeueCall{msg: msg, delay: delay, reason: reason})
	return nil
}

type updateCall struct {
	payload  cbc.EventPayload
	previous []cbc.Reference
}

type mockClient struct {
	provider    types.Provider
	sendErr     error
	createCalls []cbc.EventPayload
	updateCalls []updateCall
	cancelCalls []updateCall
	linkTests   int
	linkTestErr error
}

func (m *mockClient) Provider() types.Provider { return m.provider }

func (m *mockClient) SendLinkTest(context.Context) error {
	m.linkTests++
	return m.linkTestErr
}

func (m *mockClient) CreateAndSend(_ context.Context, alert cbc.EventPayload) error {
	m.createCalls = append(m.createCalls, alert)
	return m.sendErr
}

func (m *mockClient) UpdateAndSend(_ context.Context, update cbc.EventPayload, previous []cbc.Reference) error {
	m.updateCalls = append(m.updateCalls, updateCall{payload: update, previous: previous})
	return m.sendErr
}

func (m *mockClient) Cancel(_ context.Context, cancel cbc.EventPayload, previous []cbc.Reference) error {
	m.cancelCalls = append(m.cancelCalls, updateCall{payload: cancel, previous: previous})
	return m.sendErr
}

type mockRegistry struct {
	clients map[types.Provider]*mockClient
}

func (m *mockRegistry) Get(provider types.Provider) (cbc.ProviderClient, error) {
	if c, ok := m.clients[provider]; ok {
		return c, nil
	}
	return nil, types.NewAppError(types.ErrCodeProviderUnknown, "no client registered", nil)
}

func (m *mockRegistry) Providers() []types.Provider {
	out := make([]types.Provider, 0, len(m.clients))
	for p := range m.clients {
		out = append(out, p)
	}
	return out
}

type dispatchRecord struct {
	provider types.Provider
	outcome  types.DispatchOutcome
}

type recordingMetrics struct {
	dispatches []dispatchRecord
}

func (m *recordingMetrics) RecordDispatch(_ context.Context, provider types.Provider, outcome types.DispatchOutcome) {
	m.dispatches = append(m.dispatches, dispatchRecord{provider: provider, outcome: outcome})
}
func (m *recordingMetrics) RecordLatency(context.Context, types.Provider, time.Duration) {}
func (m *recordingMetrics) RecordQueueLag(context.Context, time.Duration)                {}

func (m *recordingMetrics) lastOutcome() types.DispatchOutcome {
	if len(m.dispatches) == 0 {
		return ""
	}
	return m.dispatches[len(m.dispatches)-1].outcome
}

// --- Dispatch fixture ---

type dispatchFixture struct {
	events   *mockEventStore
	messages *mockMessageStore
	pms      *mockProviderMessageStore
	registry *mockRegistry
	queue    *mockQueue
	metrics  *recordingMetrics
	logger   *stubLogger
	clock    fixedClock
	handler  *DispatchHandler
}

func dispatchTestEvent(msgType types.MessageType, sentAt, finishesAt time.Time) *types.BroadcastEvent {
	return &types.BroadcastEvent{
		ID:                 "event-1",
		BroadcastMessageID: "msg-1",
		MessageType:        msgType,
		SentAt:             sentAt,
		Content:            types.TransmittedContent{Body: "Severe flooding expected"},
		Areas: types.AreaList{
			Names:          []string{"london"},
			SimplePolygons: []types.Polygon{{{51.5, -0.1}, {51.6, -0.1}, {51.6, -0.2}}},
		},
		TransmittedFinishesAt: finishesAt,
	}
}

func newDispatchFixture(event *types.BroadcastEvent, provider types.Provider, client *mockClient) *dispatchFixture {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f := &dispatchFixture{
		events: &mockEventStore{
			events: map[string]*types.BroadcastEvent{event.ID: event},
			latest: event,
		},
		messages: &mockMessageStore{msg: &types.BroadcastMessage{
			ID:        "msg-1",
			ServiceID: "service-1",
			Status:    types.StatusBroadcasting,
			Channel:   types.ChannelSevere,
		}},
		pms:      &mockProviderMessageStore{},
		registry: &mockRegistry{clients: map[types.Provider]*mockClient{provider: client}},
		queue:    &mockQueue{},
		metrics:  &recordingMetrics{},
		logger:   &stubLogger{},
		clock:    fixedClock{t: now},
	}
	f.handler = NewDispatchHandler(
		f.events, f.messages, f.pms, f.registry, f.queue,
		NewRetryChecker(f.events, f.clock), f.metrics, f.clock, f.logger,
	)
	return f
}

func (f *dispatchFixture) dispatch(t *testing.T, task types.DispatchMessage) error {
	t.Helper()
	return f.handler.Dispatch(context.Background(), task)
}

// --- Tests ---

func TestDispatch_AlertSuccess(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	event := dispatchTestEvent(types.MessageTypeAlert, now.Add(-time.Minute), now.Add(4*time.Hour))
	client := &mockClient{provider: types.ProviderEE}
	f := newDispatchFixture(event, types.ProviderEE, client)

	err := f.dispatch(t, types.DispatchMessage{BroadcastEventID: "event-1", Provider: types.ProviderEE})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.createCalls) != 1 {
		t.Fatalf("expected 1 CreateAndSend call, got %d", len(client.createCalls))
	}
	if client.createCalls[0].Channel != types.ChannelSevere {
		t.Errorf("channel = %q", client.createCalls[0].Channel)
	}
	if client.createCalls[0].Number != nil {
		t.Error("CAP family payload must not carry a number")
	}
	if len(f.pms.sequenceArgs) != 1 || f.pms.sequenceArgs[0] {
		t.Errorf("EnsureExists withSequence should be false for ee: %v", f.pms.sequenceArgs)
	}
	if len(f.pms.statusCalls) != 1 || f.pms.statusCalls[0] != types.ProviderMessageAck {
		t.Errorf("expected returned-ack status write, got %v", f.pms.statusCalls)
	}
	if f.metrics.lastOutcome() != types.OutcomeSuccess {
		t.Errorf("outcome = %q", f.metrics.lastOutcome())
	}
}

func TestDispatch_SequencedProviderCarriesNumber(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	event := dispatchTestEvent(types.MessageTypeAlert, now.Add(-time.Minute), now.Add(4*time.Hour))
	client := &mockClient{provider: types.ProviderVodafone}
	f := newDispatchFixture(event, types.ProviderVodafone, client)

	number := int64(123)
	f.pms.pm = &types.BroadcastProviderMessage{
		ID:               "pm-1",
		BroadcastEventID: "event-1",
		Provider:         types.ProviderVodafone,
		Status:           types.ProviderMessageSending,
		MessageNumber:    &number,
	}
	f.pms.created = true

	err := f.dispatch(t, types.DispatchMessage{BroadcastEventID: "event-1", Provider: types.ProviderVodafone})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.pms.sequenceArgs) != 1 || !f.pms.sequenceArgs[0] {
		t.Errorf("EnsureExists withSequence should be true for vodafone: %v", f.pms.sequenceArgs)
	}
	if client.createCalls[0].Number == nil || *client.createCalls[0].Number != 123 {
		t.Errorf("payload number = %v", client.createCalls[0].Number)
	}
}

func TestDispatch_AlreadyAcknowledged_Skips(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	event := dispatchTestEvent(types.MessageTypeAlert, now.Add(-time.Minute), now.Add(4*time.Hour))
	client := &mockClient{provider: types.ProviderEE}
	f := newDispatchFixture(event, types.ProviderEE, client)

	f.pms.pm = &types.BroadcastProviderMessage{
		ID:               "pm-1",
		BroadcastEventID: "event-1",
		Provider:         types.ProviderEE,
		Status:           types.ProviderMessageAck,
	}
	f.pms.created = false

	err := f.dispatch(t, types.DispatchMessage{BroadcastEventID: "event-1", Provider: types.ProviderEE})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.createCalls) != 0 {
		t.Error("acknowledged delivery must not be re-sent")
	}
	if f.metrics.lastOutcome() != types.OutcomeSkipped {
		t.Errorf("outcome = %q", f.metrics.lastOutcome())
	}
}

func TestDispatch_UpdateReferencesEarlierEvents(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	event := dispatchTestEvent(types.MessageTypeUpdate, now.Add(-time.Minute), now.Add(4*time.Hour))
	client := &mockClient{provider: types.ProviderVodafone}
	f := newDispatchFixture(event, types.ProviderVodafone, client)

	oldest := dispatchTestEvent(types.MessageTypeAlert, now.Add(-time.Hour), now.Add(4*time.Hour))
	oldest.ID = "event-old-1"
	middle := dispatchTestEvent(types.MessageTypeUpdate, now.Add(-30*time.Minute), now.Add(4*time.Hour))
	middle.ID = "event-old-2"
	f.events.earlier = []*types.BroadcastEvent{oldest, middle}

	n1, n2 := int64(50), int64(51)
	f.pms.numbers = map[string]*types.BroadcastProviderMessage{
		"event-old-1": {MessageNumber: &n1},
		"event-old-2": {MessageNumber: &n2},
	}
	number := int64(52)
	f.pms.pm = &types.BroadcastProviderMessage{
		ID: "pm-1", BroadcastEventID: "event-1",
		Provider: types.ProviderVodafone, Status: types.ProviderMessageSending,
		MessageNumber: &number,
	}
	f.pms.created = true

	err := f.dispatch(t, types.DispatchMessage{BroadcastEventID: "event-1", Provider: types.ProviderVodafone})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.updateCalls) != 1 {
		t.Fatalf("expected 1 UpdateAndSend call, got %d", len(client.updateCalls))
	}
	previous := client.updateCalls[0].previous
	if len(previous) != 2 {
		t.Fatalf("expected 2 references, got %d", len(previous))
	}
	if previous[0].EventID != "event-old-1" || previous[1].EventID != "event-old-2" {
		t.Errorf("references out of order: %+v", previous)
	}
	if previous[0].Number == nil || *previous[0].Number != 50 {
		t.Errorf("first reference number = %v", previous[0].Number)
	}
}

func TestDispatch_CancelReferencesPriorAlert(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	event := dispatchTestEvent(types.MessageTypeCancel, now.Add(-time.Minute), now.Add(4*time.Hour))
	client := &mockClient{provider: types.ProviderO2}
	f := newDispatchFixture(event, types.ProviderO2, client)

	alert := dispatchTestEvent(types.MessageTypeAlert, now.Add(-time.Hour), now.Add(4*time.Hour))
	alert.ID = "event-alert"
	f.events.earlier = []*types.BroadcastEvent{alert}

	err := f.dispatch(t, types.DispatchMessage{BroadcastEventID: "event-1", Provider: types.ProviderO2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.cancelCalls) != 1 {
		t.Fatalf("expected 1 Cancel call, got %d", len(client.cancelCalls))
	}
	previous := client.cancelCalls[0].previous
	if len(previous) != 1 || previous[0].EventID != "event-alert" {
		t.Errorf("unexpected references: %+v", previous)
	}
}

func TestDispatch_RetryableFailure_SchedulesRetry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	event := dispatchTestEvent(types.MessageTypeAlert, now.Add(-time.Minute), now.Add(4*time.Hour))
	client := &mockClient{
		provider: types.ProviderEE,
		sendErr:  types.NewAppError(types.ErrCodeProviderRetryable, "both CBC endpoints failed", nil),
	}
	f := newDispatchFixture(event, types.ProviderEE, client)

	err := f.dispatch(t, types.DispatchMessage{BroadcastEventID: "event-1", Provider: types.ProviderEE, RetryCount: 3})
	if err != nil {
		t.Fatalf("retryable failure must not escape: %v", err)
	}

	if len(f.queue.requeued) != 1 {
		t.Fatalf("expected 1 requeue, got %d", len(f.queue.requeued))
	}
	if f.queue.requeued[0].delay != 8*time.Second {
		t.Errorf("delay = %v, want 8s for retry count 3", f.queue.requeued[0].delay)
	}
	if f.metrics.lastOutcome() != types.OutcomeRetrying {
		t.Errorf("outcome = %q", f.metrics.lastOutcome())
	}
	// Delivery has not succeeded; the status must remain sending.
	if len(f.pms.statusCalls) != 0 {
		t.Errorf("unexpected status writes: %v", f.pms.statusCalls)
	}
}

func TestDispatch_GivesUpWhenExpired(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// Expired five minutes ago; gives up on the first evaluation regardless
	// of attempt count.
	event := dispatchTestEvent(types.MessageTypeAlert, now.Add(-time.Hour), now.Add(-5*time.Minute))
	client := &mockClient{
		provider: types.ProviderEE,
		sendErr:  types.NewAppError(types.ErrCodeProviderRetryable, "both CBC endpoints failed", nil),
	}
	f := newDispatchFixture(event, types.ProviderEE, client)

	err := f.dispatch(t, types.DispatchMessage{BroadcastEventID: "event-1", Provider: types.ProviderEE})
	if err != nil {
		t.Fatalf("give-up must complete the unit, got %v", err)
	}
	if len(f.queue.requeued) != 0 {
		t.Error("expired event must not be retried")
	}
	if f.metrics.lastOutcome() != types.OutcomeGaveUp {
		t.Errorf("outcome = %q", f.metrics.lastOutcome())
	}
	if !f.logger.contains("giving up delivery") {
		t.Error("expected give-up log entry")
	}
	// The provider message is left in sending, never silently resolved.
	if len(f.pms.statusCalls) != 0 {
		t.Errorf("unexpected status writes: %v", f.pms.statusCalls)
	}
}

func TestDispatch_GivesUpWhenSuperseded(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	event := dispatchTestEvent(types.MessageTypeAlert, now.Add(-time.Hour), now.Add(4*time.Hour))
	client := &mockClient{
		provider: types.ProviderEE,
		sendErr:  types.NewAppError(types.ErrCodeProviderRetryable, "both CBC endpoints failed", nil),
	}
	f := newDispatchFixture(event, types.ProviderEE, client)

	update := dispatchTestEvent(types.MessageTypeUpdate, now.Add(-time.Minute), now.Add(4*time.Hour))
	update.ID = "event-update"
	f.events.latest = update

	err := f.dispatch(t, types.DispatchMessage{BroadcastEventID: "event-1", Provider: types.ProviderEE, RetryCount: 7})
	if err != nil {
		t.Fatalf("give-up must complete the unit, got %v", err)
	}
	if len(f.queue.requeued) != 0 {
		t.Error("superseded event must not be retried")
	}
	if f.metrics.lastOutcome() != types.OutcomeGaveUp {
		t.Errorf("outcome = %q", f.metrics.lastOutcome())
	}
	if !f.logger.contains("event-update") {
		t.Error("give-up log must name the superseding event")
	}
}

func TestDispatch_FatalPayloadErrorEscapes(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	event := dispatchTestEvent(types.MessageTypeAlert, now.Add(-time.Minute), now.Add(4*time.Hour))
	fatal := types.NewAppError(types.ErrCodeProviderPayload, "sequenced payload requires a message number", nil)
	client := &mockClient{provider: types.ProviderVodafone, sendErr: fatal}
	f := newDispatchFixture(event, types.ProviderVodafone, client)

	err := f.dispatch(t, types.DispatchMessage{BroadcastEventID: "event-1", Provider: types.ProviderVodafone})
	if !errors.Is(err, fatal) {
		t.Fatalf("fatal error must escape, got %v", err)
	}
	if len(f.pms.statusCalls) != 1 || f.pms.statusCalls[0] != types.ProviderMessageErr {
		t.Errorf("expected returned-error status write, got %v", f.pms.statusCalls)
	}
	if f.metrics.lastOutcome() != types.OutcomeFailed {
		t.Errorf("outcome = %q", f.metrics.lastOutcome())
	}
	if len(f.queue.requeued) != 0 {
		t.Error("fatal errors must not be retried")
	}
}

func TestDispatch_UnknownProviderEscapes(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	event := dispatchTestEvent(types.MessageTypeAlert, now.Add(-time.Minute), now.Add(4*time.Hour))
	f := newDispatchFixture(event, types.ProviderEE, &mockClient{provider: types.ProviderEE})

	err := f.dispatch(t, types.DispatchMessage{BroadcastEventID: "event-1", Provider: types.Provider("giffgaff")})
	if err == nil {
		t.Fatal("expected error")
	}
	if !types.IsFatalProvider(err) {
		t.Errorf("unknown provider must be fatal, got %v", types.ErrorCodeOf(err))
	}
}

func TestDispatch_EventNotFoundEscapes(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	event := dispatchTestEvent(types.MessageTypeAlert, now.Add(-time.Minute), now.Add(4*time.Hour))
	f := newDispatchFixture(event, types.ProviderEE, &mockClient{provider: types.ProviderEE})

	err := f.dispatch(t, types.DispatchMessage{BroadcastEventID: "event-missing", Provider: types.ProviderEE})
	if err == nil {
		t.Fatal("expected error")
	}
	if types.ErrorCodeOf(err) != types.ErrCodeNotFoundEvent {
		t.Errorf("unexpected code %v", types.ErrorCodeOf(err))
	}
}
