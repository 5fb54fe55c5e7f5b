package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"telecare-chat/internal/cache"
	"telecare-chat/internal/domain/chat"
	"telecare-chat/internal/domain/consultation"
	"telecare-chat/internal/events"
	"telecare-chat/internal/notify"
	telecare_errors "telecare-chat/pkg/errors"
	"telecare-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the order of persistence and broadcast side effects.
type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) add(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

type fakeChatRepo struct {
	mu       sync.Mutex
	chats    map[uuid.UUID]chat.Chat
	messages map[uuid.UUID]chat.ChatMessage
	dates    map[string]chat.ChatDate
	rec         *recorder
	getCalls    int
	failSetLast bool
}

func newFakeChatRepo(rec *recorder) *fakeChatRepo {
	return &fakeChatRepo{
		chats:    make(map[uuid.UUID]chat.Chat),
		messages: make(map[uuid.UUID]chat.ChatMessage),
		dates:    make(map[string]chat.ChatDate),
		rec:      rec,
	}
}

func (f *fakeChatRepo) addChat(c chat.Chat) {
	f.mu.Lock()
	f.chats[c.ID] = c
	f.mu.Unlock()
}

func (f *fakeChatRepo) GetByID(ctx context.Context, id uuid.UUID) (chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	c, ok := f.chats[id]
	if !ok {
		return chat.Chat{}, telecare_errors.ErrNotFound
	}
	return c, nil
}

func (f *fakeChatRepo) GetOrCreateDate(ctx context.Context, chatID uuid.UUID, day time.Time) (chat.ChatDate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := chatID.String() + chat.Midnight(day).String()
	if d, ok := f.dates[key]; ok {
		return d, nil
	}
	d := chat.ChatDate{ID: uuid.New(), ChatID: chatID, Date: chat.Midnight(day)}
	f.dates[key] = d
	return d, nil
}

func (f *fakeChatRepo) CreateMessage(ctx context.Context, m *chat.ChatMessage) error {
	f.mu.Lock()
	f.messages[m.ID] = *m
	f.mu.Unlock()
	f.rec.add("persist")
	return nil
}

func (f *fakeChatRepo) GetMessageByID(ctx context.Context, id uuid.UUID) (chat.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return chat.ChatMessage{}, telecare_errors.ErrNotFound
	}
	return m, nil
}

func (f *fakeChatRepo) SetLastMessage(ctx context.Context, chatID, messageID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSetLast {
		return telecare_errors.ErrDependency
	}
	c, ok := f.chats[chatID]
	if !ok {
		return telecare_errors.ErrNotFound
	}
	c.LastMessageID = uuid.NullUUID{UUID: messageID, Valid: true}
	c.UpdatedAt = at
	f.chats[chatID] = c
	return nil
}

func (f *fakeChatRepo) ListChats(ctx context.Context, offset, limit int) ([]chat.Chat, error) {
	return nil, nil
}

func (f *fakeChatRepo) UpdateChatKey(ctx context.Context, id uuid.UUID, key string) error {
	return nil
}

func (f *fakeChatRepo) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeUnreadRepo struct {
	mu            sync.Mutex
	counts        map[string]int
	resets        []string
	failIncrement bool
}

func newFakeUnreadRepo() *fakeUnreadRepo {
	return &fakeUnreadRepo{counts: make(map[string]int)}
}

func (f *fakeUnreadRepo) increment(chatID uuid.UUID, role string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIncrement {
		return 0, telecare_errors.ErrDependency
	}
	key := chatID.String() + ":" + role
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeUnreadRepo) IncrementDoctor(ctx context.Context, chatID, doctorID uuid.UUID) (int, error) {
	return f.increment(chatID, chat.SenderDoctor)
}

func (f *fakeUnreadRepo) IncrementUser(ctx context.Context, chatID, userID uuid.UUID) (int, error) {
	return f.increment(chatID, chat.SenderUser)
}

func (f *fakeUnreadRepo) ResetRole(ctx context.Context, chatID uuid.UUID, role string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := chatID.String() + ":" + role
	f.resets = append(f.resets, key)
	f.counts[key] = 0
	return 1, nil
}

func (f *fakeUnreadRepo) count(chatID uuid.UUID, role string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[chatID.String()+":"+role]
}

type recordedEvent struct {
	room   string
	except string
	event  events.Event
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
	rec    *recorder
}

func (f *fakeBroadcaster) Broadcast(room string, event events.Event) {
	f.BroadcastExcept(room, "", event)
}

func (f *fakeBroadcaster) BroadcastExcept(room, except string, event events.Event) {
	f.mu.Lock()
	f.events = append(f.events, recordedEvent{room: room, except: except, event: event})
	f.mu.Unlock()
	if f.rec != nil {
		f.rec.add("broadcast:" + event.Type)
	}
}

func (f *fakeBroadcaster) byType(eventType string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, e := range f.events {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakePush struct {
	mu    sync.Mutex
	tasks []notify.Task
}

func (f *fakePush) Enqueue(task notify.Task) {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
}

type fixture struct {
	svc         *ChatService
	chats       *fakeChatRepo
	unreads     *fakeUnreadRepo
	broadcaster *fakeBroadcaster
	push        *fakePush
	rec         *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &recorder{}
	chats := newFakeChatRepo(rec)
	unreads := newFakeUnreadRepo()
	broadcaster := &fakeBroadcaster{rec: rec}
	push := &fakePush{}

	availability := cache.NewAvailabilityCache(time.Minute, time.Minute)
	svc := NewChatService(chats, unreads, nil, availability, broadcaster, push, nil, logger.NewNop())
	return &fixture{svc: svc, chats: chats, unreads: unreads, broadcaster: broadcaster, push: push, rec: rec}
}

func activeChat() chat.Chat {
	userID, doctorID := uuid.New(), uuid.New()
	return chat.Chat{
		ID:       uuid.New(),
		UserID:   userID,
		DoctorID: doctorID,
		ChatKey:  chat.DeriveChatKey(userID, doctorID),
		IsActive: true,
	}
}

func TestSendMessagePersistsThenBroadcasts(t *testing.T) {
	fx := newFixture(t)
	c := activeChat()
	fx.chats.addChat(c)

	payload, err := fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID:  c.ID,
		Sender:  chat.SenderUser,
		Content: "hello doctor",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, fx.chats.messageCount())
	assert.Len(t, fx.broadcaster.byType(events.EventNewMessage), 1)
	assert.Equal(t, "hello doctor", payload.Content)
	assert.Equal(t, chat.TypeText, payload.Type)

	ops := fx.rec.snapshot()
	require.GreaterOrEqual(t, len(ops), 2)
	assert.Equal(t, "persist", ops[0])
	assert.Equal(t, "broadcast:new_message", ops[1])
}

func TestSendMessageInactiveChat(t *testing.T) {
	fx := newFixture(t)
	c := activeChat()
	c.IsActive = false
	fx.chats.addChat(c)

	_, err := fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID:  c.ID,
		Sender:  chat.SenderUser,
		Content: "hello",
	})
	assert.ErrorIs(t, err, telecare_errors.ErrChatInactive)
	assert.Equal(t, 0, fx.chats.messageCount())
	assert.Empty(t, fx.broadcaster.byType(events.EventNewMessage))
}

func TestSendMessageValidation(t *testing.T) {
	fx := newFixture(t)
	c := activeChat()
	fx.chats.addChat(c)

	cases := []SendMessageInput{
		{Sender: chat.SenderUser, Content: "x"},          // missing chat
		{ChatID: c.ID, Content: "x"},                     // missing sender
		{ChatID: c.ID, Sender: "nurse", Content: "x"},    // unknown sender role
		{ChatID: c.ID, Sender: chat.SenderUser},          // no content, no file
	}
	for i, in := range cases {
		_, err := fx.svc.SendMessage(context.Background(), in)
		assert.ErrorIs(t, err, telecare_errors.ErrInvalidArgument, "case %d", i)
	}
	assert.Equal(t, 0, fx.chats.messageCount())
}

func TestSendMessageUnknownChat(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID:  uuid.New(),
		Sender:  chat.SenderUser,
		Content: "hello",
	})
	assert.ErrorIs(t, err, telecare_errors.ErrNotFound)
}

func TestSendMessageReplySummary(t *testing.T) {
	fx := newFixture(t)
	c := activeChat()
	fx.chats.addChat(c)

	first, err := fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID:  c.ID,
		Sender:  chat.SenderDoctor,
		Content: "take two daily",
	})
	require.NoError(t, err)

	second, err := fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID:    c.ID,
		Sender:    chat.SenderUser,
		Content:   "with food?",
		ReplyToID: &first.ID,
	})
	require.NoError(t, err)

	require.NotNil(t, second.ReplyTo)
	assert.Equal(t, first.ID, second.ReplyTo.ID)
	assert.Equal(t, "take two daily", second.ReplyTo.Content)
	assert.Equal(t, chat.SenderDoctor, second.ReplyTo.Sender)
	assert.Equal(t, chat.TypeText, second.ReplyTo.Type)
}

func TestSendMessageDanglingReply(t *testing.T) {
	fx := newFixture(t)
	c := activeChat()
	fx.chats.addChat(c)

	missing := uuid.New()
	_, err := fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID:    c.ID,
		Sender:    chat.SenderUser,
		Content:   "hi",
		ReplyToID: &missing,
	})
	assert.ErrorIs(t, err, telecare_errors.ErrNotFound)
	assert.Equal(t, 0, fx.chats.messageCount())
}

func TestSendMessageReplyAcrossChats(t *testing.T) {
	fx := newFixture(t)
	a, b := activeChat(), activeChat()
	fx.chats.addChat(a)
	fx.chats.addChat(b)

	inA, err := fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID:  a.ID,
		Sender:  chat.SenderUser,
		Content: "first",
	})
	require.NoError(t, err)

	_, err = fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID:    b.ID,
		Sender:    chat.SenderUser,
		Content:   "second",
		ReplyToID: &inA.ID,
	})
	assert.ErrorIs(t, err, telecare_errors.ErrInvalidArgument)
}

func TestUnreadIncrementsOppositeRole(t *testing.T) {
	fx := newFixture(t)
	c := activeChat()
	fx.chats.addChat(c)

	for i := 0; i < 3; i++ {
		_, err := fx.svc.SendMessage(context.Background(), SendMessageInput{
			ChatID:  c.ID,
			Sender:  chat.SenderUser,
			Content: fmt.Sprintf("msg %d", i),
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, fx.unreads.count(c.ID, chat.SenderDoctor))
	assert.Equal(t, 0, fx.unreads.count(c.ID, chat.SenderUser))

	updates := fx.broadcaster.byType(events.EventUpdateUnread)
	require.Len(t, updates, 3)
	for i, e := range updates {
		payload := e.event.Payload.(UnreadPayload)
		assert.Equal(t, chat.SenderDoctor, payload.Role)
		assert.Equal(t, i+1, payload.UnreadCount)
	}
}

func TestConcurrentSendsNeverSkipOrDoubleCount(t *testing.T) {
	fx := newFixture(t)
	c := activeChat()
	fx.chats.addChat(c)

	const sends = 25
	var wg sync.WaitGroup
	for i := 0; i < sends; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fx.svc.SendMessage(context.Background(), SendMessageInput{
				ChatID:  c.ID,
				Sender:  chat.SenderUser,
				Content: fmt.Sprintf("msg %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, sends, fx.chats.messageCount())
	assert.Equal(t, sends, fx.unreads.count(c.ID, chat.SenderDoctor))
	assert.Len(t, fx.broadcaster.byType(events.EventNewMessage), sends)
}

func TestUnreadFailureDoesNotFailSend(t *testing.T) {
	fx := newFixture(t)
	c := activeChat()
	fx.chats.addChat(c)
	fx.unreads.failIncrement = true

	_, err := fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID:  c.ID,
		Sender:  chat.SenderUser,
		Content: "hello",
	})
	require.NoError(t, err)

	assert.Len(t, fx.broadcaster.byType(events.EventNewMessage), 1)
	assert.Empty(t, fx.broadcaster.byType(events.EventUpdateUnread))
}

func TestLastMessagePointerFailureDoesNotAbortSend(t *testing.T) {
	fx := newFixture(t)
	c := activeChat()
	fx.chats.addChat(c)
	fx.chats.failSetLast = true

	payload, err := fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID:  c.ID,
		Sender:  chat.SenderUser,
		Content: "hello",
	})
	require.NoError(t, err)

	// The message is already committed when the pointer update runs, so a
	// pointer failure never takes the delivery down with it.
	assert.Equal(t, 1, fx.chats.messageCount())
	assert.Len(t, fx.broadcaster.byType(events.EventNewMessage), 1)
	assert.Equal(t, "hello", payload.Content)
}

func TestMarkAsReadResetsOnlyGivenRole(t *testing.T) {
	fx := newFixture(t)
	c := activeChat()
	fx.chats.addChat(c)

	// Both sides have unread messages.
	_, err := fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID: c.ID, Sender: chat.SenderUser, Content: "from user",
	})
	require.NoError(t, err)
	_, err = fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID: c.ID, Sender: chat.SenderDoctor, Content: "from doctor",
	})
	require.NoError(t, err)

	require.NoError(t, fx.svc.MarkAsRead(context.Background(), c.ID, chat.SenderDoctor))

	assert.Equal(t, 0, fx.unreads.count(c.ID, chat.SenderDoctor))
	assert.Equal(t, 1, fx.unreads.count(c.ID, chat.SenderUser))

	updates := fx.broadcaster.byType(events.EventUpdateUnread)
	last := updates[len(updates)-1].event.Payload.(UnreadPayload)
	assert.Equal(t, chat.SenderDoctor, last.Role)
	assert.Equal(t, 0, last.UnreadCount)
}

func TestMarkAsReadValidation(t *testing.T) {
	fx := newFixture(t)

	err := fx.svc.MarkAsRead(context.Background(), uuid.Nil, chat.SenderDoctor)
	assert.ErrorIs(t, err, telecare_errors.ErrInvalidArgument)
	err = fx.svc.MarkAsRead(context.Background(), uuid.New(), "nurse")
	assert.ErrorIs(t, err, telecare_errors.ErrInvalidArgument)
}

func TestPushTaskRecipient(t *testing.T) {
	fx := newFixture(t)
	c := activeChat()
	fx.chats.addChat(c)

	_, err := fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID: c.ID, Sender: chat.SenderUser, Content: "to the doctor",
	})
	require.NoError(t, err)
	_, err = fx.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID: c.ID, Sender: chat.SenderDoctor, Content: "to the patient",
	})
	require.NoError(t, err)

	require.Len(t, fx.push.tasks, 2)

	// Sender is the patient: the recipient doctor is resolved at delivery
	// time through the availability cache.
	assert.False(t, fx.push.tasks[0].RecipientUserID.Valid)
	// Sender is the doctor: the recipient patient travels with the task.
	require.True(t, fx.push.tasks[1].RecipientUserID.Valid)
	assert.Equal(t, c.UserID, fx.push.tasks[1].RecipientUserID.UUID)
}

func TestTypingExcludesSender(t *testing.T) {
	fx := newFixture(t)
	chatID := uuid.New()

	fx.svc.Typing(chatID, chat.SenderUser, "client-1")
	fx.svc.StopTyping(chatID, chat.SenderUser, "client-1")

	typing := fx.broadcaster.byType(events.EventTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, "client-1", typing[0].except)
	assert.Equal(t, events.ChatRoom(chatID), typing[0].room)

	stopped := fx.broadcaster.byType(events.EventStopTyping)
	require.Len(t, stopped, 1)
	assert.Equal(t, "client-1", stopped[0].except)
}

type fakeConsultationRepo struct {
	latest     consultation.Consultation
	hasLatest  bool
	created    []consultation.Consultation
	terminated []uuid.UUID
}

func (f *fakeConsultationRepo) Create(ctx context.Context, c *consultation.Consultation) error {
	f.created = append(f.created, *c)
	return nil
}

func (f *fakeConsultationRepo) GetByID(ctx context.Context, id uuid.UUID) (consultation.Consultation, error) {
	return consultation.Consultation{}, telecare_errors.ErrNotFound
}

func (f *fakeConsultationRepo) ExpireDue(ctx context.Context, now time.Time) ([]consultation.Consultation, error) {
	return nil, nil
}

func (f *fakeConsultationRepo) ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]consultation.Consultation, error) {
	return nil, nil
}

func (f *fakeConsultationRepo) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeConsultationRepo) Terminate(ctx context.Context, id uuid.UUID) error {
	f.terminated = append(f.terminated, id)
	return nil
}

func (f *fakeConsultationRepo) LatestByParticipants(ctx context.Context, patientID, doctorID uuid.UUID) (consultation.Consultation, error) {
	if !f.hasLatest {
		return consultation.Consultation{}, telecare_errors.ErrNotFound
	}
	return f.latest, nil
}

func TestPaymentStatusSnapshot(t *testing.T) {
	rec := &recorder{}
	chats := newFakeChatRepo(rec)
	c := activeChat()
	chats.addChat(c)

	paymentID := uuid.New()
	started := time.Now().Add(-10 * time.Minute)
	expires := time.Now().Add(20 * time.Minute)
	consultations := &fakeConsultationRepo{
		hasLatest: true,
		latest: consultation.Consultation{
			ID:        uuid.New(),
			PatientID: c.UserID,
			DoctorID:  c.DoctorID,
			PaymentID: uuid.NullUUID{UUID: paymentID, Valid: true},
			IsActive:  true,
			StartedAt: started,
			ExpiresAt: expires,
		},
	}

	availability := cache.NewAvailabilityCache(time.Minute, time.Minute)
	svc := NewChatService(chats, newFakeUnreadRepo(), consultations, availability, &fakeBroadcaster{}, nil, nil, logger.NewNop())

	status, err := svc.PaymentStatus(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, c.ID, status.ChatID)
	assert.Equal(t, paymentID.String(), status.PaymentID)
	assert.Equal(t, started, status.PaidAt)
	assert.Equal(t, expires, status.ExpiresAt)
	assert.True(t, status.IsActive)
}

func TestStartConsultation(t *testing.T) {
	consultations := &fakeConsultationRepo{}
	availability := cache.NewAvailabilityCache(time.Minute, time.Minute)
	svc := NewChatService(newFakeChatRepo(&recorder{}), newFakeUnreadRepo(), consultations, availability, &fakeBroadcaster{}, nil, nil, logger.NewNop())

	patientID, doctorID := uuid.New(), uuid.New()
	started, err := svc.StartConsultation(context.Background(), patientID, doctorID, uuid.NullUUID{}, 30*time.Minute)
	require.NoError(t, err)

	require.Len(t, consultations.created, 1)
	assert.Equal(t, patientID, started.PatientID)
	assert.Equal(t, doctorID, started.DoctorID)
	assert.True(t, started.IsActive)
	assert.Equal(t, started.StartedAt.Add(30*time.Minute), started.ExpiresAt)

	_, err = svc.StartConsultation(context.Background(), uuid.Nil, doctorID, uuid.NullUUID{}, 30*time.Minute)
	assert.ErrorIs(t, err, telecare_errors.ErrInvalidArgument)
	_, err = svc.StartConsultation(context.Background(), patientID, doctorID, uuid.NullUUID{}, 0)
	assert.ErrorIs(t, err, telecare_errors.ErrInvalidArgument)
}

func TestTerminateConsultationBroadcasts(t *testing.T) {
	consultations := &fakeConsultationRepo{}
	broadcaster := &fakeBroadcaster{}
	availability := cache.NewAvailabilityCache(time.Minute, time.Minute)
	svc := NewChatService(newFakeChatRepo(&recorder{}), newFakeUnreadRepo(), consultations, availability, broadcaster, nil, nil, logger.NewNop())

	id := uuid.New()
	require.NoError(t, svc.TerminateConsultation(context.Background(), id))
	assert.Equal(t, []uuid.UUID{id}, consultations.terminated)

	got := broadcaster.byType(events.EventConsultationStatus)
	require.Len(t, got, 1)
	assert.Equal(t, events.ConsultationRoom(id), got[0].room)
	payload := got[0].event.Payload.(events.ConsultationStatusPayload)
	assert.False(t, payload.IsActive)
	assert.False(t, payload.Expired)

	err := svc.TerminateConsultation(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, telecare_errors.ErrInvalidArgument)
}

func TestResolveChatRefreshesAvailability(t *testing.T) {
	fx := newFixture(t)
	c := activeChat()
	fx.chats.addChat(c)

	resolved, err := fx.svc.ResolveChat(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, resolved.ID)

	got, ok := fx.svc.availability.Get(c.ID)
	assert.True(t, ok)
	assert.Equal(t, c.DoctorID, got)
}
