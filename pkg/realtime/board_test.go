package realtime

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

var wsNowUTC = "2026-03-02T10:00:00Z"

type boardFixture struct {
	hub      *Hub
	presence *fakePresence
	clock    *clock.Fake
	board    *BoardConsumer
}

func newBoardFixture() *boardFixture {
	clk := clock.NewFake(wsNow)
	presence := newFakePresence()
	return &boardFixture{
		hub:      NewHub(),
		presence: presence,
		clock:    clk,
		board:    NewBoardConsumer(NewPresence(presence, clk), fakeTasks{10: true, 11: true}, clk, nil),
	}
}

func (f *boardFixture) connect(t *testing.T, id int64, first string) *Session {
	t.Helper()
	s := newTestSession(f.hub, testPrincipal(id, first, "Smith"), nil)
	require.NoError(t, f.board.Connect(context.Background(), s))
	return s
}

func TestBoardConnectAnnouncesAndListsViewers(t *testing.T) {
	f := newBoardFixture()
	ada := f.connect(t, 1, "Ada")

	joined := nextFrame(t, ada)
	assert.Equal(t, "user_joined", joined["type"])
	assert.Equal(t, "Ada Smith", joined["user_name"])
	assert.Equal(t, wsNowUTC, joined["timestamp"])

	viewers := nextFrame(t, ada)
	assert.Equal(t, "current_viewers", viewers["type"])
	assert.Len(t, viewers["viewers"], 1)

	bob := f.connect(t, 2, "Bob")
	assert.Equal(t, "user_joined", nextFrame(t, ada)["type"])
	nextFrame(t, bob)
	list := nextFrame(t, bob)["viewers"].([]interface{})
	assert.Len(t, list, 2)
}

func TestBoardViewersIgnoreStalePresence(t *testing.T) {
	f := newBoardFixture()
	require.NoError(t, f.presence.Upsert(context.Background(), &models.BoardPresence{
		UserID: 9, DisplayName: "Gone", LastSeen: wsNow.Add(-6 * time.Minute), Channel: models.BoardGroup,
	}))
	require.NoError(t, f.presence.Upsert(context.Background(), &models.BoardPresence{
		UserID: 8, DisplayName: "Elsewhere", LastSeen: wsNow, Channel: "other",
	}))

	ada := f.connect(t, 1, "Ada")
	nextFrame(t, ada)
	list := nextFrame(t, ada)["viewers"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, float64(1), list[0].(map[string]interface{})["user_id"])
}

func TestBoardHeartbeatEditingTransitions(t *testing.T) {
	f := newBoardFixture()
	ada := f.connect(t, 1, "Ada")
	nextFrame(t, ada)
	nextFrame(t, ada)
	ctx := context.Background()

	require.NoError(t, f.board.Receive(ctx, ada, msgOf(t, map[string]interface{}{"type": "heartbeat", "editing_task_id": 10})))
	editing := nextFrame(t, ada)
	assert.Equal(t, "user_editing", editing["type"])
	assert.Equal(t, float64(10), editing["task_id"])

	// same task again is a plain presence refresh
	f.clock.Advance(time.Second)
	require.NoError(t, f.board.Receive(ctx, ada, msgOf(t, map[string]interface{}{"type": "heartbeat", "editing_task_id": 10})))
	assertNoFrame(t, ada)
	assert.Equal(t, wsNow.Add(time.Second), f.presence.rows[presenceKey{1, models.BoardGroup}].LastSeen)

	require.NoError(t, f.board.Receive(ctx, ada, msgOf(t, map[string]interface{}{"type": "stop_editing"})))
	stopped := nextFrame(t, ada)
	assert.Equal(t, "user_stopped_editing", stopped["type"])
	assert.Equal(t, float64(10), stopped["task_id"])
	assert.Nil(t, f.presence.rows[presenceKey{1, models.BoardGroup}].EditingTaskID)

	require.NoError(t, f.board.Receive(ctx, ada, msgOf(t, map[string]interface{}{"type": "heartbeat"})))
	assertNoFrame(t, ada)
}

func TestBoardRejectsBadInput(t *testing.T) {
	f := newBoardFixture()
	ada := f.connect(t, 1, "Ada")
	nextFrame(t, ada)
	nextFrame(t, ada)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  map[string]interface{}
		kind apperrors.Kind
	}{
		{"string task id", map[string]interface{}{"type": "task_updated", "task_id": "10"}, apperrors.KindValidation},
		{"missing task id", map[string]interface{}{"type": "task_updated"}, apperrors.KindValidation},
		{"unknown task", map[string]interface{}{"type": "task_updated", "task_id": 99}, apperrors.KindNotFound},
		{"unknown editing task", map[string]interface{}{"type": "heartbeat", "editing_task_id": 99}, apperrors.KindNotFound},
		{"move of unknown task", map[string]interface{}{"type": "task_moved", "task_id": 99, "to_status": "done"}, apperrors.KindNotFound},
		{"create without data", map[string]interface{}{"type": "task_created"}, apperrors.KindValidation},
		{"unknown type", map[string]interface{}{"type": "explode"}, apperrors.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.board.Receive(ctx, ada, msgOf(t, tt.msg))
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
			assertNoFrame(t, ada)
		})
	}
}

func TestBoardTaskMovedTruncatesStatuses(t *testing.T) {
	f := newBoardFixture()
	ada := f.connect(t, 1, "Ada")
	nextFrame(t, ada)
	nextFrame(t, ada)

	long := strings.Repeat("s", 80)
	require.NoError(t, f.board.Receive(context.Background(), ada, msgOf(t, map[string]interface{}{
		"type": "task_moved", "task_id": 11, "from_status": "todo", "to_status": long,
	})))
	moved := nextFrame(t, ada)
	assert.Equal(t, "task_moved", moved["type"])
	assert.Equal(t, "todo", moved["from_status"])
	assert.Len(t, moved["to_status"], 50)
}

func TestBoardTaskBroadcastsReachOtherSessions(t *testing.T) {
	f := newBoardFixture()
	ada := f.connect(t, 1, "Ada")
	bob := f.connect(t, 2, "Bob")
	for len(ada.client.send) > 0 {
		<-ada.client.send
	}
	for len(bob.client.send) > 0 {
		<-bob.client.send
	}
	ctx := context.Background()

	require.NoError(t, f.board.Receive(ctx, ada, msgOf(t, map[string]interface{}{
		"type": "task_updated", "task_id": 10, "task_data": map[string]interface{}{"title": "Fix pump"},
	})))
	got := nextFrame(t, bob)
	assert.Equal(t, "task_updated", got["type"])
	assert.Equal(t, map[string]interface{}{"title": "Fix pump"}, got["task_data"])
	assert.Equal(t, "task_updated", nextFrame(t, ada)["type"])

	require.NoError(t, f.board.Receive(ctx, ada, msgOf(t, map[string]interface{}{"type": "task_deleted", "task_id": 404})))
	assert.Equal(t, float64(404), nextFrame(t, bob)["task_id"])

	require.NoError(t, f.board.Receive(ctx, ada, msgOf(t, map[string]interface{}{
		"type": "task_created", "task_data": map[string]interface{}{"id": 12},
	})))
	assert.Equal(t, "task_created", nextFrame(t, bob)["type"])
}

func TestBoardDisconnectRemovesPresence(t *testing.T) {
	f := newBoardFixture()
	ada := f.connect(t, 1, "Ada")
	bob := f.connect(t, 2, "Bob")
	for len(bob.client.send) > 0 {
		<-bob.client.send
	}

	f.board.Disconnect(context.Background(), ada)
	ada.leaveAll()

	left := nextFrame(t, bob)
	assert.Equal(t, "user_left", left["type"])
	assert.Equal(t, "Ada Smith", left["user_name"])
	assert.Contains(t, f.presence.removed, presenceKey{1, models.BoardGroup})
}

func TestBoardSecondTabKeepsPresence(t *testing.T) {
	f := newBoardFixture()
	tab1 := f.connect(t, 1, "Ada")
	tab2 := f.connect(t, 1, "Ada")
	bob := f.connect(t, 2, "Bob")
	for _, s := range []*Session{tab1, tab2, bob} {
		for len(s.client.send) > 0 {
			<-s.client.send
		}
	}

	f.board.Disconnect(context.Background(), tab1)
	tab1.leaveAll()
	assertNoFrame(t, bob)
	assert.Empty(t, f.presence.removed)
	require.Contains(t, f.presence.rows, presenceKey{1, models.BoardGroup})

	viewers, err := f.board.presence.Viewers(context.Background(), models.BoardGroup)
	require.NoError(t, err)
	assert.Len(t, viewers, 2)

	f.board.Disconnect(context.Background(), tab2)
	tab2.leaveAll()
	assert.Equal(t, "user_left", nextFrame(t, bob)["type"])
	assert.Contains(t, f.presence.removed, presenceKey{1, models.BoardGroup})
}
