package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberwire/relay/internal/v0/ratelimit"
	"github.com/emberwire/relay/internal/v0/registry"
	"github.com/emberwire/relay/internal/v0/room"
	"github.com/emberwire/relay/internal/v0/types"
)

type mockSession struct {
	mu         sync.Mutex
	writes     [][]byte
	closeCodes []types.CloseCode
}

func (m *mockSession) WriteText(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.writes = append(m.writes, cp)
	return nil
}

func (m *mockSession) Close(code types.CloseCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCodes = append(m.closeCodes, code)
}

func (m *mockSession) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

func newTestRegistry() *registry.Registry {
	return registry.New(ratelimit.JoinConfig{
		MaxUsers:    1000,
		PerNSeconds: time.Second,
		BanFor:      time.Minute,
	})
}

func openParticipant(t *testing.T, reg *registry.Registry, rm *room.Room, name string) (*Conn, *mockSession) {
	t.Helper()
	sess := &mockSession{}
	conn := New(reg, sess)
	err := conn.Open(OpenRequest{
		Code:       rm.Code(),
		Name:       types.ParticipantName(name),
		HasName:    true,
		RemoteAddr: "10.0.0.1",
	})
	require.NoError(t, err)
	return conn, sess
}

func openOwner(t *testing.T, reg *registry.Registry, rm *room.Room) (*Conn, *mockSession) {
	t.Helper()
	sess := &mockSession{}
	conn := New(reg, sess)
	err := conn.Open(OpenRequest{
		Code:       rm.Code(),
		Su:         rm.OwnerSecret(),
		HasSu:      true,
		RemoteAddr: "192.0.2.1",
	})
	require.NoError(t, err)
	return conn, sess
}

func assertRefusal(t *testing.T, err error, want types.CloseCode) {
	t.Helper()
	var refusal *types.RefusalError
	require.ErrorAs(t, err, &refusal)
	assert.Equal(t, want, refusal.Code)
}

func TestOpenUnknownRoom(t *testing.T) {
	reg := newTestRegistry()
	conn := New(reg, &mockSession{})

	err := conn.Open(OpenRequest{Code: "NOPE", Name: "alice", HasName: true})
	assertRefusal(t, err, types.CloseServerCodeDoesntExist)
	assert.Nil(t, conn.Participant())
}

func TestOpenRegisters(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")

	conn, sess := openParticipant(t, reg, rm, "alice")
	require.NotNil(t, conn.Participant())
	assert.Equal(t, types.ParticipantName("alice"), conn.Participant().Name())
	assert.Same(t, rm, conn.Room())
	assert.Len(t, sess.Writes(), 1) // the su envelope
}

func TestOpenReattaches(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")
	first, _ := openParticipant(t, reg, rm, "alice")
	secret := first.Participant().Secret()

	conn := New(reg, &mockSession{})
	err := conn.Open(OpenRequest{
		Code:    rm.Code(),
		Name:    "alice",
		HasName: true,
		Su:      secret,
		HasSu:   true,
	})
	require.NoError(t, err)
	assert.Same(t, first.Participant(), conn.Participant())
}

func TestOpenAttachesOwner(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")

	conn, _ := openOwner(t, reg, rm)
	assert.True(t, conn.Participant().Addr().IsOwner())
}

func TestOpenWithNeitherParameter(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")

	conn := New(reg, &mockSession{})
	err := conn.Open(OpenRequest{Code: rm.Code()})
	assertRefusal(t, err, types.CloseNamePropertyIsEmpty)
}

func TestOpenPresentButEmptyNameIsRegistration(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")

	conn := New(reg, &mockSession{})
	err := conn.Open(OpenRequest{Code: rm.Code(), Name: "", HasName: true})
	assertRefusal(t, err, types.CloseNamePropertyIsEmpty)
}

func TestOpenRefusalPropagates(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")
	rm.SetLocked(true)

	conn := New(reg, &mockSession{})
	err := conn.Open(OpenRequest{Code: rm.Code(), Name: "alice", HasName: true})
	assertRefusal(t, err, types.CloseServerIsLocked)
}

func TestHandleFrameKeepalive(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")
	conn, sess := openParticipant(t, reg, rm, "alice")

	before := len(sess.Writes())
	conn.HandleFrame("")
	conn.HandleFrame("k")
	assert.Len(t, sess.Writes(), before)
}

func TestHandleFrameBeforeOpenIsIgnored(t *testing.T) {
	reg := newTestRegistry()
	conn := New(reg, &mockSession{})

	// Must not panic without a bound room.
	conn.HandleFrame(`chat {"to":2,"content":"hi"}`)
}

func TestHandleFrameLock(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")
	owner, _ := openOwner(t, reg, rm)

	owner.HandleFrame("lock {}")
	assert.True(t, rm.Locked())

	owner.HandleFrame("unlock {}")
	assert.False(t, rm.Locked())
}

func TestHandleFrameLockRequiresOwner(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")

	// A participant literally named "1" is still not the owner.
	conn, _ := openParticipant(t, reg, rm, "1")
	conn.HandleFrame("lock {}")
	assert.False(t, rm.Locked())
}

func TestHandleFrameChatBroadcast(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")
	alice, _ := openParticipant(t, reg, rm, "alice")
	_, bobSess := openParticipant(t, reg, rm, "bob")

	alice.HandleFrame(`chat {"to":2,"content":{"text":"hi all"}}`)

	writes := bobSess.Writes()
	require.Len(t, writes, 2) // su, then the broadcast
	assert.Contains(t, string(writes[1]), `"msg"`)
	assert.Len(t, rm.PublicLog(), 1)
}

func TestHandleFrameChatToOwner(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")
	_, ownerSess := openOwner(t, reg, rm)
	alice, _ := openParticipant(t, reg, rm, "alice")

	alice.HandleFrame(`chat {"to":1,"content":"psst"}`)

	writes := ownerSess.Writes()
	require.Len(t, writes, 2) // userappend, then the msg
	assert.Contains(t, string(writes[1]), `"from":"alice"`)
}

func TestHandleFrameChats(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")
	alice, _ := openParticipant(t, reg, rm, "alice")
	_, bobSess := openParticipant(t, reg, rm, "bob")

	alice.HandleFrame(`chats [{"to":"bob","content":"one"},{"to":"bob","content":"two"}]`)
	assert.Len(t, bobSess.Writes(), 3) // su plus both messages
}

func TestHandleFrameRepeat(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")
	alice, sess := openParticipant(t, reg, rm, "alice")

	alice.HandleFrame("repeat 0")

	writes := sess.Writes()
	require.Len(t, writes, 2) // su, then the repeated envelope

	var rep struct {
		Type   string            `json:"type"`
		Start  int               `json:"start"`
		Repeat []json.RawMessage `json:"repeat"`
	}
	require.NoError(t, json.Unmarshal(writes[1], &rep))
	assert.Equal(t, "repeated", rep.Type)
	assert.Equal(t, 0, rep.Start)
	assert.Len(t, rep.Repeat, 1)
}

func TestHandleFrameRepeatRejectsBadPayloads(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")
	alice, sess := openParticipant(t, reg, rm, "alice")

	before := len(sess.Writes())
	alice.HandleFrame("repeat -1")
	alice.HandleFrame(`repeat {"n":0}`)
	alice.HandleFrame(`repeat "3"`)
	alice.HandleFrame("repeat notjson")
	assert.Len(t, sess.Writes(), before)
}

func TestHandleFrameMalformedPayloadDropped(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")
	alice, _ := openParticipant(t, reg, rm, "alice")
	_, bobSess := openParticipant(t, reg, rm, "bob")

	before := len(bobSess.Writes())
	alice.HandleFrame(`chat {"to":`)
	alice.HandleFrame(`chat "just a string"`)
	alice.HandleFrame(`unknown {"to":2}`)
	assert.Len(t, bobSess.Writes(), before)
}

func TestHandleCloseAbnormalNotifiesOwner(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")
	_, ownerSess := openOwner(t, reg, rm)
	alice, _ := openParticipant(t, reg, rm, "alice")

	alice.HandleClose(1006)

	writes := ownerSess.Writes()
	require.Len(t, writes, 2) // userappend, then userleft
	assert.Contains(t, string(writes[1]), `"userleft"`)
}

func TestHandleCloseCleanOrApplicationCauseIsSilent(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")
	_, ownerSess := openOwner(t, reg, rm)
	alice, _ := openParticipant(t, reg, rm, "alice")

	before := len(ownerSess.Writes())
	alice.HandleClose(types.CloseNormal)
	alice.HandleClose(int(types.CloseOverridden))
	alice.HandleClose(int(types.CloseServerClosing))
	assert.Len(t, ownerSess.Writes(), before)
}

func TestHandleCloseBeforeOpenIsIgnored(t *testing.T) {
	reg := newTestRegistry()
	conn := New(reg, &mockSession{})
	conn.HandleClose(1006)
}

func TestHandleCloseOwnerNeverProducesUserleft(t *testing.T) {
	reg := newTestRegistry()
	rm := reg.Allocate(-1, "", "192.0.2.1")
	owner, ownerSess := openOwner(t, reg, rm)

	owner.HandleClose(1006)
	assert.Empty(t, ownerSess.Writes())
	assert.Empty(t, rm.Owner().History())
}
