package overlay_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HynixCorp/reach-backend-sub000/pkg/overlay"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// pushRecorder captures frames pushed to one simulated connection.
type pushRecorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *pushRecorder) push(msg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, msg)
}

func (r *pushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// captureBridge hands received snapshots to the test over a channel, since the
// hub writes them on a detached goroutine.
type captureBridge struct {
	ch chan overlay.Snapshot
}

func newCaptureBridge() *captureBridge {
	return &captureBridge{ch: make(chan overlay.Snapshot, 64)}
}

func (b *captureBridge) WriteSnapshot(_ context.Context, snap overlay.Snapshot) error {
	select {
	case b.ch <- snap:
	default:
	}
	return nil
}

func (b *captureBridge) wait(t *testing.T) overlay.Snapshot {
	t.Helper()
	select {
	case snap := <-b.ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot write")
		return overlay.Snapshot{}
	}
}

func newTestHub() (*overlay.Hub, *captureBridge) {
	bridge := newCaptureBridge()
	return overlay.NewHub(newTestLogger(), bridge), bridge
}

func connect(h *overlay.Hub, identity string) (uuid.UUID, *pushRecorder) {
	handle := uuid.New()
	rec := &pushRecorder{}
	h.Connect(handle, identity, rec.push)
	return handle, rec
}

// --- presence record lifecycle ---

func TestPresenceRecordExistsIffConnected(t *testing.T) {
	h, _ := newTestHub()

	c1, _ := connect(h, "u1")
	c2, _ := connect(h, "u1")

	if _, ok := h.GetPresence("u1"); !ok {
		t.Fatal("expected presence record after connect")
	}
	if got := len(h.ConnectionsFor("u1")); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	h.Disconnect(c1)
	if _, ok := h.GetPresence("u1"); !ok {
		t.Fatal("presence record removed while a connection is still open")
	}

	h.Disconnect(c2)
	if _, ok := h.GetPresence("u1"); ok {
		t.Fatal("presence record still present after last disconnect")
	}
	if got := len(h.ConnectionsFor("u1")); got != 0 {
		t.Fatalf("expected 0 connections after full disconnect, got %d", got)
	}
}

func TestConnectIdempotent(t *testing.T) {
	h, _ := newTestHub()

	handle := uuid.New()
	rec := &pushRecorder{}
	h.Connect(handle, "u1", rec.push)
	h.Connect(handle, "u1", rec.push)

	if got := len(h.ConnectionsFor("u1")); got != 1 {
		t.Fatalf("expected 1 connection after duplicate connect, got %d", got)
	}
	if got := len(h.GetAllPresences()); got != 1 {
		t.Fatalf("expected 1 presence record, got %d", got)
	}
}

func TestDisconnectUnknownHandle(t *testing.T) {
	h, _ := newTestHub()
	h.Disconnect(uuid.New()) // must not panic or produce state
	if got := len(h.GetAllPresences()); got != 0 {
		t.Fatalf("expected no presence records, got %d", got)
	}
}

func TestSnapshotWrittenOnFullDisconnect(t *testing.T) {
	h, bridge := newTestHub()

	c1, _ := connect(h, "u1")
	if err := h.UpdatePresence("u1", overlay.StatusPlaying, "boss fight", nil); err != nil {
		t.Fatalf("UpdatePresence failed: %v", err)
	}
	if err := h.JoinExperience("u1", "exp-1"); err != nil {
		t.Fatalf("JoinExperience failed: %v", err)
	}

	h.Disconnect(c1)
	snap := bridge.wait(t)

	if snap.Identity != "u1" {
		t.Errorf("snapshot identity = %q, want u1", snap.Identity)
	}
	if snap.LastStatus != overlay.StatusPlaying {
		t.Errorf("snapshot status = %q, want playing", snap.LastStatus)
	}
	if snap.LastDetail != "boss fight" {
		t.Errorf("snapshot detail = %q", snap.LastDetail)
	}
	if snap.LastExperienceID != "exp-1" {
		t.Errorf("snapshot experience = %q, want exp-1", snap.LastExperienceID)
	}
	if snap.TotalOnlineSeconds < 0 {
		t.Errorf("negative online duration %d", snap.TotalOnlineSeconds)
	}

	// implicit leave on teardown
	if members := h.GetExperienceMembers("exp-1"); len(members) != 0 {
		t.Errorf("expected exp-1 to be empty after disconnect, got %v", members)
	}
	if _, ok := h.GetAllExperiences()["exp-1"]; ok {
		t.Error("expected empty experience index entry to be dropped")
	}
}

// --- presence updates ---

func TestUpdatePresenceNotConnected(t *testing.T) {
	h, _ := newTestHub()
	err := h.UpdatePresence("ghost", overlay.StatusOnline, "", nil)
	if err != overlay.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestUpdatePresenceInvalidStatus(t *testing.T) {
	h, _ := newTestHub()
	connect(h, "u1")
	err := h.UpdatePresence("u1", overlay.Status("away"), "", nil)
	if err != overlay.ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestUpdatePresenceExperienceSideEffect(t *testing.T) {
	h, _ := newTestHub()
	connect(h, "u1")

	exp := "exp-1"
	if err := h.UpdatePresence("u1", overlay.StatusPlaying, "", &exp); err != nil {
		t.Fatalf("UpdatePresence failed: %v", err)
	}
	if got, _ := h.ExperienceOf("u1"); got != "exp-1" {
		t.Fatalf("expected u1 in exp-1, got %q", got)
	}

	// nil experience pointer leaves membership untouched
	if err := h.UpdatePresence("u1", overlay.StatusIdle, "", nil); err != nil {
		t.Fatalf("UpdatePresence failed: %v", err)
	}
	if got, _ := h.ExperienceOf("u1"); got != "exp-1" {
		t.Fatalf("membership changed by status-only update, got %q", got)
	}

	// explicit empty string leaves the experience
	empty := ""
	if err := h.UpdatePresence("u1", overlay.StatusOnline, "", &empty); err != nil {
		t.Fatalf("UpdatePresence failed: %v", err)
	}
	if _, ok := h.ExperienceOf("u1"); ok {
		t.Fatal("expected u1 to have left its experience")
	}
}

// --- experience membership ---

func TestJoinRequiresConnection(t *testing.T) {
	h, _ := newTestHub()
	if err := h.JoinExperience("ghost", "exp-1"); err != overlay.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestJoinSwitchesExperienceAtomically(t *testing.T) {
	h, _ := newTestHub()
	connect(h, "u1")

	if err := h.JoinExperience("u1", "exp-a"); err != nil {
		t.Fatalf("join exp-a failed: %v", err)
	}
	if err := h.JoinExperience("u1", "exp-b"); err != nil {
		t.Fatalf("join exp-b failed: %v", err)
	}

	if members := h.GetExperienceMembers("exp-a"); len(members) != 0 {
		t.Errorf("u1 still a member of exp-a: %v", members)
	}
	members := h.GetExperienceMembers("exp-b")
	if len(members) != 1 || members[0] != "u1" {
		t.Errorf("expected exp-b members [u1], got %v", members)
	}
	if got, _ := h.ExperienceOf("u1"); got != "exp-b" {
		t.Errorf("ExperienceOf = %q, want exp-b", got)
	}

	all := h.GetAllExperiences()
	if _, ok := all["exp-a"]; ok {
		t.Error("empty exp-a entry not dropped from index")
	}
	if all["exp-b"] != 1 {
		t.Errorf("exp-b count = %d, want 1", all["exp-b"])
	}
}

func TestJoinSameExperienceTwice(t *testing.T) {
	h, _ := newTestHub()
	connect(h, "u1")

	if err := h.JoinExperience("u1", "exp-a"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := h.JoinExperience("u1", "exp-a"); err != nil {
		t.Fatalf("repeat join failed: %v", err)
	}
	if members := h.GetExperienceMembers("exp-a"); len(members) != 1 {
		t.Fatalf("expected 1 member, got %v", members)
	}
}

func TestLeaveWithoutMembershipIsNoop(t *testing.T) {
	h, _ := newTestHub()
	connect(h, "u1")
	h.LeaveExperience("u1") // not an error
	if _, ok := h.ExperienceOf("u1"); ok {
		t.Fatal("expected no experience")
	}
}

// --- targeting and delivery ---

func TestSendToUserFansOutToAllConnections(t *testing.T) {
	h, _ := newTestHub()
	_, r1 := connect(h, "u1")
	c2, r2 := connect(h, "u1")

	receipt, err := h.Send(overlay.Target{Type: overlay.TargetUser, ID: "u1"}, overlay.ToastEnvelope("hi", ""))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !receipt.Delivered || receipt.Recipients != 1 {
		t.Fatalf("receipt = %+v, want delivered with 1 recipient", receipt)
	}
	if r1.count() != 1 || r2.count() != 1 {
		t.Fatalf("expected both connections pushed to, got %d and %d", r1.count(), r2.count())
	}

	// after dropping one handle the identity is still reachable
	h.Disconnect(c2)
	receipt, err = h.Send(overlay.Target{Type: overlay.TargetUser, ID: "u1"}, overlay.ToastEnvelope("again", ""))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !receipt.Delivered || receipt.Recipients != 1 {
		t.Fatalf("receipt = %+v after partial disconnect", receipt)
	}
	if r1.count() != 2 {
		t.Fatalf("surviving connection push count = %d, want 2", r1.count())
	}
	if r2.count() != 1 {
		t.Fatalf("unregistered connection received a push")
	}
}

func TestSendToOfflineUserIsNotAnError(t *testing.T) {
	h, _ := newTestHub()
	receipt, err := h.Send(overlay.Target{Type: overlay.TargetUser, ID: "nobody"}, overlay.ToastEnvelope("hi", ""))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if receipt.Delivered || receipt.Recipients != 0 {
		t.Fatalf("receipt = %+v, want undelivered with 0 recipients", receipt)
	}
}

func TestSendToExperience(t *testing.T) {
	h, _ := newTestHub()
	connect(h, "u1")
	connect(h, "u2")
	if err := h.JoinExperience("u1", "e1"); err != nil {
		t.Fatal(err)
	}
	if err := h.JoinExperience("u2", "e1"); err != nil {
		t.Fatal(err)
	}

	receipt, err := h.Send(overlay.Target{Type: overlay.TargetExperience, ID: "e1"}, overlay.CommandEnvelope("reload", nil))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if receipt.Recipients != 2 {
		t.Fatalf("recipients = %d, want 2", receipt.Recipients)
	}

	// u1 moves on; a repeat send reaches only u2
	if err := h.JoinExperience("u1", "e2"); err != nil {
		t.Fatal(err)
	}
	receipt, err = h.Send(overlay.Target{Type: overlay.TargetExperience, ID: "e1"}, overlay.CommandEnvelope("reload", nil))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if receipt.Recipients != 1 {
		t.Fatalf("recipients after switch = %d, want 1", receipt.Recipients)
	}
}

func TestSendGlobalCountsIdentitiesNotConnections(t *testing.T) {
	h, _ := newTestHub()
	_, r1 := connect(h, "u1")
	_, r2 := connect(h, "u1")
	_, r3 := connect(h, "u2")

	receipt, err := h.Send(overlay.Target{Type: overlay.TargetGlobal}, overlay.ToastEnvelope("maintenance", "5 min"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if receipt.Recipients != 2 {
		t.Fatalf("recipients = %d, want 2 identities", receipt.Recipients)
	}
	if total := r1.count() + r2.count() + r3.count(); total != 3 {
		t.Fatalf("total pushes = %d, want 3 connections", total)
	}
}

func TestSendTargetValidation(t *testing.T) {
	h, _ := newTestHub()

	if _, err := h.Send(overlay.Target{Type: overlay.TargetUser}, overlay.ToastEnvelope("x", "")); err != overlay.ErrMissingTargetID {
		t.Errorf("user target without id: got %v, want ErrMissingTargetID", err)
	}
	if _, err := h.Send(overlay.Target{Type: overlay.TargetExperience}, overlay.ToastEnvelope("x", "")); err != overlay.ErrMissingTargetID {
		t.Errorf("experience target without id: got %v, want ErrMissingTargetID", err)
	}
	if _, err := h.Send(overlay.Target{Type: "broadcast"}, overlay.ToastEnvelope("x", "")); err != overlay.ErrUnknownTargetType {
		t.Errorf("unknown target type: got %v, want ErrUnknownTargetType", err)
	}
}

func TestStats(t *testing.T) {
	h, _ := newTestHub()
	connect(h, "u1")
	connect(h, "u1")
	connect(h, "u2")
	if err := h.JoinExperience("u2", "e1"); err != nil {
		t.Fatal(err)
	}

	stats := h.Stats()
	if stats.ConnectedIdentities != 2 {
		t.Errorf("ConnectedIdentities = %d, want 2", stats.ConnectedIdentities)
	}
	if stats.OpenConnections != 3 {
		t.Errorf("OpenConnections = %d, want 3", stats.OpenConnections)
	}
	if stats.Experiences["e1"] != 1 {
		t.Errorf("Experiences[e1] = %d, want 1", stats.Experiences["e1"])
	}
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	h, _ := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, _ := connect(h, "u1")
			h.Send(overlay.Target{Type: overlay.TargetUser, ID: "u1"}, overlay.ToastEnvelope("ping", ""))
			h.Disconnect(handle)
		}()
	}
	wg.Wait()

	if got := len(h.ConnectionsFor("u1")); got != 0 {
		t.Fatalf("expected 0 connections after churn, got %d", got)
	}
	if _, ok := h.GetPresence("u1"); ok {
		t.Fatal("presence record left behind after churn")
	}
}
