package state

import (
	"testing"
	"time"

	"github.com/rickgao/tripsync/internal/event"
	"github.com/rickgao/tripsync/internal/model"
)

func TestMembership_RemovedTwiceShrinksOnce(t *testing.T) {
	s, r, _ := newTestStores()
	r.Dispatch(ev("a1", event.MemberAdded, 1, "", &event.MemberAddedPayload{UserID: "u1", Role: model.RoleEditor}))
	r.Dispatch(ev("a2", event.MemberAdded, 2, "", &event.MemberAddedPayload{UserID: "u2", Role: model.RoleViewer}))

	removed := ev("r1", event.MemberRemoved, 3, "", &event.MemberRemovedPayload{UserID: "u1"})
	r.Dispatch(removed)
	r.Dispatch(removed)

	members := s.Members.Members("trip-1")
	if len(members) != 1 || members[0].UserID != "u2" {
		t.Errorf("members = %+v, want only u2", members)
	}
}

func TestMembership_AddedTwiceIsIdempotent(t *testing.T) {
	s, r, _ := newTestStores()
	added := ev("a1", event.MemberAdded, 1, "", &event.MemberAddedPayload{UserID: "u1", Role: model.RoleEditor})
	r.Dispatch(added)
	r.Dispatch(added)

	if n := len(s.Members.Members("trip-1")); n != 1 {
		t.Errorf("len(members) = %d, want 1", n)
	}
}

func TestMembership_TombstoneBlocksLateAdd(t *testing.T) {
	s, r, _ := newTestStores()

	// Removal arrives before the add it supersedes.
	r.Dispatch(ev("r1", event.MemberRemoved, 5, "", &event.MemberRemovedPayload{UserID: "u1"}))
	r.Dispatch(ev("a1", event.MemberAdded, 4, "", &event.MemberAddedPayload{UserID: "u1", Role: model.RoleEditor}))

	if _, ok := s.Members.Member("trip-1", "u1"); ok {
		t.Error("late member_added resurrected a removed member")
	}

	// A genuinely newer re-add is accepted.
	r.Dispatch(ev("a2", event.MemberAdded, 6, "", &event.MemberAddedPayload{UserID: "u1", Role: model.RoleViewer}))
	m, ok := s.Members.Member("trip-1", "u1")
	if !ok || m.Role != model.RoleViewer {
		t.Errorf("re-added member = %+v, %v; want viewer", m, ok)
	}
}

func TestMembership_UpdateTouchesPresentFields(t *testing.T) {
	s, r, _ := newTestStores()
	r.Dispatch(ev("a1", event.MemberAdded, 1, "", &event.MemberAddedPayload{UserID: "u1", Role: model.RoleEditor, DisplayName: "Ana"}))
	r.Dispatch(ev("u1", event.MemberUpdated, 2, "", &event.MemberUpdatedPayload{UserID: "u1", Role: strPtr(model.RoleOwner)}))
	r.Dispatch(ev("u2", event.MemberUpdated, 1, "", &event.MemberUpdatedPayload{UserID: "u1", DisplayName: strPtr("Stale")}))

	m, _ := s.Members.Member("trip-1", "u1")
	if m.Role != model.RoleOwner || m.DisplayName != "Ana" {
		t.Errorf("member = %+v, want owner named Ana", m)
	}
}

func TestMembership_UpdateForUnknownIsNoop(t *testing.T) {
	s, r, _ := newTestStores()
	r.Dispatch(ev("u1", event.MemberUpdated, 2, "", &event.MemberUpdatedPayload{UserID: "ghost", Role: strPtr(model.RoleOwner)}))
	if len(s.Members.Members("trip-1")) != 0 {
		t.Error("update created a member")
	}
}

func TestMembership_Replace(t *testing.T) {
	s, r, _ := newTestStores()
	r.Dispatch(ev("a1", event.MemberAdded, 1, "", &event.MemberAddedPayload{UserID: "u1", Role: model.RoleEditor}))
	r.Dispatch(ev("a2", event.MemberAdded, 9, "", &event.MemberAddedPayload{UserID: "late", Role: model.RoleViewer}))

	asOf := t0.Add(5 * time.Second)
	s.Members.Replace("trip-1", []model.Member{
		{UserID: "u3", Role: model.RoleOwner, Rev: model.Revision{Version: 3, UpdatedAt: t0}},
	}, asOf)

	var ids []string
	for _, m := range s.Members.Members("trip-1") {
		ids = append(ids, m.UserID)
	}
	// u1 predates the snapshot and is gone; "late" changed after it and stays.
	if len(ids) != 2 || ids[0] != "late" || ids[1] != "u3" {
		t.Errorf("members = %v, want [late u3]", ids)
	}
}

func TestMembership_TripDeletedClears(t *testing.T) {
	s, r, _ := newTestStores()
	r.Dispatch(ev("a1", event.MemberAdded, 1, "", &event.MemberAddedPayload{UserID: "u1", Role: model.RoleEditor}))
	r.Dispatch(ev("d1", event.TripDeleted, 2, "", &event.TripDeletedPayload{}))

	if n := len(s.Members.Members("trip-1")); n != 0 {
		t.Errorf("len(members) = %d after trip deletion, want 0", n)
	}
}
