package members_test

import (
	"context"
	"errors"
	"testing"

	"linesync/internal/backend"
	"linesync/internal/members"
	"linesync/internal/queue"
	"linesync/internal/services"
	"linesync/internal/testsupport"
)

func TestRoleAndPermissions(t *testing.T) {
	fake := testsupport.NewFakeBackend(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(fake.URL))
	store := testsupport.MustOpenStore(t, cfg)
	fake.SeedRow(cfg.Backend.MembersTable, map[string]any{"line_id": "line-1", "user_id": "boss", "role": backend.RoleOwner})
	fake.SeedRow(cfg.Backend.MembersTable, map[string]any{"line_id": "line-1", "user_id": "lead", "role": backend.RoleLineLead})

	dir := members.New(cfg, store, backend.New(cfg))
	ctx := context.Background()

	role, err := dir.Role(ctx, "line-1", "lead")
	if err != nil || role != backend.RoleLineLead {
		t.Fatalf("unexpected role %q %v", role, err)
	}
	if err := dir.Require(ctx, "line-1", "boss", "delete records", members.CanDeleteRecords); err != nil {
		t.Fatalf("owner should delete records: %v", err)
	}
	err = dir.Require(ctx, "line-1", "lead", "delete records", members.CanDeleteRecords)
	if !errors.Is(err, members.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if err := dir.Require(ctx, "line-1", "lead", "delete finance", members.CanDeleteFinance); err != nil {
		t.Fatalf("line lead should delete finance: %v", err)
	}
	if err := dir.Require(ctx, "line-1", "stranger", "delete finance", members.CanDeleteFinance); !errors.Is(err, members.ErrPermissionDenied) {
		t.Fatalf("expected stranger denied, got %v", err)
	}
}

func TestOfflineUsesCachedMembers(t *testing.T) {
	fake := testsupport.NewFakeBackend(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(fake.URL))
	store := testsupport.MustOpenStore(t, cfg)
	fake.SeedRow(cfg.Backend.MembersTable, map[string]any{"line_id": "line-1", "user_id": "boss", "role": backend.RoleOwner})

	online := true
	dir := members.New(cfg, store, backend.New(cfg), members.WithOnline(func() bool { return online }))
	ctx := context.Background()
	if err := dir.RefreshLine(ctx, "line-1"); err != nil {
		t.Fatalf("RefreshLine failed: %v", err)
	}

	online = false
	res, err := dir.List(ctx, "line-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if res.Source != queue.SourceSnapshot || len(res.Value) != 1 {
		t.Fatalf("expected cached members, got %+v", res)
	}
	if n := fake.Count(testsupport.OpSelect); n != 1 {
		t.Fatalf("offline list must not hit the backend, got %d selects", n)
	}

	if _, err := dir.Role(ctx, "line-2", "boss"); err == nil {
		t.Fatal("expected error for an uncached line while offline")
	}
}

func TestAddAndRemoveMembers(t *testing.T) {
	fake := testsupport.NewFakeBackend(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(fake.URL))
	store := testsupport.MustOpenStore(t, cfg)
	fake.SeedRow(cfg.Backend.MembersTable, map[string]any{"line_id": "line-1", "user_id": "boss", "role": backend.RoleOwner})
	fake.SeedRow(cfg.Backend.UsersTable, map[string]any{"id": "u-7", "username": "wang"})

	dir := members.New(cfg, store, backend.New(cfg))
	ctx := context.Background()

	queued, err := dir.Add(ctx, "boss", members.NewMember{LineID: "line-1", Username: "wang", Role: backend.RoleShiftLead})
	if err != nil || queued {
		t.Fatalf("expected online add, got queued=%v err=%v", queued, err)
	}
	if role, _ := dir.Role(ctx, "line-1", "u-7"); role != backend.RoleShiftLead {
		t.Fatalf("expected new member role, got %q", role)
	}

	_, err = dir.Add(ctx, "boss", members.NewMember{LineID: "line-1", Username: "wang", Role: backend.RoleShiftLead})
	if !errors.Is(err, services.ErrRejected) {
		t.Fatalf("expected duplicate add rejected, got %v", err)
	}
	_, err = dir.Add(ctx, "boss", members.NewMember{LineID: "line-1", Username: "ghost", Role: backend.RoleShiftLead})
	if !errors.Is(err, members.ErrUnknownUser) {
		t.Fatalf("expected unknown user, got %v", err)
	}
	_, err = dir.Add(ctx, "boss", members.NewMember{LineID: "line-1", UserID: "u-8", Role: "boss"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected invalid role rejected, got %v", err)
	}
	_, err = dir.Add(ctx, "u-7", members.NewMember{LineID: "line-1", UserID: "u-8", Role: backend.RoleShiftLead})
	if !errors.Is(err, members.ErrPermissionDenied) {
		t.Fatalf("expected shift lead denied, got %v", err)
	}
	if pending, _ := store.Mutations(ctx); len(pending) != 0 {
		t.Fatalf("rejected adds must not be queued, got %d", len(pending))
	}

	if _, err := dir.Remove(ctx, "boss", "line-1", "boss"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected self removal refused, got %v", err)
	}
	queued, err = dir.Remove(ctx, "boss", "line-1", "u-7")
	if err != nil || queued {
		t.Fatalf("expected online removal, got queued=%v err=%v", queued, err)
	}
	rows := fake.Rows(cfg.Backend.MembersTable)
	if len(rows) != 1 || rows[0]["user_id"] != "boss" {
		t.Fatalf("unexpected member rows: %#v", rows)
	}
}

func TestMemberChangesQueueWhenOffline(t *testing.T) {
	fake := testsupport.NewFakeBackend(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(fake.URL))
	store := testsupport.MustOpenStore(t, cfg)
	fake.SeedRow(cfg.Backend.MembersTable, map[string]any{"line_id": "line-1", "user_id": "boss", "role": backend.RoleOwner})

	online := true
	dir := members.New(cfg, store, backend.New(cfg), members.WithOnline(func() bool { return online }))
	ctx := context.Background()
	if err := dir.RefreshLine(ctx, "line-1"); err != nil {
		t.Fatalf("RefreshLine failed: %v", err)
	}
	online = false

	queued, err := dir.Add(ctx, "boss", members.NewMember{LineID: "line-1", Username: "wang", Role: backend.RoleLineLead})
	if err != nil || !queued {
		t.Fatalf("expected queued add, got queued=%v err=%v", queued, err)
	}
	queued, err = dir.Remove(ctx, "boss", "line-1", "u-8")
	if err != nil || !queued {
		t.Fatalf("expected queued removal, got queued=%v err=%v", queued, err)
	}

	pending, err := store.Mutations(ctx)
	if err != nil {
		t.Fatalf("Mutations failed: %v", err)
	}
	if len(pending) != 2 || pending[0].Kind != queue.MutationAddMember || pending[1].Kind != queue.MutationRemoveMember {
		t.Fatalf("unexpected queued mutations: %#v", pending)
	}
	if add := pending[0].Mutation.(queue.AddMember); add.Username != "wang" || add.ID == "" {
		t.Fatalf("unexpected queued add: %#v", add)
	}
	if n := fake.Count(testsupport.OpInsert) + fake.Count(testsupport.OpDelete); n != 0 {
		t.Fatalf("offline changes must not reach the backend, got %d writes", n)
	}
}
