package store

import (
	"context"
	"testing"
)

func TestPermissionRegistry_AddIsIdempotent(t *testing.T) {
	t.Parallel()
	r := NewPermissionRegistry(testDB(t), nil)
	ctx := context.Background()

	if err := r.Add(ctx, "user-1", "cli"); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := r.Add(ctx, "user-1", "user-9"); err != nil {
		t.Fatalf("second Add() error: %v", err)
	}

	users, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(users))
	}
	// The original grant wins; re-adding must not overwrite it.
	if users[0].AddedBy != "cli" {
		t.Errorf("AddedBy = %q, want %q", users[0].AddedBy, "cli")
	}

	permitted, err := r.IsPermitted(ctx, "user-1")
	if err != nil {
		t.Fatalf("IsPermitted() error: %v", err)
	}
	if !permitted {
		t.Error("IsPermitted() = false for added user")
	}
}

func TestPermissionRegistry_UnknownUser(t *testing.T) {
	t.Parallel()
	r := NewPermissionRegistry(testDB(t), nil)

	permitted, err := r.IsPermitted(context.Background(), "stranger")
	if err != nil {
		t.Fatalf("IsPermitted() error: %v", err)
	}
	if permitted {
		t.Error("IsPermitted() = true for unknown user")
	}
}
