// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"testing"
)

func TestNoopAuthDefaultsPrincipalToAnonymous(t *testing.T) {
	var id Identity
	if err := (NoopAuth{}).Authenticate(context.Background(), "", nil, &id); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.Principal != "anonymous" {
		t.Fatalf("expected anonymous principal, got %q", id.Principal)
	}
}

func TestSharedSecretAuthRejectsWrongToken(t *testing.T) {
	a := &SharedSecretAuth{Secret: "s3cr3t"}
	var id Identity
	if err := a.Authenticate(context.Background(), "token", []byte("wrong"), &id); err == nil {
		t.Fatal("expected mismatched token to be rejected")
	}
}

func TestSharedSecretAuthAcceptsMatchingToken(t *testing.T) {
	a := &SharedSecretAuth{Secret: "s3cr3t"}
	var id Identity
	if err := a.Authenticate(context.Background(), "token", []byte("s3cr3t"), &id); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.Principal != "token-client" {
		t.Fatalf("expected default principal, got %q", id.Principal)
	}
}

func TestSharedSecretAuthorizeLookupEnforcesTopicPrefix(t *testing.T) {
	a := &SharedSecretAuth{
		Secret:          "s3cr3t",
		TopicPrefixACLs: map[string]string{"svc-a": "persistent://tenant/svc-a/"},
	}
	id := Identity{Principal: "svc-a"}

	if err := a.AuthorizeLookup(context.Background(), id, "persistent://tenant/svc-a/orders"); err != nil {
		t.Fatalf("expected topic under the allowed prefix to be authorized, got %v", err)
	}
	if err := a.AuthorizeLookup(context.Background(), id, "persistent://tenant/svc-b/orders"); err == nil {
		t.Fatal("expected topic outside the allowed prefix to be rejected")
	}
}
