package imap

import (
	"testing"
	"time"

	"github.com/gvso/nolas/internal/testutil"
)

func TestSearchNewUIDs(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()
	server.EnsureINBOX(t)

	now := time.Now()
	uid1 := server.AddMessage(t, "INBOX", "<new1@test>", "First", "from@test.com", "to@test.com", now.Add(-2*time.Hour))
	uid2 := server.AddMessage(t, "INBOX", "<new2@test>", "Second", "from@test.com", "to@test.com", now.Add(-time.Hour))
	uid3 := server.AddMessage(t, "INBOX", "<new3@test>", "Third", "from@test.com", "to@test.com", now)

	client, cleanup := server.Connect(t)
	defer cleanup()
	if _, err := client.Select("INBOX", false); err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}

	t.Run("returns only UIDs above the cursor, ascending", func(t *testing.T) {
		uids, err := SearchNewUIDs(client, uid1)
		if err != nil {
			t.Fatalf("SearchNewUIDs failed: %v", err)
		}
		if len(uids) != 2 || uids[0] != uid2 || uids[1] != uid3 {
			t.Errorf("Expected [%d %d], got %v", uid2, uid3, uids)
		}
	})

	t.Run("empty when the cursor is at the newest message", func(t *testing.T) {
		// The range n:* resolves to the highest UID even when n is past
		// it, so an up-to-date cursor must yield nothing.
		uids, err := SearchNewUIDs(client, uid3)
		if err != nil {
			t.Fatalf("SearchNewUIDs failed: %v", err)
		}
		if len(uids) != 0 {
			t.Errorf("Expected no UIDs, got %v", uids)
		}
	})
}

func TestFetchEnvelopes(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()
	server.EnsureINBOX(t)

	uid1 := server.AddMessage(t, "INBOX", "<env1@test>", "Hello", "alice@test.com", "bob@test.com", time.Now())
	uid2 := server.AddMessage(t, "INBOX", "<env2@test>", "World", "alice@test.com", "bob@test.com", time.Now())

	client, cleanup := server.Connect(t)
	defer cleanup()
	if _, err := client.Select("INBOX", false); err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}

	messages, err := FetchEnvelopes(client, []uint32{uid2, uid1})
	if err != nil {
		t.Fatalf("FetchEnvelopes failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}

	// Ascending UID order regardless of request order.
	if messages[0].Uid != uid1 || messages[1].Uid != uid2 {
		t.Errorf("Expected UIDs [%d %d], got [%d %d]", uid1, uid2, messages[0].Uid, messages[1].Uid)
	}
	if messages[0].Envelope == nil || messages[0].Envelope.Subject != "Hello" {
		t.Errorf("Expected subject Hello, got %+v", messages[0].Envelope)
	}
	if messages[1].Envelope.MessageId != "<env2@test>" {
		t.Errorf("Expected message id <env2@test>, got %q", messages[1].Envelope.MessageId)
	}
}

func TestFetchEnvelopesEmptyInput(t *testing.T) {
	if _, err := FetchEnvelopes(nil, nil); err == nil {
		t.Error("Expected error for nil client")
	}

	server := testutil.NewTestIMAPServer(t)
	defer server.Close()
	client, cleanup := server.Connect(t)
	defer cleanup()

	messages, err := FetchEnvelopes(client, nil)
	if err != nil {
		t.Fatalf("FetchEnvelopes with no UIDs failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("Expected no messages, got %d", len(messages))
	}
}
