package imap

import (
	"fmt"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// SearchNewUIDs returns the UIDs strictly greater than lastSeen in the
// selected folder, ascending. The UID range n:* matches the highest existing
// UID even when it is below n, so results are filtered again client-side.
func SearchNewUIDs(c *client.Client, lastSeen uint32) ([]uint32, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(lastSeen+1, 0)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search UIDs: %w", err)
	}

	filtered := uids[:0]
	for _, uid := range uids {
		if uid > lastSeen {
			filtered = append(filtered, uid)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i] < filtered[j] })

	return filtered, nil
}

// FetchEnvelopes fetches envelope, flags and internal date for the given
// UIDs, returning messages in ascending UID order.
func FetchEnvelopes(c *client.Client, uids []uint32) ([]*imap.Message, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	if len(uids) == 0 {
		return []*imap.Message{}, nil
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
		imap.FetchInternalDate,
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var result []*imap.Message
	for msg := range messages {
		result = append(result, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Uid < result[j].Uid })

	return result, nil
}
