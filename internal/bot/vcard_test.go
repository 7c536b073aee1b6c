package bot

import (
	"context"
	"testing"

	"github.com/meszmate/xmppgate/internal/storage/sqlite"
	xmppc "github.com/meszmate/xmppgate/internal/xmpp"
	"github.com/meszmate/xmppgate/internal/xmpp/vcard"
)

func ptrVCard(v sqlite.VCard) *sqlite.VCard {
	return &v
}

func emptyCard() *vcard.Card {
	return &vcard.Card{}
}

func cardWithFN(fn string) *vcard.Card {
	return &vcard.Card{FN: fn}
}

func TestFetchVCardTimeoutMeansNoData(t *testing.T) {
	s, fc := newTestSession(t)
	fc.iqFn = func(iq *xmppc.IQ) (*xmppc.IQ, error) {
		return nil, context.DeadlineExceeded
	}

	card, err := s.fetchVCard(context.Background(), "")
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if !card.Empty() {
		t.Fatalf("timeout must yield an empty card, got %+v", card)
	}
}

func TestFetchVCardErrorReplyMeansNoData(t *testing.T) {
	s, fc := newTestSession(t)
	fc.iqFn = func(iq *xmppc.IQ) (*xmppc.IQ, error) {
		return &xmppc.IQ{ID: iq.ID, Type: xmppc.IQError}, nil
	}

	card, err := s.fetchVCard(context.Background(), "bob@example.com")
	if err != nil {
		t.Fatalf("error reply must not fail the fetch: %v", err)
	}
	if !card.Empty() {
		t.Fatal("error reply must yield an empty card")
	}
}

func TestSetVCardFieldMergesAndCaches(t *testing.T) {
	s, fc := newTestSession(t)

	var pushed *vcard.Card
	fc.iqFn = func(iq *xmppc.IQ) (*xmppc.IQ, error) {
		if iq.Type == xmppc.IQGet {
			return &xmppc.IQ{
				ID:    iq.ID,
				Type:  xmppc.IQResult,
				VCard: &vcard.Card{FN: "Old Name", URL: "https://example.com"},
			}, nil
		}
		pushed = iq.VCard
		return &xmppc.IQ{ID: iq.ID, Type: xmppc.IQResult}, nil
	}

	if err := s.setVCardField(context.Background(), "nickname", "gw"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if pushed == nil {
		t.Fatal("no vCard was pushed")
	}
	if pushed.FN != "Old Name" || pushed.URL != "https://example.com" {
		t.Fatalf("merge must preserve existing fields, got %+v", pushed)
	}
	if pushed.Nickname != "gw" {
		t.Fatalf("expected updated nickname, got %q", pushed.Nickname)
	}

	cached, err := s.store.GetVCard(testAccount)
	if err != nil || cached == nil {
		t.Fatalf("expected cached vCard: %v", err)
	}
	if cached.FN != "Old Name" || cached.Nickname != "gw" {
		t.Fatalf("cache must mirror the accepted card, got %+v", cached)
	}
}

func TestSetVCardFieldRejectedNotCached(t *testing.T) {
	s, fc := newTestSession(t)
	fc.iqFn = func(iq *xmppc.IQ) (*xmppc.IQ, error) {
		if iq.Type == xmppc.IQGet {
			return &xmppc.IQ{ID: iq.ID, Type: xmppc.IQResult, VCard: emptyCard()}, nil
		}
		return &xmppc.IQ{ID: iq.ID, Type: xmppc.IQError}, nil
	}

	if err := s.setVCardField(context.Background(), "fn", "New Name"); err == nil {
		t.Fatal("rejected update must surface an error")
	}

	cached, err := s.store.GetVCard(testAccount)
	if err != nil {
		t.Fatalf("failed to read cache: %v", err)
	}
	if cached != nil {
		t.Fatal("rejected update must not touch the cache")
	}
}

func TestSetVCardFieldUnknownField(t *testing.T) {
	s, _ := newTestSession(t)

	if err := s.setVCardField(context.Background(), "shoe-size", "44"); err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestCardStoreRoundTrip(t *testing.T) {
	c := &vcard.Card{
		FN:       "Gateway Bot",
		Nickname: "gw",
		URL:      "https://example.com",
		Desc:     "a bridge",
		Photo:    &vcard.Photo{Type: "image/png", ExtVal: "https://example.com/a.png"},
	}

	back := cardFromStore(ptrVCard(cardToStore(c)))
	if back.FN != c.FN || back.Nickname != c.Nickname || back.URL != c.URL || back.Desc != c.Desc {
		t.Fatalf("round trip lost fields: %+v", back)
	}
	if back.Photo == nil || back.Photo.ExtVal != c.Photo.ExtVal || back.Photo.Type != c.Photo.Type {
		t.Fatalf("round trip lost photo: %+v", back.Photo)
	}
}
