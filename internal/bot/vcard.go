package bot

import (
	"context"
	"errors"
	"fmt"

	xmppc "github.com/meszmate/xmppgate/internal/xmpp"
	"github.com/meszmate/xmppgate/internal/storage/sqlite"
	"github.com/meszmate/xmppgate/internal/xmpp/vcard"
)

// fetchVCard retrieves a vCard from the server. An empty target queries
// the session's own card (no "to" attribute). A timed-out wait is "no
// data", not an error.
func (s *Session) fetchVCard(ctx context.Context, target string) (*vcard.Card, error) {
	iq := &xmppc.IQ{
		ID:    xmppc.NewID(),
		Type:  xmppc.IQGet,
		VCard: &vcard.Card{},
	}
	if target != "" {
		iq.To = target
	}

	reply, err := s.conn.RequestIQ(ctx, iq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &vcard.Card{}, nil
		}
		return nil, err
	}
	if reply.Type == xmppc.IQError || reply.VCard == nil {
		return &vcard.Card{}, nil
	}
	return reply.VCard, nil
}

// setVCardField merges a single field into the server-held vCard and,
// only on a successful write, mirrors the result into the local cache.
func (s *Session) setVCardField(ctx context.Context, field, value string) error {
	card, err := s.fetchVCard(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to fetch current vCard: %w", err)
	}

	if err := card.Set(field, value); err != nil {
		return err
	}

	set := &xmppc.IQ{
		ID:    xmppc.NewID(),
		Type:  xmppc.IQSet,
		VCard: card,
	}
	reply, err := s.conn.RequestIQ(ctx, set)
	if err != nil {
		return fmt.Errorf("failed to push vCard: %w", err)
	}
	if reply.Type == xmppc.IQError {
		return fmt.Errorf("server rejected vCard update")
	}

	// The server accepted the write; the cache may now mirror it.
	if err := s.store.SaveVCard(s.account, cardToStore(card)); err != nil {
		s.log.Warn("failed to cache vCard: %v", err)
	}
	return nil
}

// handleVCardRequest answers a peer asking for our vCard from the local
// cache.
func (s *Session) handleVCardRequest(iq *xmppc.IQ) {
	cached, err := s.store.GetVCard(s.account)
	if err != nil {
		s.log.Warn("failed to load cached vCard: %v", err)
	}
	card := cardFromStore(cached)
	s.sendIQResult(iq, &xmppc.IQ{VCard: card})
}

// seedVCard pushes the configured vCard defaults once, when the server
// holds no card yet.
func (s *Session) seedVCard() {
	defaults := s.cfg.VCard
	if defaults.FN == "" && defaults.Nickname == "" && defaults.URL == "" && defaults.Desc == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.iqTimeout)
	defer cancel()

	current, err := s.fetchVCard(ctx, "")
	if err != nil || !current.Empty() {
		return
	}

	card := &vcard.Card{
		FN:       defaults.FN,
		Nickname: defaults.Nickname,
		URL:      defaults.URL,
		Desc:     defaults.Desc,
	}
	set := &xmppc.IQ{ID: xmppc.NewID(), Type: xmppc.IQSet, VCard: card}
	reply, err := s.conn.RequestIQ(ctx, set)
	if err != nil || reply.Type == xmppc.IQError {
		s.log.Warn("failed to seed vCard defaults")
		return
	}
	if err := s.store.SaveVCard(s.account, cardToStore(card)); err != nil {
		s.log.Warn("failed to cache vCard: %v", err)
	}
	s.log.Info("seeded vCard defaults")
}

func cardToStore(c *vcard.Card) sqlite.VCard {
	v := sqlite.VCard{
		FN:       c.FN,
		Nickname: c.Nickname,
		URL:      c.URL,
		Desc:     c.Desc,
	}
	if c.Photo != nil {
		v.AvatarURL = c.Photo.ExtVal
		v.AvatarMime = c.Photo.Type
		if c.Photo.BinVal != "" {
			v.AvatarData = []byte(c.Photo.BinVal)
		}
	}
	return v
}

func cardFromStore(v *sqlite.VCard) *vcard.Card {
	if v == nil {
		return &vcard.Card{}
	}
	c := &vcard.Card{
		FN:       v.FN,
		Nickname: v.Nickname,
		URL:      v.URL,
		Desc:     v.Desc,
	}
	if v.AvatarURL != "" || v.AvatarMime != "" || len(v.AvatarData) > 0 {
		c.Photo = &vcard.Photo{
			ExtVal: v.AvatarURL,
			Type:   v.AvatarMime,
			BinVal: string(v.AvatarData),
		}
	}
	return c
}
