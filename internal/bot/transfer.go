package bot

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	xmppc "github.com/meszmate/xmppgate/internal/xmpp"
	"github.com/meszmate/xmppgate/internal/xmpp/ibb"
	"github.com/meszmate/xmppgate/internal/xmpp/upload"
)

// ibbBlockSize is the chunk size for outbound IBB streams.
const ibbBlockSize = 4096

func (s *Session) handleIQ(iq *xmppc.IQ) {
	switch {
	case iq.Type == xmppc.IQSet && iq.SI != nil:
		s.handleSIOffer(iq)
	case iq.Type == xmppc.IQSet && iq.Open != nil:
		s.handleIBBOpen(iq)
	case iq.Type == xmppc.IQSet && iq.Data != nil:
		s.handleIBBData(iq)
	case iq.Type == xmppc.IQSet && iq.Close != nil:
		s.handleIBBClose(iq)
	case iq.Type == xmppc.IQGet && iq.VCard != nil:
		s.handleVCardRequest(iq)
	case iq.Type == xmppc.IQResult || iq.Type == xmppc.IQError:
		// Uncorrelated responses carry nothing we act on.
		s.log.Debug("unmatched iq %s from %s", iq.Type, iq.From)
	default:
		// Explicitly declined: unknown payloads fall through without
		// side effects.
		s.log.Debug("ignoring iq %s from %s", iq.Type, iq.From)
	}
}

// sendIQError answers an IQ with a standards-shaped error condition.
func (s *Session) sendIQError(iq *xmppc.IQ, errType stanza.ErrorType, cond stanza.Condition) {
	ctx, cancel := context.WithTimeout(context.Background(), s.iqTimeout)
	defer cancel()

	out := &xmppc.IQ{
		ID:    iq.ID,
		To:    iq.From,
		Type:  xmppc.IQError,
		Error: &stanza.Error{Type: errType, Condition: cond},
	}
	if err := s.conn.Send(ctx, out); err != nil {
		s.log.Warn("failed to send iq error to %s: %v", iq.From, err)
	}
}

func (s *Session) sendIQResult(iq *xmppc.IQ, payload *xmppc.IQ) {
	ctx, cancel := context.WithTimeout(context.Background(), s.iqTimeout)
	defer cancel()

	out := payload
	if out == nil {
		out = &xmppc.IQ{}
	}
	out.ID = iq.ID
	out.To = iq.From
	out.Type = xmppc.IQResult
	if err := s.conn.Send(ctx, out); err != nil {
		s.log.Warn("failed to send iq result to %s: %v", iq.From, err)
	}
}

// handleSIOffer screens a stream initiation offer and accepts it when IBB
// is among the proposed methods.
func (s *Session) handleSIOffer(iq *xmppc.IQ) {
	si := iq.SI
	if si.SID == "" {
		s.sendIQError(iq, stanza.Modify, stanza.BadRequest)
		return
	}
	if si.File == nil || si.File.Size > s.maxInbound {
		s.log.Warn("rejecting oversized or fileless SI offer from %s", iq.From)
		s.sendIQError(iq, stanza.Modify, stanza.NotAcceptable)
		return
	}
	if !offersIBB(si) {
		s.sendIQError(iq, stanza.Cancel, stanza.FeatureNotImplemented)
		return
	}

	s.ibb.Create(si.SID, iq.From, si.File.Name, si.File.Size)
	s.log.Info("accepted SI offer %s from %s (%s, %d bytes)",
		si.SID, iq.From, si.File.Name, si.File.Size)

	s.sendIQResult(iq, &xmppc.IQ{
		SI: &xmppc.SI{
			Feature: &xmppc.FeatureNeg{
				Form: &xmppc.Form{
					Type: "submit",
					Fields: []xmppc.FormField{{
						Var:    "stream-method",
						Values: []string{xmppc.IBBNamespace},
					}},
				},
			},
		},
	})
}

func offersIBB(si *xmppc.SI) bool {
	if si.Feature == nil || si.Feature.Form == nil {
		return false
	}
	for _, f := range si.Feature.Form.Fields {
		if f.Var != "stream-method" {
			continue
		}
		for _, opt := range f.Options {
			if opt.Value == xmppc.IBBNamespace {
				return true
			}
		}
		for _, v := range f.Values {
			if v == xmppc.IBBNamespace {
				return true
			}
		}
	}
	return false
}

func (s *Session) handleIBBOpen(iq *xmppc.IQ) {
	if s.ibb.Get(iq.Open.SID) == nil {
		s.sendIQError(iq, stanza.Cancel, stanza.ItemNotFound)
		return
	}
	s.sendIQResult(iq, nil)
}

func (s *Session) handleIBBData(iq *xmppc.IQ) {
	sess := s.ibb.Get(iq.Data.SID)
	if sess == nil {
		// A chunk for an unknown stream is a protocol error, never
		// silently dropped.
		s.sendIQError(iq, stanza.Cancel, stanza.ItemNotFound)
		return
	}

	chunk, err := base64.StdEncoding.DecodeString(iq.Data.Payload)
	if err != nil {
		s.sendIQError(iq, stanza.Modify, stanza.BadRequest)
		return
	}

	// Duplicated or reordered chunks corrupt the assembled file.
	if !sess.AcceptSeq(iq.Data.Seq) {
		s.sendIQError(iq, stanza.Modify, stanza.UnexpectedRequest)
		return
	}

	sess.Append(chunk)
	s.sendIQResult(iq, nil)

	if sess.Complete() {
		s.finishTransfer(sess)
		s.ibb.Delete(sess.SID)
	}
}

func (s *Session) handleIBBClose(iq *xmppc.IQ) {
	sess := s.ibb.Get(iq.Close.SID)
	if sess == nil {
		s.sendIQError(iq, stanza.Cancel, stanza.ItemNotFound)
		return
	}

	s.sendIQResult(iq, nil)

	// Flush whatever arrived, complete or not.
	if sess.Received() > 0 {
		s.finishTransfer(sess)
	}
	s.ibb.Delete(sess.SID)
}

// finishTransfer persists a received stream and hands the file to the
// host when the sender is a contact.
func (s *Session) finishTransfer(sess *ibb.Session) {
	saved, err := sess.SaveTo(s.downloadDir)
	if err != nil {
		s.log.Error("failed to save transfer %s: %v", sess.SID, err)
		return
	}
	s.log.Info("saved transfer %s to %s (%d bytes)", sess.SID, saved, sess.Received())

	from, err := jid.Parse(sess.From)
	if err != nil {
		return
	}
	bare := from.Bare().String()
	if !s.directory.IsContact(bare) {
		return
	}
	s.forward(&xmppc.Message{From: sess.From}, bare, []string{saved})
}

// collectMedia resolves a jabber:x:oob attachment: best effort download
// to local storage, degrading to the remote URL when the fetch fails.
func (s *Session) collectMedia(m *xmppc.Message) []string {
	if m.OOB == nil || m.OOB.URL == "" {
		return nil
	}

	local, err := s.downloadOOB(m.OOB.URL)
	if err != nil {
		s.log.Warn("failed to download %s: %v", m.OOB.URL, err)
		return []string{m.OOB.URL}
	}
	return []string{local}
}

func (s *Session) downloadOOB(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	resp, err := s.httpc.Get(rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	name := ibb.SanitizeFilename(path.Base(u.Path))
	dest := filepath.Join(s.downloadDir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), name))

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}

// SendFile delivers a local file to a peer: HTTP upload first, SI/IBB as
// the fallback. Both failing surfaces a combined reason.
func (s *Session) SendFile(ctx context.Context, to, filePath, text string) error {
	getURL, upErr := s.uploadFile(ctx, filePath)
	if upErr == nil {
		msg := &xmppc.Message{
			To:   to,
			Type: "chat",
			Body: text,
			OOB:  &xmppc.OOB{URL: getURL, Desc: text},
		}
		if err := s.conn.Send(ctx, msg); err != nil {
			return fmt.Errorf("failed to send file message: %w", err)
		}
		return nil
	}

	s.log.Warn("http upload failed, falling back to SI: %v", upErr)
	if siErr := s.sendFileSI(ctx, to, filePath, text); siErr != nil {
		return fmt.Errorf("http upload failed (%v); si fallback failed: %w", upErr, siErr)
	}
	return nil
}

// uploadFile requests an XEP-0363 slot and PUTs the file.
func (s *Session) uploadFile(ctx context.Context, filePath string) (string, error) {
	stat, err := os.Stat(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	service := s.cfg.UploadService
	if service == "" {
		service = "upload." + s.domain()
	}

	req := &xmppc.IQ{
		ID:   xmppc.NewID(),
		To:   service,
		Type: xmppc.IQGet,
		UploadRequest: &xmppc.UploadRequest{
			Filename:    filepath.Base(filePath),
			Size:        stat.Size(),
			ContentType: upload.MimeType(filePath),
		},
	}

	reply, err := s.conn.RequestIQ(ctx, req)
	if err != nil {
		return "", fmt.Errorf("slot request failed: %w", err)
	}
	if reply.Type == xmppc.IQError || reply.UploadSlot == nil {
		return "", fmt.Errorf("upload service refused slot request")
	}

	slot := &upload.Slot{}
	if reply.UploadSlot.Put != nil {
		slot.PutURL = reply.UploadSlot.Put.URL
		if len(reply.UploadSlot.Put.Headers) > 0 {
			slot.Headers = make(map[string]string, len(reply.UploadSlot.Put.Headers))
			for _, h := range reply.UploadSlot.Put.Headers {
				slot.Headers[h.Name] = h.Value
			}
		}
	}
	if reply.UploadSlot.Get != nil {
		slot.GetURL = reply.UploadSlot.Get.URL
	}

	return s.uploader.Put(ctx, filePath, slot)
}

// sendFileSI negotiates a stream initiation offer and pushes the file
// through an in-band bytestream.
func (s *Session) sendFileSI(ctx context.Context, to, filePath, text string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	sid := xmppc.NewID()
	offer := &xmppc.IQ{
		ID:   xmppc.NewID(),
		To:   to,
		Type: xmppc.IQSet,
		SI: &xmppc.SI{
			SID:      sid,
			Profile:  xmppc.FileTransferProfile,
			MimeType: upload.MimeType(filePath),
			File: &xmppc.SIFile{
				Name: filepath.Base(filePath),
				Size: int64(len(data)),
				Desc: text,
			},
			Feature: &xmppc.FeatureNeg{
				Form: &xmppc.Form{
					Type: "form",
					Fields: []xmppc.FormField{{
						Var:     "stream-method",
						Type:    "list-single",
						Options: []xmppc.FormOption{{Value: xmppc.IBBNamespace}},
					}},
				},
			},
		},
	}

	accept, err := s.conn.RequestIQ(ctx, offer)
	if err != nil {
		return fmt.Errorf("si offer failed: %w", err)
	}
	if accept.Type == xmppc.IQError {
		return fmt.Errorf("peer declined si offer")
	}

	open := &xmppc.IQ{
		ID:   xmppc.NewID(),
		To:   to,
		Type: xmppc.IQSet,
		Open: &xmppc.IBBOpen{SID: sid, BlockSize: ibbBlockSize},
	}
	if reply, err := s.conn.RequestIQ(ctx, open); err != nil {
		return fmt.Errorf("ibb open failed: %w", err)
	} else if reply.Type == xmppc.IQError {
		return fmt.Errorf("peer refused ibb open")
	}

	var seq uint16
	for off := 0; off < len(data); off += ibbBlockSize {
		end := off + ibbBlockSize
		if end > len(data) {
			end = len(data)
		}
		chunk := &xmppc.IQ{
			ID:   xmppc.NewID(),
			To:   to,
			Type: xmppc.IQSet,
			Data: &xmppc.IBBData{
				SID:     sid,
				Seq:     seq,
				Payload: base64.StdEncoding.EncodeToString(data[off:end]),
			},
		}
		if reply, err := s.conn.RequestIQ(ctx, chunk); err != nil {
			return fmt.Errorf("ibb data chunk %d failed: %w", seq, err)
		} else if reply.Type == xmppc.IQError {
			return fmt.Errorf("peer rejected ibb data chunk %d", seq)
		}
		seq++
	}

	closeIQ := &xmppc.IQ{
		ID:    xmppc.NewID(),
		To:    to,
		Type:  xmppc.IQSet,
		Close: &xmppc.IBBClose{SID: sid},
	}
	if _, err := s.conn.RequestIQ(ctx, closeIQ); err != nil {
		return fmt.Errorf("ibb close failed: %w", err)
	}
	return nil
}
