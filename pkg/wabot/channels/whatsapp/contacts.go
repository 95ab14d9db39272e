package whatsapp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.mau.fi/whatsmeow/types"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
)

// SelfID returns the connected account's identifier, or "" before login.
func (w *WhatsApp) SelfID() string {
	if w.client == nil || w.client.Store == nil || w.client.Store.ID == nil {
		return ""
	}
	return w.client.Store.ID.ToNonAD().String()
}

// Contacts lists the address book kept in the session store, sorted by ID.
func (w *WhatsApp) Contacts(ctx context.Context) ([]channels.Contact, error) {
	if w.client == nil || w.client.Store == nil || w.client.Store.Contacts == nil {
		return nil, channels.ErrNotConnected
	}

	all, err := w.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading contacts: %w", err)
	}

	out := make([]channels.Contact, 0, len(all))
	for jid, info := range all {
		out = append(out, channels.Contact{
			ID:      jid.ToNonAD().String(),
			Name:    contactName(info),
			IsGroup: jid.Server == types.GroupServer,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func contactName(info types.ContactInfo) string {
	for _, name := range []string{info.FullName, info.FirstName, info.PushName, info.BusinessName} {
		if name != "" {
			return name
		}
	}
	return ""
}

// GroupParticipants lists the members of a group chat.
func (w *WhatsApp) GroupParticipants(ctx context.Context, groupID string) ([]string, error) {
	if !w.IsConnected() {
		return nil, channels.ErrNotConnected
	}

	jid, err := parseJID(groupID)
	if err != nil {
		return nil, err
	}
	if jid.Server != types.GroupServer {
		return nil, fmt.Errorf("%s is not a group", groupID)
	}

	info, err := w.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("getting group info: %w", err)
	}

	members := make([]string, 0, len(info.Participants))
	for _, p := range info.Participants {
		member := p.JID
		if member.Server == types.HiddenUserServer && !p.PhoneNumber.IsEmpty() {
			member = p.PhoneNumber
		}
		members = append(members, member.ToNonAD().String())
	}
	return members, nil
}

// SaveContact stores name for id in the session's contact store.
func (w *WhatsApp) SaveContact(ctx context.Context, id, name string) error {
	if w.client == nil || w.client.Store == nil || w.client.Store.Contacts == nil {
		return channels.ErrNotConnected
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("empty contact name for %s", id)
	}

	jid, err := parseJID(id)
	if err != nil {
		return err
	}

	first, _, _ := strings.Cut(name, " ")
	if err := w.client.Store.Contacts.PutContactName(ctx, jid.ToNonAD(), name, first); err != nil {
		return fmt.Errorf("saving contact: %w", err)
	}
	return nil
}

// SetStatusMessage updates the profile "about" text.
func (w *WhatsApp) SetStatusMessage(ctx context.Context, text string) error {
	if !w.IsConnected() {
		return channels.ErrNotConnected
	}
	if err := w.client.SetStatusMessage(ctx, text); err != nil {
		return fmt.Errorf("setting status message: %w", err)
	}
	return nil
}
